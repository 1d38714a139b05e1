package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/luckyPipewrench/hookrelay/internal/audit"
	"github.com/luckyPipewrench/hookrelay/internal/config"
	"github.com/luckyPipewrench/hookrelay/internal/metrics"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hookrelay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRootCommandStructure(t *testing.T) {
	cmd := rootCmd()
	if cmd.Use != "hookrelay" {
		t.Errorf("Use = %q", cmd.Use)
	}
	want := map[string]bool{"serve": false, "check": false, "healthcheck": false, "version": false}
	for _, sub := range cmd.Commands() {
		name := strings.Fields(sub.Use)[0]
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestCheckValidConfig(t *testing.T) {
	path := writeConfig(t, `
version: 1
listen: "127.0.0.1:9999"
channels:
  slack:
    webhook_url: "https://hooks.slack.example/T/B/x"
`)
	cmd := rootCmd()
	cmd.SetArgs([]string{"check", "--config", path})
	cmd.SetOut(&bytes.Buffer{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("check failed: %v", err)
	}
}

func TestCheckInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
listen: "not-an-address"
`)
	cmd := rootCmd()
	cmd.SetArgs([]string{"check", "--config", path})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestCheckMissingConfigFile(t *testing.T) {
	cmd := rootCmd()
	cmd.SetArgs([]string{"check", "--config", "/nonexistent/hookrelay.yaml"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestVersionOutput(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetArgs([]string{"version"})
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out.String(), "hookrelay version") {
		t.Errorf("output = %q", out.String())
	}
}

func TestBuildSinksAllUnconfigured(t *testing.T) {
	cfg := config.Defaults()
	disabled := false
	cfg.FileSink.Enabled = &disabled

	sinks := buildSinks(context.Background(), cfg, audit.NewNop(), metrics.New())
	if len(sinks) != 3 {
		t.Fatalf("sink count = %d, want 3", len(sinks))
	}
	for _, s := range sinks {
		if s.Configured() {
			t.Errorf("sink %s should be unconfigured", s.Name())
		}
	}
}

func TestBuildSinksFileEnabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.FileSink.Path = filepath.Join(t.TempDir(), "events.csv")

	sinks := buildSinks(context.Background(), cfg, audit.NewNop(), metrics.New())
	if !sinks[0].Configured() || sinks[0].Name() != "file" {
		t.Errorf("first sink = %s configured=%v", sinks[0].Name(), sinks[0].Configured())
	}
}

func TestBuildSinksSQLite(t *testing.T) {
	cfg := config.Defaults()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "events.db")

	sinks := buildSinks(context.Background(), cfg, audit.NewNop(), metrics.New())
	var found bool
	for _, s := range sinks {
		if s.Name() == "sqlite" && s.Configured() {
			found = true
			_ = s.Close()
		}
	}
	if !found {
		t.Error("sqlite sink should be configured")
	}
}

func TestBuildChannels(t *testing.T) {
	cfg := config.Defaults()
	cfg.Channels.Discord.WebhookURL = "https://discord.example/api/webhooks/1/x"

	channels := buildChannels(cfg)
	if len(channels) != 3 {
		t.Fatalf("channel count = %d, want 3", len(channels))
	}
	byName := map[string]bool{}
	for _, c := range channels {
		byName[c.Name()] = c.Configured()
	}
	if byName["slack"] || !byName["discord"] || byName["telegram"] {
		t.Errorf("configured map = %v", byName)
	}
}
