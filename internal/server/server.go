// Package server implements the Hookrelay intake HTTP server. It owns
// the request boundary: decoding and validating payloads, rate
// limiting, and translating dispatch aggregates into JSON responses.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/time/rate"

	"github.com/luckyPipewrench/hookrelay/internal/audit"
	"github.com/luckyPipewrench/hookrelay/internal/config"
	"github.com/luckyPipewrench/hookrelay/internal/dispatch"
	"github.com/luckyPipewrench/hookrelay/internal/event"
	"github.com/luckyPipewrench/hookrelay/internal/metrics"
)

// Version is set at build time via ldflags.
var Version = "0.1.0-dev"

// maxBodyBytes caps inbound request bodies. Webhook payloads are tiny;
// anything near a megabyte is abuse.
const maxBodyBytes = 1 << 20

// Server is the Hookrelay intake HTTP server.
type Server struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	logger     *audit.Logger
	metrics    *metrics.Metrics
	limiter    *clientLimiter // nil when rate limiting disabled
	server     *http.Server
	startTime  time.Time
}

// IntakeResponse is the JSON response returned by the intake endpoints.
type IntakeResponse struct {
	Status    string                      `json:"status"`
	RequestID string                      `json:"request_id,omitempty"`
	Error     string                      `json:"message,omitempty"`
	Sinks     map[string]dispatch.Outcome `json:"sinks,omitempty"`
	Channels  map[string]dispatch.Outcome `json:"channels,omitempty"`
}

// New creates an intake server from config.
func New(cfg *config.Config, d *dispatch.Dispatcher, logger *audit.Logger, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		logger:     logger,
		metrics:    m,
		startTime:  time.Now(),
	}
	if cfg.Limits.MaxRequestsPerMinute > 0 {
		s.limiter = newClientLimiter(cfg.Limits.MaxRequestsPerMinute)
	}
	return s
}

// Handler builds the route mux. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.intakeHandler("/webhook", event.KindWebhook))
	mux.HandleFunc("/relay", s.intakeHandler("/relay", event.KindRelay))
	// Historical alias kept for deployments that still post here.
	mux.HandleFunc("/telegram", s.intakeHandler("/telegram", event.KindRelay))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/debug/config", s.handleDebugConfig)
	mux.Handle("/metrics", s.metrics.PrometheusHandler())
	mux.HandleFunc("/stats", s.metrics.StatsHandler())
	return mux
}

// Start starts the intake HTTP server. It blocks until the context is
// cancelled or the server encounters a fatal error.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second, // Slowloris protection
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on context cancellation. The done channel lets
	// this goroutine exit if ListenAndServe fails immediately (e.g.
	// address already in use).
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.logger.LogShutdown("context cancelled")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(shutdownCtx)
		case <-done:
		}
	}()

	s.logger.LogStartup(s.cfg.Listen)

	err := s.server.ListenAndServe()
	close(done) // unblock shutdown goroutine if server failed immediately
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// intakeHandler builds the handler for one intake route. Both routes
// share the same pipeline; they differ only in which payload field the
// validator requires.
func (s *Server) intakeHandler(route string, kind event.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := event.ClientIP(r.Header.Get("X-Forwarded-For"), r.RemoteAddr)

		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, IntakeResponse{
				Status: "error",
				Error:  "only POST allowed",
			})
			return
		}

		if s.limiter != nil && !s.limiter.allow(clientIP) {
			s.logger.LogRateLimited(route, clientIP)
			s.metrics.RecordRateLimited()
			writeJSON(w, http.StatusTooManyRequests, IntakeResponse{
				Status: "error",
				Error:  "rate limit exceeded",
			})
			return
		}

		var body map[string]any
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&body); err != nil {
			s.logger.LogRejected(route, fmt.Sprintf("invalid JSON: %v", err), clientIP, "")
			s.metrics.RecordRejected(route)
			writeJSON(w, http.StatusBadRequest, IntakeResponse{
				Status: "error",
				Error:  "invalid JSON body",
			})
			return
		}

		ev, err := event.Validate(kind, body, event.Meta{
			RemoteAddr:   r.RemoteAddr,
			ForwardedFor: r.Header.Get("X-Forwarded-For"),
			UserAgent:    r.Header.Get("User-Agent"),
		})
		if err != nil {
			s.logger.LogRejected(route, err.Error(), clientIP, "")
			s.metrics.RecordRejected(route)
			writeJSON(w, http.StatusBadRequest, IntakeResponse{
				Status: "error",
				Error:  err.Error(),
			})
			return
		}

		s.logger.LogReceived(route, ev.User, ev.ClientIP, ev.UserAgent, ev.ID)

		// A started dispatch runs to completion: the sender hanging up
		// mid-request must not cancel in-flight appends or sends. The
		// per-target timeouts still bound every outbound call.
		dispatchCtx := context.WithoutCancel(r.Context())

		agg, orchErr := s.dispatchSafe(dispatchCtx, ev)
		if orchErr != nil {
			s.logger.LogOrchestrationError(route, clientIP, ev.ID, orchErr)
			s.metrics.RecordError(route)
			sentry.CaptureException(orchErr)
			// Best effort: tell the operator the relay itself is broken.
			s.dispatcher.ReportFailure(dispatchCtx, fmt.Sprintf("hookrelay dispatch failure: %v", orchErr))
			writeJSON(w, http.StatusInternalServerError, IntakeResponse{
				Status:    "error",
				RequestID: ev.ID,
				Error:     "internal dispatch error",
			})
			return
		}

		duration := time.Since(start)
		sinksOK, sinksFailed := dispatch.Counts(agg.Sinks)
		channelsOK, channelsFailed := dispatch.Counts(agg.Channels)
		s.logger.LogDispatched(route, ev.User, ev.ID, sinksOK, sinksFailed, channelsOK, channelsFailed, duration)
		s.metrics.RecordAccepted(route, duration)

		writeJSON(w, http.StatusOK, IntakeResponse{
			Status:    "success",
			RequestID: ev.ID,
			Sinks:     agg.SinkMap(),
			Channels:  agg.ChannelMap(),
		})
	}
}

// dispatchSafe runs one dispatch with a recover barrier. Per-target
// failures are already absorbed inside the dispatcher; this catches
// defects in the orchestration sequence itself so they surface as a
// 500 instead of killing the process.
func (s *Server) dispatchSafe(ctx context.Context, ev *event.Event) (agg *dispatch.Aggregate, err error) {
	defer func() {
		if r := recover(); r != nil {
			agg = nil
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()
	return s.dispatcher.Dispatch(ctx, ev), nil
}

// healthResponse is the JSON response returned by the /health endpoint.
// It reports which capabilities are live without exposing secrets.
type healthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Sinks         struct {
		File   bool `json:"file"`
		Sheets bool `json:"sheets"`
		SQLite bool `json:"sqlite"`
	} `json:"sinks"`
	Channels struct {
		Slack    bool `json:"slack"`
		Discord  bool `json:"discord"`
		Telegram bool `json:"telegram"`
	} `json:"channels"`
	RateLimitEnabled bool `json:"rate_limit_enabled"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:           "ok",
		Version:          Version,
		UptimeSeconds:    time.Since(s.startTime).Seconds(),
		RateLimitEnabled: s.cfg.Limits.MaxRequestsPerMinute > 0,
	}
	resp.Sinks.File = s.cfg.FileSinkEnabled()
	resp.Sinks.Sheets = s.cfg.SheetsConfigured()
	resp.Sinks.SQLite = s.cfg.SQLiteConfigured()
	resp.Channels.Slack = s.cfg.SlackConfigured()
	resp.Channels.Discord = s.cfg.DiscordConfigured()
	resp.Channels.Telegram = s.cfg.TelegramConfigured()
	writeJSON(w, http.StatusOK, resp)
}

// handleDebugConfig returns the resolved configuration with every
// secret masked. Intended for local troubleshooting on the loopback
// listen address.
func (s *Server) handleDebugConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"listen": s.cfg.Listen,
		"sheets": map[string]any{
			"spreadsheet_id":   config.MaskSecret(s.cfg.Sheets.SpreadsheetID),
			"worksheet":        s.cfg.Sheets.Worksheet,
			"credentials_file": s.cfg.Sheets.CredentialsFile,
		},
		"file_sink": map[string]any{
			"enabled":   s.cfg.FileSinkEnabled(),
			"path":      s.cfg.FileSink.Path,
			"max_bytes": s.cfg.FileSink.MaxBytes,
		},
		"sqlite": map[string]any{
			"path": s.cfg.SQLite.Path,
		},
		"channels": map[string]any{
			"slack_webhook_url":   config.MaskSecret(s.cfg.Channels.Slack.WebhookURL),
			"discord_webhook_url": config.MaskSecret(s.cfg.Channels.Discord.WebhookURL),
			"telegram_bot_token":  config.MaskSecret(s.cfg.Channels.Telegram.BotToken),
			"telegram_chat_id":    config.MaskSecret(s.cfg.Channels.Telegram.ChatID),
		},
		"limits": map[string]any{
			"max_requests_per_minute": s.cfg.Limits.MaxRequestsPerMinute,
		},
		"logging": map[string]any{
			"format":           s.cfg.Logging.Format,
			"output":           s.cfg.Logging.Output,
			"include_accepted": s.cfg.IncludeAccepted(),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Best effort: header already sent, log to stderr
		fmt.Fprintf(os.Stderr, "hookrelay: writeJSON encode error: %v\n", err)
	}
}

// clientLimiter enforces a per-client request budget using token
// buckets keyed by client IP.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*rate.Limiter
	perSec  rate.Limit
	burst   int
	maxKeys int
}

func newClientLimiter(perMinute int) *clientLimiter {
	return &clientLimiter{
		clients: make(map[string]*rate.Limiter),
		perSec:  rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
		maxKeys: 4096,
	}
}

// allow reports whether the client may proceed. When the tracked key
// set grows past maxKeys the map is reset; a brief burst allowance for
// returning clients is cheaper than unbounded growth.
func (cl *clientLimiter) allow(clientIP string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	lim, ok := cl.clients[clientIP]
	if !ok {
		if len(cl.clients) >= cl.maxKeys {
			cl.clients = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(cl.perSec, cl.burst)
		cl.clients[clientIP] = lim
	}
	return lim.Allow()
}
