// Package audit provides structured JSON logging for all Hookrelay events.
package audit

import (
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
)

// sanitizeString strips control characters and ANSI escape sequences from a
// string before logging. Prevents terminal escape injection via crafted
// payload fields (e.g., \x1b[2J to clear screen when tailing logs).
func sanitizeString(s string) string {
	// Fast path: most strings have no control characters.
	clean := true
	for _, r := range s {
		if r != '\t' && r != '\n' && (unicode.IsControl(r) || r == '\x1b') {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inEscape := false
	for _, r := range s {
		if inEscape {
			// ANSI escape sequences end with a letter (A-Z, a-z).
			if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
				inEscape = false
			}
			continue
		}
		if r == '\x1b' {
			inEscape = true
			continue
		}
		// Allow tabs and newlines but strip other control chars.
		if r != '\t' && r != '\n' && unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EventType describes the kind of audit event.
type EventType string

// Event type constants for structured log entries.
const (
	EventReceived           EventType = "received"
	EventRejected           EventType = "rejected"
	EventDispatched         EventType = "dispatched"
	EventSinkError          EventType = "sink_error"
	EventSinkSkipped        EventType = "sink_skipped"
	EventChannelError       EventType = "channel_error"
	EventChannelSkipped     EventType = "channel_skipped"
	EventRotation           EventType = "rotation"
	EventRotationError      EventType = "rotation_error"
	EventRateLimited        EventType = "rate_limited"
	EventOrchestrationError EventType = "orchestration_error"
)

// Logger handles structured audit logging using zerolog.
type Logger struct {
	zl              zerolog.Logger
	includeAccepted bool
	fileHandle      *os.File // non-nil if logging to file
}

// New creates a new audit logger. The caller should call Close when done.
func New(format, output, filePath string, includeAccepted bool) (*Logger, error) {
	var writers []io.Writer

	if output == "stdout" || output == "both" {
		if format == "text" {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		} else {
			writers = append(writers, os.Stdout)
		}
	}

	var fileHandle *os.File
	if output == "file" || output == "both" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // G304: path validated by config layer
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		fileHandle = f
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(w).With().
		Timestamp().
		Str("component", "hookrelay").
		Logger()

	return &Logger{
		zl:              zl,
		includeAccepted: includeAccepted,
		fileHandle:      fileHandle,
	}, nil
}

// NewNop returns a no-op logger that discards all events.
func NewNop() *Logger {
	return &Logger{
		zl: zerolog.Nop(),
	}
}

// LogReceived logs an inbound event that passed validation.
func (l *Logger) LogReceived(route, user, clientIP, userAgent, requestID string) {
	if !l.includeAccepted {
		return
	}
	l.zl.Info().
		Str("event", string(EventReceived)).
		Str("route", route).
		Str("user", sanitizeString(user)).
		Str("client_ip", clientIP).
		Str("user_agent", sanitizeString(userAgent)).
		Str("request_id", requestID).
		Msg("event received")
}

// LogRejected logs an inbound payload that failed validation.
func (l *Logger) LogRejected(route, reason, clientIP, requestID string) {
	l.zl.Warn().
		Str("event", string(EventRejected)).
		Str("route", route).
		Str("reason", sanitizeString(reason)).
		Str("client_ip", clientIP).
		Str("request_id", requestID).
		Msg("event rejected")
}

// LogDispatched logs the aggregate outcome of one dispatch.
func (l *Logger) LogDispatched(route, user, requestID string, sinksOK, sinksFailed, channelsOK, channelsFailed int, duration time.Duration) {
	if !l.includeAccepted {
		return
	}
	l.zl.Info().
		Str("event", string(EventDispatched)).
		Str("route", route).
		Str("user", sanitizeString(user)).
		Str("request_id", requestID).
		Int("sinks_ok", sinksOK).
		Int("sinks_failed", sinksFailed).
		Int("channels_ok", channelsOK).
		Int("channels_failed", channelsFailed).
		Dur("duration_ms", duration).
		Msg("event dispatched")
}

// LogSinkError logs a configured sink whose append failed.
func (l *Logger) LogSinkError(sinkName, requestID string, err error) {
	l.zl.Error().
		Str("event", string(EventSinkError)).
		Str("sink", sinkName).
		Str("request_id", requestID).
		Err(err).
		Msg("sink append failed")
}

// LogSinkSkipped logs an unconfigured sink that was skipped.
func (l *Logger) LogSinkSkipped(sinkName, requestID string) {
	l.zl.Debug().
		Str("event", string(EventSinkSkipped)).
		Str("sink", sinkName).
		Str("request_id", requestID).
		Msg("sink not configured, skipped")
}

// LogChannelError logs a configured channel whose send failed or timed out.
func (l *Logger) LogChannelError(channelName, requestID, detail string) {
	l.zl.Error().
		Str("event", string(EventChannelError)).
		Str("channel", channelName).
		Str("request_id", requestID).
		Str("detail", sanitizeString(detail)).
		Msg("channel send failed")
}

// LogChannelSkipped logs an unconfigured channel that was skipped.
func (l *Logger) LogChannelSkipped(channelName, requestID string) {
	l.zl.Debug().
		Str("event", string(EventChannelSkipped)).
		Str("channel", channelName).
		Str("request_id", requestID).
		Msg("channel not configured, skipped")
}

// LogRotation logs a completed sink-file rotation.
func (l *Logger) LogRotation(activePath, backupPath string) {
	l.zl.Info().
		Str("event", string(EventRotation)).
		Str("path", activePath).
		Str("backup", backupPath).
		Msg("sink file rotated")
}

// LogRotationError logs a rotation that failed. The append still
// proceeds against the active file.
func (l *Logger) LogRotationError(activePath string, err error) {
	l.zl.Warn().
		Str("event", string(EventRotationError)).
		Str("path", activePath).
		Err(err).
		Msg("sink file rotation failed")
}

// LogRateLimited logs an intake request rejected by the rate limiter.
func (l *Logger) LogRateLimited(route, clientIP string) {
	l.zl.Warn().
		Str("event", string(EventRateLimited)).
		Str("route", route).
		Str("client_ip", clientIP).
		Msg("request rate limited")
}

// LogOrchestrationError logs a defect in the dispatch sequence itself.
func (l *Logger) LogOrchestrationError(route, clientIP, requestID string, err error) {
	l.zl.Error().
		Str("event", string(EventOrchestrationError)).
		Str("route", route).
		Str("client_ip", clientIP).
		Str("request_id", requestID).
		Err(err).
		Msg("dispatch orchestration failed")
}

// LogStartup logs that the relay has started.
func (l *Logger) LogStartup(listenAddr string) {
	l.zl.Info().
		Str("event", "startup").
		Str("listen", listenAddr).
		Msg("hookrelay started")
}

// LogShutdown logs that the relay is shutting down.
func (l *Logger) LogShutdown(reason string) {
	l.zl.Info().
		Str("event", "shutdown").
		Str("reason", reason).
		Msg("hookrelay stopping")
}

// With returns a sub-logger that includes the given key-value pair in every
// log entry. The sub-logger shares the parent's file handle and config but
// does NOT own the file — only the root logger should be Close()'d.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		zl:              l.zl.With().Str(key, value).Logger(),
		includeAccepted: l.includeAccepted,
	}
}

// Close cleans up the logger, flushing and closing any open file handles.
// Close is idempotent and safe to call multiple times.
func (l *Logger) Close() {
	if l.fileHandle != nil {
		_ = l.fileHandle.Sync()
		_ = l.fileHandle.Close()
		l.fileHandle = nil
	}
}
