package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped fields attached to a request's context so
// every log line emitted while handling it carries the same identifiers.
type LogContext struct {
	RequestID string    // chi request ID
	Operation string    // WOPI operation kind (Lock, PutFile, ...)
	FileID    string    // FileId or FolderId the request targets
	User      string    // username resolved from the access token
	ClientIP  string    // client IP address
	StartTime time.Time // for duration calculation
}

// WithContext returns a context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if absent.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a request from clientIP.
func NewLogContext(clientIP string) *LogContext {
	return &LogContext{
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

// Clone returns a copy of lc.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithOperation returns a copy with Operation set.
func (lc *LogContext) WithOperation(op string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Operation = op
	}
	return clone
}

// WithFileID returns a copy with FileID set.
func (lc *LogContext) WithFileID(id string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.FileID = id
	}
	return clone
}

// WithUser returns a copy with User set.
func (lc *LogContext) WithUser(user string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.User = user
	}
	return clone
}

// DurationMs returns the elapsed time since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
