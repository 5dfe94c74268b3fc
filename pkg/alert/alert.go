// Package alert notifies operators about failures that need attention.
package alert

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Kind classifies an alert
type Kind string

const (
	KindCheckFailed  Kind = "scheduled_check_failed"
	KindDatabase     Kind = "database_error"
	KindDigestFailed Kind = "digest_failed"
)

// Field is one line of alert context
type Field struct {
	Key   string
	Value string
}

// Alert is a single notification
type Alert struct {
	Kind    Kind
	Subject string
	Message string
	Context []Field
}

// Alerter delivers alerts
type Alerter interface {
	Send(ctx context.Context, a Alert) error
}

// CheckFailed reports a check cycle that failed after its retries.
func CheckFailed(err error, attempts int, next string) Alert {
	return Alert{
		Kind:    KindCheckFailed,
		Subject: "Scheduled Check Failed",
		Message: err.Error(),
		Context: []Field{
			{Key: "attempts", Value: fmt.Sprint(attempts)},
			{Key: "next_action", Value: next},
		},
	}
}

// DatabaseError reports a failed database operation.
func DatabaseError(err error, operation string) Alert {
	return Alert{
		Kind:    KindDatabase,
		Subject: "Database Error",
		Message: err.Error(),
		Context: []Field{{Key: "operation", Value: operation}},
	}
}

// DigestFailed reports a digest that could not be sent.
func DigestFailed(err error) Alert {
	return Alert{Kind: KindDigestFailed, Subject: "Digest Send Failed", Message: err.Error()}
}

// Body renders the plain text body of a.
func Body(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Blog monitor alert: %s\n\nError message:\n%s\n\n", a.Kind, a.Message)
	if len(a.Context) > 0 {
		b.WriteString("Context:\n")
		for _, f := range a.Context {
			fmt.Fprintf(&b, "  %s: %s\n", f.Key, f.Value)
		}
		b.WriteString("\n")
	}
	b.WriteString("---\nThis is an automated alert from the blog monitor.\n")
	return b.String()
}

// Log writes alerts to the logger instead of delivering them
type Log struct {
	logger *zap.Logger
}

// NewLog creates a logging alerter.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.With(zap.String("component", "alert"))}
}

// Send logs a at error level.
func (l *Log) Send(_ context.Context, a Alert) error {
	fields := []zap.Field{
		zap.String("kind", string(a.Kind)),
		zap.String("subject", a.Subject),
		zap.String("error", a.Message),
	}
	for _, f := range a.Context {
		fields = append(fields, zap.String(f.Key, f.Value))
	}
	l.logger.Error("Alert", fields...)
	return nil
}
