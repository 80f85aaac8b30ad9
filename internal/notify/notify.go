// Package notify delivers alerts and final reports to external sinks.
//
// Delivery is best effort: callers log failures and never let them block the
// assessment.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/assessor/internal/model"
)

// Notifier is an external notification sink.
type Notifier interface {
	// Notify sends a structured alert.
	Notify(ctx context.Context, a model.Alert) error
	// Deliver sends the final submission alert together with the report document.
	Deliver(ctx context.Context, a model.Alert, doc model.Document) error
}

// NewAlert builds an alert stamped with a fresh id and the current time.
func NewAlert(kind model.AlertKind, severity model.Severity, sessionID, candidate string, payload map[string]any) model.Alert {
	return model.Alert{
		ID:        uuid.NewString(),
		Kind:      kind,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Candidate: candidate,
		Payload:   payload,
	}
}

// Multi fans out to several notifiers. Every sink is tried; errors are joined.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, a model.Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deliver implements Notifier.
func (m Multi) Deliver(ctx context.Context, a model.Alert, doc model.Document) error {
	var errs []error
	for _, n := range m {
		if err := n.Deliver(ctx, a, doc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes alerts to a slog logger. It is the sink used when nothing else is configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Notify implements Notifier.
func (l Log) Notify(_ context.Context, a model.Alert) error {
	l.logger().Info("alert",
		"id", a.ID,
		"kind", a.Kind,
		"severity", a.Severity,
		"session_id", a.SessionID,
		"candidate", a.Candidate,
		"payload", a.Payload,
	)
	return nil
}

// Deliver implements Notifier.
func (l Log) Deliver(ctx context.Context, a model.Alert, doc model.Document) error {
	_ = l.Notify(ctx, a)
	l.logger().Info("report delivered", "session_id", a.SessionID, "filename", doc.Filename, "bytes", len(doc.Body))
	return nil
}

// Async sends alerts in the background so a slow sink never stalls the caller.
// Deliver stays synchronous: the final submission is awaited.
type Async struct {
	next    Notifier
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync wraps next. Each background send gets its own timeout.
func NewAsync(next Notifier, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Async{next: next, timeout: timeout}
}

// Notify queues the alert and returns immediately.
func (a *Async) Notify(_ context.Context, alert model.Alert) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.next.Notify(ctx, alert); err != nil {
			slog.Warn("alert delivery failed", "kind", alert.Kind, "session_id", alert.SessionID, "error", err)
		}
	}()
	return nil
}

// Deliver implements Notifier.
func (a *Async) Deliver(ctx context.Context, alert model.Alert, doc model.Document) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.next.Deliver(ctx, alert, doc)
}

// Close waits for in-flight alerts or until ctx is done.
func (a *Async) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
