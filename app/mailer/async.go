package mailer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Async.Send after Close.
var ErrClosed = errors.New("mailer closed")

// Async sends in the background. Send returns as soon as the message is
// queued; failures are logged and reported, never returned.
type Async struct {
	next    Sender
	timeout time.Duration
	logger  *slog.Logger
	report  func(Message, error)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync wraps next. report may be nil.
func NewAsync(next Sender, timeout time.Duration, logger *slog.Logger, report func(Message, error)) *Async {
	if report == nil {
		report = func(Message, error) {}
	}
	return &Async{next: next, timeout: timeout, logger: logger, report: report}
}

func (a *Async) Send(_ context.Context, msg Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		// detached from the request so the send outlives the response
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		err := a.next.Send(ctx, msg)
		if err != nil {
			a.logger.Warn("background mail failed",
				"kind", msg.Kind(),
				"subject", msg.Subject,
				"error", err,
			)
		}
		a.report(msg, err)
	}()
	return nil
}

// Close stops accepting messages and waits for in-flight sends.
func (a *Async) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.wg.Wait()
}
