// Package mock provides a recording mail sender for tests.
package mock

import (
	"context"
	"sync"

	"inkwell/app/mailer"
)

// Recorder keeps every message it is asked to send. Set Err to make sends fail.
type Recorder struct {
	mu   sync.Mutex
	sent []mailer.Message
	Err  error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Send(_ context.Context, msg mailer.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Messages returns a copy of the recorded messages in send order.
func (r *Recorder) Messages() []mailer.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mailer.Message(nil), r.sent...)
}

// ByTemplate returns the recorded messages rendered from template name.
func (r *Recorder) ByTemplate(name string) []mailer.Message {
	var out []mailer.Message
	for _, m := range r.Messages() {
		if m.Template == name {
			out = append(out, m)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
