// Package mailer renders and delivers the emails the blog sends.
package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
)

// Template names, one file per name under templates/.
const (
	TemplateVerify            = "verify"
	TemplateVerifyRefreshed   = "verify_refreshed"
	TemplateResetPassword     = "reset_password"
	TemplateNewPost           = "new_post"
	TemplateNewComment        = "new_comment"
	TemplateSubscriberDeleted = "subscriber_deleted"
)

// Message is one outgoing email. Body comes from Template rendered with Data,
// or from Text when Template is empty.
type Message struct {
	Subject  string
	To       []string
	Bcc      []string
	Template string
	Data     map[string]any
	Text     string
}

// Kind labels the message for logs and metrics.
func (m Message) Kind() string {
	if m.Template == "" {
		return "plain"
	}
	return m.Template
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Render produces the HTML body of msg.
func Render(msg Message) (string, error) {
	if msg.Template == "" {
		return template.HTMLEscapeString(msg.Text), nil
	}
	t := templates.Lookup(msg.Template + ".html")
	if t == nil {
		return "", fmt.Errorf("unknown mail template %q", msg.Template)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, msg.Data); err != nil {
		return "", fmt.Errorf("render %s: %w", msg.Template, err)
	}
	return buf.String(), nil
}
