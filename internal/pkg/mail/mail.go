// Package mail sends notification emails. Callers depend on the Mail interface; SMTP is
// the only transport shipped.
package mail

import (
	"context"
	"io"
)

// Message is one email. At least one of To, Cc or Bcc must be set.
type Message struct {
	// From overrides the sender configured on the transport.
	From string

	To  []string
	Cc  []string
	Bcc []string

	Subject string
	// TextBody and HTMLBody are sent as multipart/alternative when both are set.
	TextBody string
	HTMLBody string
}

func (m Message) recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	return append(out, m.Bcc...)
}

// Mail delivers messages.
type Mail interface {
	io.Closer
	Send(ctx context.Context, msg Message) error
}
