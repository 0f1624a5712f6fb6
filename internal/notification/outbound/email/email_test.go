package email

import (
	"context"
	"errors"
	"testing"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/mail"
)

type fakeMail struct {
	got []mail.Message
	err error
}

func (f *fakeMail) Send(_ context.Context, msg mail.Message) error {
	f.got = append(f.got, msg)
	return f.err
}

func (f *fakeMail) Close() error { return nil }

func TestSender_Send(t *testing.T) {
	errSMTP := errors.New("421 service not available")

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{name: "Delivered"},
		{name: "ServerRejects", err: errSMTP, wantErr: errSMTP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			client := &fakeMail{err: tt.err}
			s := New(client, instrument.NewNoop())
			msg := mail.Message{To: []string{"a@example.com"}, Subject: "Hi", TextBody: "hello"}

			// Act
			err := s.Send(context.Background(), msg)

			// Assert
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Send() error = %v, want %v", err, tt.wantErr)
			}
			if len(client.got) != 1 || client.got[0].Subject != "Hi" {
				t.Fatalf("mail client got %+v", client.got)
			}
		})
	}
}
