package usecase

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shandysiswandi/pulsarbite/internal/notification/entity"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/clock"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/config"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/goerror"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/idempotency"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/instrument"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/mail"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/validator"
	"github.com/shandysiswandi/pulsarbite/internal/shared/event"
)

type fixedID string

func (f fixedID) Generate() string { return string(f) }

type fakeMail struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (f *fakeMail) Send(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeTemplate struct {
	key  entity.TriggerKey
	data map[string]any
	err  error
}

func (f *fakeTemplate) Render(key entity.TriggerKey, data map[string]any) (entity.Rendered, error) {
	f.key, f.data = key, data
	if f.err != nil {
		return entity.Rendered{}, f.err
	}
	subject, _ := data["subject"].(string)
	if subject == "" {
		subject = key.String()
	}
	return entity.Rendered{Subject: subject, TextBody: "text", HTMLBody: "<p>html</p>"}, nil
}

type fakeMQ struct {
	published []event.NotificationRequested
	err       error
}

func (f *fakeMQ) PublishNotificationRequested(_ context.Context, msg event.NotificationRequested) (entity.Receipt, error) {
	if f.err != nil {
		return entity.Receipt{}, f.err
	}
	f.published = append(f.published, msg)
	return entity.Receipt{MessageID: "msg-1", Topic: event.NotificationRequestedDestination}, nil
}

// fakeIdempotency keeps results in memory with the same replay contract as the redis store.
type fakeIdempotency struct {
	results    map[string][]byte
	inProgress map[string]bool
	err        error
}

func (f *fakeIdempotency) Exec(ctx context.Context, key string, fn func(context.Context) ([]byte, error), _ ...idempotency.Option) (idempotency.Result, error) {
	if f.err != nil {
		return idempotency.Result{}, f.err
	}
	if f.inProgress[key] {
		return idempotency.Result{}, idempotency.ErrAlreadyInProgress
	}
	if v, ok := f.results[key]; ok {
		return idempotency.Result{Value: v, Replayed: true}, nil
	}
	v, err := fn(ctx)
	if err != nil {
		return idempotency.Result{}, err
	}
	f.results[key] = v
	return idempotency.Result{Value: v}, nil
}

type fixture struct {
	uc   *Usecase
	mail *fakeMail
	tpl  *fakeTemplate
	mq   *fakeMQ
	idem *fakeIdempotency
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg, err := config.NewViperFromBytes("yaml", []byte(`
app:
  web: https://app.pulsarbite.dev
modules:
  notification:
    support_email: support@pulsarbite.dev
    company_name: Pulsarbite
    idempotency_ttl_seconds: 60
`))
	if err != nil {
		t.Fatalf("NewViperFromBytes() error = %v", err)
	}
	v, err := validator.NewV10Validator()
	if err != nil {
		t.Fatalf("NewV10Validator() error = %v", err)
	}

	f := &fixture{
		mail: &fakeMail{},
		tpl:  &fakeTemplate{},
		mq:   &fakeMQ{},
		idem: &fakeIdempotency{results: map[string][]byte{}, inProgress: map[string]bool{}},
	}
	f.uc = NewNotification(Dependency{
		Config:       cfg,
		UUID:         fixedID("n-1"),
		Clock:        clock.Fixed(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)),
		Validator:    v,
		Idempotency:  f.idem,
		RepoMail:     f.mail,
		RepoTemplate: f.tpl,
		RepoMQ:       f.mq,
		Instrument:   instrument.NewNoop(),
	})
	return f
}

func validRequest() RequestNotificationInput {
	return RequestNotificationInput{
		Channel:   "email",
		Recipient: "jane@example.com",
		Subject:   "Order shipped",
		Body:      "Your order is on its way.",
		FullName:  "Jane Doe",
	}
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var gerr *goerror.Error
	if !errors.As(err, &gerr) {
		t.Fatalf("error %v is not *goerror.Error", err)
	}
	return gerr.StatusCode()
}

func TestUsecase_RequestNotification(t *testing.T) {
	// Arrange
	f := newFixture(t)

	// Act
	out, err := f.uc.RequestNotification(context.Background(), validRequest())

	// Assert
	if err != nil {
		t.Fatalf("RequestNotification() error = %v", err)
	}
	if out.ID != "n-1" || out.MessageID != "msg-1" || out.Replayed {
		t.Fatalf("output = %+v", out)
	}
	if len(f.mq.published) != 1 {
		t.Fatalf("published = %d, want 1", len(f.mq.published))
	}
	ev := f.mq.published[0]
	if ev.Recipient != "jane@example.com" || ev.Channel != "email" || !ev.RequestedAt.Equal(out.RequestedAt) {
		t.Fatalf("event = %+v", ev)
	}
}

func TestUsecase_RequestNotificationErrors(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*RequestNotificationInput)
		arrange    func(*fixture)
		wantStatus int
	}{
		{
			name:       "InvalidRecipient",
			mutate:     func(in *RequestNotificationInput) { in.Recipient = "not-an-email" },
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "UnsupportedChannel",
			mutate:     func(in *RequestNotificationInput) { in.Channel = "sms" },
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "SubjectLineBreak",
			mutate:     func(in *RequestNotificationInput) { in.Subject = "a\nb" },
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "BrokerDown",
			arrange:    func(f *fixture) { f.mq.err = errors.New("broker down") },
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "InProgress",
			mutate:     func(in *RequestNotificationInput) { in.IdempotencyKey = "k1" },
			arrange:    func(f *fixture) { f.idem.inProgress["notification:k1"] = true },
			wantStatus: http.StatusConflict,
		},
		{
			name:       "StoreDown",
			mutate:     func(in *RequestNotificationInput) { in.IdempotencyKey = "k1" },
			arrange:    func(f *fixture) { f.idem.err = errors.New("redis down") },
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "BrokerDownBehindIdempotency",
			mutate:     func(in *RequestNotificationInput) { in.IdempotencyKey = "k2" },
			arrange:    func(f *fixture) { f.mq.err = errors.New("broker down") },
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			f := newFixture(t)
			in := validRequest()
			if tt.mutate != nil {
				tt.mutate(&in)
			}
			if tt.arrange != nil {
				tt.arrange(f)
			}

			// Act
			_, err := f.uc.RequestNotification(context.Background(), in)

			// Assert
			if got := statusOf(t, err); got != tt.wantStatus {
				t.Fatalf("status = %d, want %d (err %v)", got, tt.wantStatus, err)
			}
		})
	}
}

func TestUsecase_RequestNotificationIdempotent(t *testing.T) {
	// Arrange
	f := newFixture(t)
	in := validRequest()
	in.IdempotencyKey = "order-42"

	// Act
	first, err := f.uc.RequestNotification(context.Background(), in)
	if err != nil {
		t.Fatalf("first RequestNotification() error = %v", err)
	}
	second, err := f.uc.RequestNotification(context.Background(), in)
	if err != nil {
		t.Fatalf("second RequestNotification() error = %v", err)
	}

	// Assert
	if len(f.mq.published) != 1 {
		t.Fatalf("published = %d, want 1", len(f.mq.published))
	}
	if first.Replayed || !second.Replayed {
		t.Fatalf("Replayed = %v/%v, want false/true", first.Replayed, second.Replayed)
	}
	if second.ID != first.ID || second.MessageID != first.MessageID {
		t.Fatalf("replayed output %+v differs from %+v", second, first)
	}
}

func TestUsecase_ConsumeNotificationRequested(t *testing.T) {
	// Arrange
	f := newFixture(t)
	in := ConsumeNotificationRequestedInput{
		ID:        "n-1",
		Channel:   "email",
		Recipient: "jane@example.com",
		Subject:   "Order shipped",
		Body:      "On its way",
		FullName:  "Jane",
		Data:      map[string]string{"order_id": "42"},
	}

	// Act
	err := f.uc.ConsumeNotificationRequested(context.Background(), in)

	// Assert
	if err != nil {
		t.Fatalf("ConsumeNotificationRequested() error = %v", err)
	}
	if f.tpl.key != entity.TriggerKeyGeneric {
		t.Fatalf("template = %q, want generic", f.tpl.key)
	}
	if f.tpl.data["order_id"] != "42" || f.tpl.data["company_name"] != "Pulsarbite" || f.tpl.data["year"] != "2026" {
		t.Fatalf("template data = %v", f.tpl.data)
	}
	if len(f.mail.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(f.mail.sent))
	}
	msg := f.mail.sent[0]
	if msg.To[0] != "jane@example.com" || msg.Subject != "Order shipped" || msg.HTMLBody == "" || msg.TextBody == "" {
		t.Fatalf("mail = %+v", msg)
	}
}

func TestUsecase_ConsumeNotificationRequestedOutcomes(t *testing.T) {
	boom := errors.New("smtp down")

	tests := []struct {
		name     string
		in       ConsumeNotificationRequestedInput
		arrange  func(*fixture)
		wantErr  error
		wantSent int
	}{
		{
			name: "InvalidPayloadDropped",
			in:   ConsumeNotificationRequestedInput{ID: "n-1", Channel: "email", Recipient: "nope"},
		},
		{
			name: "UnsupportedChannelDropped",
			in:   ConsumeNotificationRequestedInput{ID: "n-1", Channel: "sms", Recipient: "a@b.co", Subject: "s", Body: "b"},
		},
		{
			name:    "MailFailureReturned",
			in:      ConsumeNotificationRequestedInput{ID: "n-1", Channel: "email", Recipient: "a@b.co", Subject: "s", Body: "b"},
			arrange: func(f *fixture) { f.mail.err = boom },
			wantErr: boom,
		},
		{
			name:    "RenderFailureReturned",
			in:      ConsumeNotificationRequestedInput{ID: "n-1", Channel: "email", Recipient: "a@b.co", Subject: "s", Body: "b"},
			arrange: func(f *fixture) { f.tpl.err = boom },
			wantErr: boom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.arrange != nil {
				tt.arrange(f)
			}

			err := f.uc.ConsumeNotificationRequested(context.Background(), tt.in)

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if len(f.mail.sent) != tt.wantSent {
				t.Fatalf("sent = %d, want %d", len(f.mail.sent), tt.wantSent)
			}
		})
	}
}

func TestUsecase_ConsumeUserRegistration(t *testing.T) {
	// Arrange
	f := newFixture(t)

	// Act
	err := f.uc.ConsumeUserRegistration(context.Background(), ConsumeUserRegistrationInput{
		UserID:   7,
		Email:    "jane@example.com",
		FullName: "Jane Doe",
		Token:    "a b",
	})

	// Assert
	if err != nil {
		t.Fatalf("ConsumeUserRegistration() error = %v", err)
	}
	if f.tpl.key != entity.TriggerKeyEmailVerify {
		t.Fatalf("template = %q", f.tpl.key)
	}
	if got := f.tpl.data["verify_url"]; got != "https://app.pulsarbite.dev/verify-email?token=a+b" {
		t.Fatalf("verify_url = %v", got)
	}
	if len(f.mail.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(f.mail.sent))
	}
}

func TestUsecase_ConsumeUserForgotPassword(t *testing.T) {
	// Arrange
	f := newFixture(t)

	// Act
	err := f.uc.ConsumeUserForgotPassword(context.Background(), ConsumeUserForgotPasswordInput{
		UserID: 7,
		Email:  "jane@example.com",
		Token:  "tok",
	})

	// Assert
	if err != nil {
		t.Fatalf("ConsumeUserForgotPassword() error = %v", err)
	}
	if got := f.tpl.data["reset_url"]; got != "https://app.pulsarbite.dev/reset-password?token=tok" {
		t.Fatalf("reset_url = %v", got)
	}

	// invalid events are dropped without mail
	if err := f.uc.ConsumeUserForgotPassword(context.Background(), ConsumeUserForgotPasswordInput{}); err != nil {
		t.Fatalf("invalid event error = %v, want nil", err)
	}
	if len(f.mail.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(f.mail.sent))
	}
}
