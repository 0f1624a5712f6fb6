package messaging

import (
	"errors"
	"strings"
)

// Error kinds. Every *Error wraps exactly one of them, test with errors.Is.
var (
	ErrConnect = errors.New("pkgmessage: connect error")
	ErrReceive = errors.New("pkgmessage: receive error")
	ErrDecode  = errors.New("pkgmessage: decode error")
	ErrHandler = errors.New("pkgmessage: handler error")
	ErrAck     = errors.New("pkgmessage: ack error")
	ErrPublish = errors.New("pkgmessage: publish error")
	ErrClose   = errors.New("pkgmessage: close error")
)

var (
	// ErrClientRequired is returned when a loop or registry is built without a Client.
	ErrClientRequired = errors.New("pkgmessage: client is required")
	// ErrTopicRequired is returned when the topic is empty.
	ErrTopicRequired = errors.New("pkgmessage: topic is required")
	// ErrSubscriptionRequired is returned when the subscription name is empty.
	ErrSubscriptionRequired = errors.New("pkgmessage: subscription is required")
	// ErrHandlerRequired is returned when a loop is started with a nil handler.
	ErrHandlerRequired = errors.New("pkgmessage: handler is required")
	// ErrLoopStarted is returned when Start is called twice.
	ErrLoopStarted = errors.New("pkgmessage: consumer loop already started")
	// ErrLoopStopped is returned when Start is called after Stop.
	ErrLoopStopped = errors.New("pkgmessage: consumer loop stopped")
	// ErrSubscriptionClosed is returned by BatchReceive after the subscription is closed.
	ErrSubscriptionClosed = errors.New("pkgmessage: subscription closed")
	// ErrForeignMessage is returned when a message is acked on a subscription it did not come from.
	ErrForeignMessage = errors.New("pkgmessage: message does not belong to this driver")
	// ErrInvalidOption is returned for unparseable configuration values.
	ErrInvalidOption = errors.New("pkgmessage: invalid option")
	// ErrUnsupported is returned when a driver cannot honor a request.
	ErrUnsupported = errors.New("pkgmessage: unsupported operation")
	// ErrHandlerPanic wraps a value recovered from a panicking handler.
	ErrHandlerPanic = errors.New("pkgmessage: handler panic")
)

// Error is a failure attributed to one topic, subscription or message.
type Error struct {
	Kind         error
	Topic        string
	Subscription string
	MessageID    string
	Err          error
}

func newError(kind error, topic, subscription, messageID string, err error) *Error {
	return &Error{Kind: kind, Topic: topic, Subscription: subscription, MessageID: messageID, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Topic != "" {
		b.WriteString(" topic=" + e.Topic)
	}
	if e.Subscription != "" {
		b.WriteString(" subscription=" + e.Subscription)
	}
	if e.MessageID != "" {
		b.WriteString(" message_id=" + e.MessageID)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName is the short label of the error kind, used in logs and metrics.
func (e *Error) KindName() string {
	switch e.Kind {
	case ErrConnect:
		return "connect"
	case ErrReceive:
		return "receive"
	case ErrDecode:
		return "decode"
	case ErrHandler:
		return "handler"
	case ErrAck:
		return "ack"
	case ErrPublish:
		return "publish"
	case ErrClose:
		return "close"
	default:
		return "unknown"
	}
}
