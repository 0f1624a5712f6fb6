package entity

// TriggerKey names the template rendered for a notification.
type TriggerKey string

const (
	TriggerKeyGeneric       TriggerKey = "generic"
	TriggerKeyEmailVerify   TriggerKey = "email_verify"
	TriggerKeyPasswordReset TriggerKey = "password_reset"
)

// TriggerKeys lists every template the module ships with.
var TriggerKeys = []TriggerKey{TriggerKeyGeneric, TriggerKeyEmailVerify, TriggerKeyPasswordReset}

func (k TriggerKey) String() string {
	return string(k)
}

// Rendered is a template after data has been applied.
type Rendered struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// Receipt acknowledges that a notification request reached the broker.
type Receipt struct {
	MessageID string
	Topic     string
}
