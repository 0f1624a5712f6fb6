package event

import "time"

// Account events are published by the identity service. Notification only reads them.
const (
	UserRegistrationDestination            = "user_registration"
	UserRegistrationConsumerNotification   = "user_registration_notification"
	UserForgotPasswordDestination          = "user_forgot_password"
	UserForgotPasswordConsumerNotification = "user_forgot_password_notification"
)

// UserRegistration asks for an email verification link.
type UserRegistration struct {
	UserID         int64     `json:"user_id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name"`
	ChallengeToken string    `json:"challenge_token"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// UserForgotPassword asks for a password reset link.
type UserForgotPassword struct {
	UserID         int64     `json:"user_id"`
	Email          string    `json:"email"`
	ChallengeToken string    `json:"challenge_token"`
	OccurredAt     time.Time `json:"occurred_at"`
}
