package event

import "time"

const NotificationRequestedDestination string = "notification_requested"
const NotificationRequestedConsumerEmail string = "notification_requested_email"

// NotificationRequested asks the notification module to deliver a message.
type NotificationRequested struct {
	ID          string            `json:"id"`
	Channel     string            `json:"channel"`
	Recipient   string            `json:"recipient"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	FullName    string            `json:"full_name,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
}
