package inbound

import (
	"net/http"
	"time"
)

type RequestNotificationRequest struct {
	Channel   string            `json:"channel"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	FullName  string            `json:"full_name"`
	Data      map[string]string `json:"data"`
}

type RequestNotificationResponse struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"message_id"`
	Topic       string    `json:"topic"`
	RequestedAt time.Time `json:"requested_at"`

	replayed bool
}

func (r RequestNotificationResponse) StatusCode() int {
	if r.replayed {
		return http.StatusOK
	}
	return http.StatusAccepted
}

func (r RequestNotificationResponse) Message() string {
	if r.replayed {
		return "notification was already queued"
	}
	return "notification queued"
}

func (r RequestNotificationResponse) Meta() map[string]any {
	return map[string]any{"replayed": r.replayed}
}
