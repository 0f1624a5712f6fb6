package inbound

import (
	"context"
	"strings"

	"github.com/shandysiswandi/pulsarbite/internal/notification/usecase"
	"github.com/shandysiswandi/pulsarbite/internal/pkg/router"
)

type uc interface {
	ucConsumer

	RequestNotification(ctx context.Context, in usecase.RequestNotificationInput) (*usecase.RequestNotificationOutput, error)
}

// RegisterHTTPEndpoint mounts the public notification API on r.
func RegisterHTTPEndpoint(r *router.Router, uc uc) {
	end := &HTTPEndpoint{uc: uc}

	r.POST("/api/v1/notifications", end.RequestNotification)
}

type HTTPEndpoint struct {
	uc uc
}

// RequestNotification queues a notification for asynchronous delivery.
// An Idempotency-Key header makes retries replay the first response.
func (h *HTTPEndpoint) RequestNotification(r *router.Request) (any, error) {
	var req RequestNotificationRequest
	if err := r.DecodeBody(&req); err != nil {
		return nil, err
	}

	channel := strings.ToLower(strings.TrimSpace(req.Channel))
	if channel == "" {
		channel = "email"
	}

	out, err := h.uc.RequestNotification(r.Context(), usecase.RequestNotificationInput{
		IdempotencyKey: r.IdempotencyKey(),
		Channel:        channel,
		Recipient:      strings.TrimSpace(req.Recipient),
		Subject:        req.Subject,
		Body:           req.Body,
		FullName:       strings.TrimSpace(req.FullName),
		Data:           req.Data,
	})
	if err != nil {
		return nil, err
	}

	return RequestNotificationResponse{
		ID:          out.ID,
		MessageID:   out.MessageID,
		Topic:       out.Topic,
		RequestedAt: out.RequestedAt,
		replayed:    out.Replayed,
	}, nil
}
