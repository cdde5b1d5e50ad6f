package jobs

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
)

// MessageSender is the subset of the FCM client used for delivery.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier pushes notifications to the per-user topic "user-<uid>".
type FCMNotifier struct {
	sender MessageSender
}

// NewFCMNotifier wraps sender.
func NewFCMNotifier(sender MessageSender) (*FCMNotifier, error) {
	if sender == nil {
		return nil, errors.New("fcm notifier: sender is required")
	}
	return &FCMNotifier{sender: sender}, nil
}

// Notify sends n as a push notification with its data payload.
func (f *FCMNotifier) Notify(ctx context.Context, n domain.Notification) error {
	data := make(map[string]string, len(n.Data)+1)
	for k, v := range n.Data {
		data[k] = v
	}
	data["type"] = n.Type

	_, err := f.sender.Send(ctx, &messaging.Message{
		Topic: "user-" + n.UserID,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("send fcm notification: %w", err)
	}
	return nil
}
