package notification

import (
	"context"
	"log"

	"mailsense-backend/internal/mail/repository"
	"mailsense-backend/pkg/fcm"
)

// Dispatcher delivers a notification to every device a user has registered.
type Dispatcher interface {
	SendToUser(ctx context.Context, userID, title, body string) error
}

type fcmDispatcher struct {
	client    *fcm.Client
	tokenRepo repository.DeviceTokenRepository
}

func NewFCMDispatcher(client *fcm.Client, tokenRepo repository.DeviceTokenRepository) Dispatcher {
	return &fcmDispatcher{
		client:    client,
		tokenRepo: tokenRepo,
	}
}

func (d *fcmDispatcher) SendToUser(ctx context.Context, userID, title, body string) error {
	tokens, err := d.tokenRepo.GetByUserID(userID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		log.Printf("[Notification] User %s has no registered devices, skipping", userID)
		return nil
	}

	failedTokens, err := d.client.SendToDevices(ctx, tokens, fcm.NotificationData{
		Title: title,
		Body:  body,
	})
	if err != nil {
		return err
	}

	// Tokens the push provider rejected are stale registrations.
	if len(failedTokens) > 0 {
		if err := d.tokenRepo.DeleteTokens(failedTokens); err != nil {
			log.Printf("[Notification] Failed to prune %d stale tokens: %v", len(failedTokens), err)
		} else {
			log.Printf("[Notification] Pruned %d stale device tokens", len(failedTokens))
		}
	}
	return nil
}

type noopDispatcher struct{}

// NewNoopDispatcher returns a dispatcher that drops everything. Used when
// push credentials are not configured.
func NewNoopDispatcher() Dispatcher {
	return noopDispatcher{}
}

func (noopDispatcher) SendToUser(ctx context.Context, userID, title, body string) error {
	return nil
}
