package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/config"
	"github.com/spec-kit/user-service/internal/events"
)

// NotificationService handles emitting notifications for user lifecycle events.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventUserCreated, n.handleUserCreated)
	n.dispatcher.Subscribe(events.EventUserUpdated, n.handleUserUpdated)
	n.dispatcher.Subscribe(events.EventUserDeleted, n.handleUserDeleted)
}

func (n *NotificationService) handleUserCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("UserCreated", zap.Int64("user_id", event.UserID))
	payload, ok := event.Payload.(events.UserCreatedPayload)
	if ok && !payload.EmailConfirmed {
		n.sendActivationEmailStub(ctx, event.UserID, payload)
	}
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleUserUpdated(ctx context.Context, event events.Event) error {
	n.logger.Info("UserUpdated", zap.Int64("user_id", event.UserID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleUserDeleted(ctx context.Context, event events.Event) error {
	n.logger.Info("UserDeleted", zap.Int64("user_id", event.UserID))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) sendActivationEmailStub(_ context.Context, userID int64, payload events.UserCreatedPayload) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendActivationEmailStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("to", payload.Email),
		zap.Int64("user_id", userID),
		zap.String("activation_code", payload.ActivationCode))
}

func (n *NotificationService) sendWebhookNotificationStub(_ context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.Int64("user_id", event.UserID),
		zap.String("event_type", string(event.Type)))
}
