package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/events"
	"github.com/spec-kit/user-service/internal/service"
)

// StartNotificationWorker registers notification handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}

// StartAuditWorker writes one structured audit line per lifecycle event.
func StartAuditWorker(dispatcher events.Dispatcher, logger *zap.Logger) {
	if dispatcher == nil || logger == nil {
		return
	}
	audit := logger.Named("audit")
	handler := func(_ context.Context, event events.Event) error {
		fields := []zap.Field{
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Int64("user_id", event.UserID),
			zap.Time("at", event.Timestamp),
			zap.Bool("actor_admin", event.Actor.IsAdmin),
		}
		if event.Actor.UserID != nil {
			fields = append(fields, zap.Int64("actor_id", *event.Actor.UserID))
		}
		audit.Info("user lifecycle event", fields...)
		return nil
	}
	for _, t := range []events.EventType{events.EventUserCreated, events.EventUserUpdated, events.EventUserDeleted} {
		dispatcher.Subscribe(t, handler)
	}
}
