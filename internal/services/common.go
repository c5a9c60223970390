package services

import (
	"context"
	"strings"
	"time"

	"support-app/session-service/internal/events"
	"support-app/session-service/internal/models"
	"support-app/session-service/internal/utils"
)

const Producer = "session-service"

// stored timestamps keep millisecond precision, the resolution of the store
func defaultNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func fail(op, reason string, err error) error {
	return models.NewOpError(op, reason, err)
}

func invalid(op, reason string) error {
	return models.NewOpError(op, reason, models.ErrValidation)
}

func validationReason(err error) string {
	return strings.Join(utils.ParseErrors(err), "; ")
}

// publish is best-effort: the state change has already been committed.
func publish(ctx context.Context, bus events.Publisher, log *utils.Logger, eventType string, data any) {
	if bus == nil {
		return
	}
	env, err := events.New(eventType, Producer, data)
	if err != nil {
		log.Error("[EVENTS] build event failed", "type", eventType, "error", err)
		return
	}
	if err := bus.Publish(ctx, env); err != nil {
		log.Error("[EVENTS] publish failed", "type", eventType, "id", env.Meta.ID, "error", err)
	}
}
