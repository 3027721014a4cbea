package funnel

import (
	"context"

	"go.uber.org/zap"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/storage"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/utils"
)

// Guard re-validates an event before each delayed pre-event step fires. An
// event that was cancelled or whose start has passed silently cancels the
// remaining steps of its funnel; this is the only cancellation mechanism.
type Guard struct {
	events storage.EventRepo
}

// NewGuard creates an event-validity guard backed by the event repository.
func NewGuard(events storage.EventRepo) *Guard {
	return &Guard{events: events}
}

// Valid reports whether reminder steps for the event may still fire. A
// missing event answers false; a storage failure is retriable so a transient
// outage does not silently cancel a funnel.
func (g *Guard) Valid(ctx context.Context, eventID string) (bool, error) {
	event, err := g.events.FindEventByID(ctx, eventID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			logger.FromContext(ctx).Warn("Validity check: event not found, treating as invalid",
				zap.String("event_id", eventID))
			return false, nil
		}
		return false, apperrors.NewRetryable(err, "failed to load event %s for validity check", eventID)
	}
	return event.IsValidForReminders(utils.Now()), nil
}
