package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/kotobaquest/battle/internal/events"
)

// Notifier pushes events toward players. Delivery is fire-and-forget: every
// state transition is durable before a notification is attempted, so a lost
// notification is never a correctness problem.
type Notifier interface {
	Notify(ctx context.Context, playerIDs []uuid.UUID, kind events.Kind, payload any)
}
