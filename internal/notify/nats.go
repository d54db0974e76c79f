package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/kotobaquest/battle/internal/events"
)

// SubjectPrefix is the per-player subject namespace; the gateway subscribes
// to SubjectPrefix.> and fans messages out over websockets.
const SubjectPrefix = "battle.player"

// Envelope is the wire shape published per player.
type Envelope struct {
	Kind     events.Kind     `json:"kind"`
	PlayerID uuid.UUID       `json:"player_id"`
	SentAt   time.Time       `json:"sent_at"`
	Payload  json.RawMessage `json:"payload"`
}

// NATSNotifier publishes one envelope per target player.
type NATSNotifier struct {
	nc *nats.Conn
}

func NewNATSNotifier(nc *nats.Conn) *NATSNotifier {
	return &NATSNotifier{nc: nc}
}

// Connect dials NATS with the reconnect handlers used across the service.
func Connect(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

func (n *NATSNotifier) Notify(ctx context.Context, playerIDs []uuid.UUID, kind events.Kind, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("kind", string(kind)).Msg("failed to marshal notification payload")
		return
	}

	for _, playerID := range playerIDs {
		env := Envelope{
			Kind:     kind,
			PlayerID: playerID,
			SentAt:   time.Now(),
			Payload:  body,
		}
		data, err := json.Marshal(env)
		if err != nil {
			log.Error().Err(err).Str("kind", string(kind)).Msg("failed to marshal notification envelope")
			continue
		}

		subject := fmt.Sprintf("%s.%s", SubjectPrefix, playerID)
		if err := n.nc.Publish(subject, data); err != nil {
			// Best effort only; state is already durable.
			log.Warn().
				Err(err).
				Str("subject", subject).
				Str("kind", string(kind)).
				Msg("failed to publish notification")
		}
	}
}
