package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/kotobaquest/battle/internal/notify"
)

// ConsumeNotifications subscribes to the per-player notification subjects
// and forwards each envelope to the player's open connections.
func (cm *ConnectionManager) ConsumeNotifications(nc *nats.Conn) (*nats.Subscription, error) {
	subject := notify.SubjectPrefix + ".>"
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var env notify.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("malformed notification envelope")
			return
		}
		cm.Push(env.PlayerID, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to notifications: %w", err)
	}
	log.Info().Str("subject", subject).Msg("gateway subscribed to notifications")
	return sub, nil
}

// Handler returns the cors-wrapped HTTP handler exposing the websocket
// endpoint. Clients connect with /ws?player_id=<uuid>; authentication sits
// in front of this service.
func (cm *ConnectionManager) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		playerID, err := uuid.Parse(r.URL.Query().Get("player_id"))
		if err != nil {
			http.Error(w, "invalid player_id", http.StatusBadRequest)
			return
		}
		if err := cm.UpgradeConnection(w, r, playerID); err != nil {
			log.Error().Err(err).Msg("websocket upgrade failed")
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet},
		AllowCredentials: true,
	}).Handler(mux)
}
