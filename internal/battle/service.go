// Package battle drives a match through its phases: acceptance handshake,
// per-round combatant selection, and per-question countdowns. Progress is
// pushed by explicit player actions or by timeout jobs; nothing blocks
// waiting on a player. Every competing write runs through a conditional
// claim in the Store, so the first writer wins and the second becomes a
// silent no-op.
package battle

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/kotobaquest/battle/internal/catalog"
	"github.com/kotobaquest/battle/internal/events"
	"github.com/kotobaquest/battle/internal/matchqueue"
	"github.com/kotobaquest/battle/internal/notify"
	"github.com/kotobaquest/battle/internal/scheduler"
)

type Service struct {
	store      Store
	sched      scheduler.Scheduler
	notifier   notify.Notifier
	combatants catalog.CombatantCatalog
	bank       catalog.QuestionBank
	clock      clockwork.Clock
	cfg        Config

	rng   *rand.Rand
	rngMu sync.Mutex
}

func NewService(store Store, sched scheduler.Scheduler, notifier notify.Notifier, combatants catalog.CombatantCatalog, bank catalog.QuestionBank, clock clockwork.Clock, cfg Config) *Service {
	return &Service{
		store:      store,
		sched:      sched,
		notifier:   notifier,
		combatants: combatants,
		bank:       bank,
		clock:      clock,
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RegisterHandlers binds the service's timeout handlers to the scheduler.
func (s *Service) RegisterHandlers(sched *scheduler.TimerScheduler) {
	sched.RegisterHandler(scheduler.JobAcceptanceTimeout, s.handleAcceptanceTimeout)
	sched.RegisterHandler(scheduler.JobSelectionTimeout, s.handleSelectionTimeout)
	sched.RegisterHandler(scheduler.JobQuestionTimeout, s.handleQuestionTimeout)
}

// OnEvicted implements matchqueue.EvictionHandler.
func (s *Service) OnEvicted(ctx context.Context, e matchqueue.Entry) {
	s.notifier.Notify(ctx, []uuid.UUID{e.PlayerID}, events.KindQueueEvicted, events.QueueEvictedPayload{
		PlayerID: e.PlayerID,
		WaitedMs: s.clock.Now().Sub(e.EnqueuedAt).Milliseconds(),
	})
}

// matchPlayerIDs returns both players of a match, for pair notifications.
func (s *Service) matchPlayerIDs(ctx context.Context, matchID uuid.UUID) ([]uuid.UUID, error) {
	parts, err := s.store.ListParticipants(ctx, matchID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(parts))
	for i, p := range parts {
		ids[i] = p.PlayerID
	}
	return ids, nil
}

func (s *Service) randomAnswer(answers []catalog.Answer) catalog.Answer {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return answers[s.rng.Intn(len(answers))]
}

func logDropped(err error, kind string, id uuid.UUID) {
	log.Warn().
		Err(err).
		Str("kind", kind).
		Str("target_id", id.String()).
		Msg("timeout target no longer exists, dropping job")
}
