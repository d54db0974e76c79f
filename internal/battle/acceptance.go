package battle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kotobaquest/battle/internal/events"
	"github.com/kotobaquest/battle/internal/matchqueue"
	"github.com/kotobaquest/battle/internal/models"
	"github.com/kotobaquest/battle/internal/scheduler"
)

// OnPairFormed implements matchqueue.PairHandler. It creates the pending
// match graph, arms one acceptance timeout per participant and tells both
// players they have been paired.
func (s *Service) OnPairFormed(ctx context.Context, a, b matchqueue.Entry) error {
	match, parts, err := s.store.CreateMatch(ctx, [2]NewParticipant{
		{PlayerID: a.PlayerID, Rating: a.BaseRating},
		{PlayerID: b.PlayerID, Rating: b.BaseRating},
	})
	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}

	respondBy := s.clock.Now().Add(s.cfg.AcceptTimeout)
	for i, p := range parts {
		s.sched.Schedule(s.cfg.AcceptTimeout, scheduler.Job{
			Kind:     scheduler.JobAcceptanceTimeout,
			TargetID: p.ID,
		})
		s.notifier.Notify(ctx, []uuid.UUID{p.PlayerID}, events.KindMatchFound, events.MatchFoundPayload{
			MatchID:       match.ID,
			ParticipantID: p.ID,
			OpponentID:    parts[1-i].PlayerID,
			RespondBy:     respondBy,
		})
	}

	log.Info().
		Str("match_id", match.ID.String()).
		Str("player_a", a.PlayerID.String()).
		Str("player_b", b.PlayerID.String()).
		Msg("match created, awaiting acceptance")
	return nil
}

// RespondToMatch settles a participant's acceptance from an explicit
// accept/reject. A second response, or one racing a fired timeout, loses the
// claim and is ignored rather than erroring; the client may simply have
// retried on a slow network.
func (s *Service) RespondToMatch(ctx context.Context, participantID uuid.UUID, accepted bool) error {
	p, claimed, err := s.store.ClaimAcceptance(ctx, participantID, accepted)
	if err != nil {
		return fmt.Errorf("failed to settle acceptance: %w", err)
	}
	if !claimed {
		log.Debug().
			Str("participant_id", participantID.String()).
			Msg("acceptance already settled, ignoring response")
		return nil
	}

	log.Info().
		Str("participant_id", participantID.String()).
		Bool("accepted", accepted).
		Msg("participant responded to pairing")
	return s.resolveAcceptance(ctx, p.MatchID)
}

// handleAcceptanceTimeout settles a silent participant to rejected. A
// timeout that fires after the participant already responded loses the claim
// and becomes a no-op.
func (s *Service) handleAcceptanceTimeout(ctx context.Context, job scheduler.Job) error {
	p, claimed, err := s.store.ClaimAcceptance(ctx, job.TargetID, false)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logDropped(err, "acceptance", job.TargetID)
			return nil
		}
		return fmt.Errorf("failed to settle acceptance on timeout: %w", err)
	}
	if !claimed {
		return nil
	}

	log.Info().
		Str("participant_id", job.TargetID.String()).
		Msg("acceptance timed out, participant counted as rejecting")
	return s.resolveAcceptance(ctx, p.MatchID)
}

// resolveAcceptance decides the match once no participant is unsettled. The
// decision runs exactly once: it is guarded by the no-nil predicate, which
// becomes true only once, and by the conditional PENDING transition, which
// only one racing settlement can win.
func (s *Service) resolveAcceptance(ctx context.Context, matchID uuid.UUID) error {
	parts, err := s.store.ListParticipants(ctx, matchID)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}

	allAccepted := true
	for _, p := range parts {
		if p.HasAccepted == nil {
			return nil // the other side is still undecided
		}
		if !*p.HasAccepted {
			allAccepted = false
		}
	}

	players := make([]uuid.UUID, len(parts))
	for i, p := range parts {
		players[i] = p.PlayerID
	}

	if !allAccepted {
		claimed, err := s.store.TransitionMatch(ctx, matchID, models.MatchStatusPending, models.MatchStatusCancelled)
		if err != nil {
			return fmt.Errorf("failed to cancel match: %w", err)
		}
		if claimed {
			s.notifier.Notify(ctx, players, events.KindMatchCancelled, events.MatchCancelledPayload{MatchID: matchID})
			log.Info().Str("match_id", matchID.String()).Msg("match cancelled")
		}
		return nil
	}

	claimed, err := s.store.TransitionMatch(ctx, matchID, models.MatchStatusPending, models.MatchStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to start match: %w", err)
	}
	if !claimed {
		return nil
	}

	s.notifier.Notify(ctx, players, events.KindMatchStarted, events.MatchStartedPayload{
		MatchID:   matchID,
		StartedAt: s.clock.Now(),
	})
	log.Info().Str("match_id", matchID.String()).Msg("both participants accepted, match started")

	return s.startRound(ctx, matchID, models.RoundOne)
}
