package battle

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kotobaquest/battle/internal/events"
	"github.com/kotobaquest/battle/internal/models"
	"github.com/kotobaquest/battle/internal/scheduler"
)

// startRound opens a round's selection phase and hands the first turn out.
// The turn order rotates with the round number, so the player who picked
// second last round picks first in the next one.
func (s *Service) startRound(ctx context.Context, matchID uuid.UUID, n models.RoundNumber) error {
	round, err := s.store.GetRoundByNumber(ctx, matchID, n)
	if err != nil {
		return fmt.Errorf("failed to get round %d: %w", n, err)
	}

	claimed, err := s.store.TransitionRound(ctx, round.ID, models.RoundStatusPending, models.RoundStatusSelecting)
	if err != nil {
		return fmt.Errorf("failed to open round selection: %w", err)
	}
	if !claimed {
		return nil
	}

	parts, err := s.store.ListParticipants(ctx, matchID)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}

	offset := (int(n) - 1) % len(parts)
	news := make([]NewRoundParticipant, len(parts))
	for i := range parts {
		news[i] = NewRoundParticipant{
			ParticipantID:  parts[(i+offset)%len(parts)].ID,
			OrderSelected:  i + 1,
			QuestionsTotal: s.cfg.QuestionsPerRound,
		}
	}

	rps, err := s.store.CreateRoundParticipants(ctx, round.ID, news)
	if err != nil {
		return fmt.Errorf("failed to create round participants: %w", err)
	}

	log.Info().
		Str("match_id", matchID.String()).
		Int("round", int(n)).
		Msg("round selection phase started")
	return s.startTurn(ctx, round, rps[0])
}

// startTurn stamps the selection deadline, arms the turn timeout and tells
// both players whose turn it is.
func (s *Service) startTurn(ctx context.Context, round *models.MatchRound, rp models.MatchRoundParticipant) error {
	deadline := s.clock.Now().Add(s.cfg.SelectTimeout)
	if err := s.store.StartSelectionTurn(ctx, rp.ID, deadline); err != nil {
		return fmt.Errorf("failed to start selection turn: %w", err)
	}

	s.sched.Schedule(s.cfg.SelectTimeout, scheduler.Job{
		Kind:     scheduler.JobSelectionTimeout,
		TargetID: rp.ID,
	})

	part, err := s.store.GetParticipant(ctx, rp.ParticipantID)
	if err != nil {
		return fmt.Errorf("failed to get participant: %w", err)
	}
	players, err := s.matchPlayerIDs(ctx, round.MatchID)
	if err != nil {
		return fmt.Errorf("failed to list match players: %w", err)
	}

	s.notifier.Notify(ctx, players, events.KindTurnStarted, events.TurnStartedPayload{
		MatchID:            round.MatchID,
		RoundNumber:        int(round.RoundNumber),
		RoundParticipantID: rp.ID,
		PlayerID:           part.PlayerID,
		SelectBy:           deadline,
	})
	return nil
}

// SelectCombatant records an explicit pick. The pick must land while the
// turn is still open and unselected; a pick that lost the race to the turn
// timeout is ignored.
func (s *Service) SelectCombatant(ctx context.Context, roundParticipantID, combatantID uuid.UUID) error {
	rp, err := s.store.GetRoundParticipant(ctx, roundParticipantID)
	if err != nil {
		return fmt.Errorf("failed to get round participant: %w", err)
	}
	part, err := s.store.GetParticipant(ctx, rp.ParticipantID)
	if err != nil {
		return fmt.Errorf("failed to get participant: %w", err)
	}

	available, err := s.combatants.CombatantsForPlayer(ctx, part.PlayerID)
	if err != nil {
		return fmt.Errorf("failed to load combatants: %w", err)
	}
	owned := false
	for _, c := range available {
		if c.ID == combatantID {
			owned = true
			break
		}
	}
	if !owned {
		return ErrCombatantUnavailable
	}

	claimed, err := s.store.ClaimCombatant(ctx, roundParticipantID, combatantID)
	if err != nil {
		return fmt.Errorf("failed to record pick: %w", err)
	}
	if !claimed {
		log.Debug().
			Str("round_participant_id", roundParticipantID.String()).
			Msg("turn already settled, ignoring pick")
		return nil
	}

	round, err := s.store.GetRound(ctx, rp.RoundID)
	if err != nil {
		return fmt.Errorf("failed to get round: %w", err)
	}
	players, err := s.matchPlayerIDs(ctx, round.MatchID)
	if err != nil {
		return fmt.Errorf("failed to list match players: %w", err)
	}
	s.notifier.Notify(ctx, players, events.KindCombatantSelected, events.CombatantSelectedPayload{
		MatchID:            round.MatchID,
		RoundNumber:        int(round.RoundNumber),
		RoundParticipantID: rp.ID,
		PlayerID:           part.PlayerID,
		CombatantID:        combatantID,
	})

	return s.settleTurn(ctx, rp)
}

// handleSelectionTimeout forfeits an unselected turn. Regardless of whether
// a pick was recorded, the relay always advances; only the settlement claim
// decides which path advances it.
func (s *Service) handleSelectionTimeout(ctx context.Context, job scheduler.Job) error {
	rp, err := s.store.GetRoundParticipant(ctx, job.TargetID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logDropped(err, "selection", job.TargetID)
			return nil
		}
		return fmt.Errorf("failed to get round participant: %w", err)
	}
	return s.settleTurnFromTimeout(ctx, rp)
}

func (s *Service) settleTurnFromTimeout(ctx context.Context, rp *models.MatchRoundParticipant) error {
	claimed, err := s.store.TransitionRoundParticipant(ctx, rp.ID, models.RoundParticipantSelecting, models.RoundParticipantPending)
	if err != nil {
		return fmt.Errorf("failed to settle turn: %w", err)
	}
	if !claimed {
		// The explicit pick won and is advancing the relay.
		return nil
	}

	// Re-read after winning the claim: a pick may have landed between the
	// earlier read and the claim.
	settled, err := s.store.GetRoundParticipant(ctx, rp.ID)
	if err != nil {
		return fmt.Errorf("failed to re-read round participant: %w", err)
	}
	if settled.SelectedCombatantID == nil {
		round, err := s.store.GetRound(ctx, rp.RoundID)
		if err != nil {
			return fmt.Errorf("failed to get round: %w", err)
		}
		part, err := s.store.GetParticipant(ctx, rp.ParticipantID)
		if err != nil {
			return fmt.Errorf("failed to get participant: %w", err)
		}
		players, err := s.matchPlayerIDs(ctx, round.MatchID)
		if err != nil {
			return fmt.Errorf("failed to list match players: %w", err)
		}
		s.notifier.Notify(ctx, players, events.KindTurnForfeited, events.TurnForfeitedPayload{
			MatchID:            round.MatchID,
			RoundNumber:        int(round.RoundNumber),
			RoundParticipantID: rp.ID,
			PlayerID:           part.PlayerID,
		})
		log.Info().
			Str("round_participant_id", rp.ID.String()).
			Msg("selection turn forfeited on timeout")
	}

	return s.advanceSelection(ctx, settled)
}

// settleTurn closes the turn after an explicit pick and advances if this
// path won the settlement claim.
func (s *Service) settleTurn(ctx context.Context, rp *models.MatchRoundParticipant) error {
	claimed, err := s.store.TransitionRoundParticipant(ctx, rp.ID, models.RoundParticipantSelecting, models.RoundParticipantPending)
	if err != nil {
		return fmt.Errorf("failed to settle turn: %w", err)
	}
	if !claimed {
		return nil
	}
	return s.advanceSelection(ctx, rp)
}

// advanceSelection hands the turn to the next slot in the relay, or ends
// the selection phase and opens question play for every slot in turn order.
func (s *Service) advanceSelection(ctx context.Context, rp *models.MatchRoundParticipant) error {
	round, err := s.store.GetRound(ctx, rp.RoundID)
	if err != nil {
		return fmt.Errorf("failed to get round: %w", err)
	}

	next, err := s.store.NextRoundParticipant(ctx, rp.RoundID, rp.OrderSelected)
	if err != nil {
		return fmt.Errorf("failed to find next turn: %w", err)
	}
	if next != nil {
		return s.startTurn(ctx, round, *next)
	}

	claimed, err := s.store.TransitionRound(ctx, round.ID, models.RoundStatusSelecting, models.RoundStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to close selection phase: %w", err)
	}
	if !claimed {
		return nil
	}
	log.Info().
		Str("round_id", round.ID.String()).
		Int("round", int(round.RoundNumber)).
		Msg("selection phase over, question play begins")

	rps, err := s.store.ListRoundParticipants(ctx, round.ID)
	if err != nil {
		return fmt.Errorf("failed to list round participants: %w", err)
	}
	for _, each := range rps {
		if err := s.beginQuestionPlay(ctx, round, each); err != nil {
			return err
		}
	}
	return nil
}
