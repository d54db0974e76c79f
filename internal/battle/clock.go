package battle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kotobaquest/battle/internal/events"
	"github.com/kotobaquest/battle/internal/models"
	"github.com/kotobaquest/battle/internal/scheduler"
)

// beginQuestionPlay draws the slot's question sequence from the bank and
// starts the first countdown. The IN_PROGRESS claim makes a duplicate
// begin a no-op.
func (s *Service) beginQuestionPlay(ctx context.Context, round *models.MatchRound, rp models.MatchRoundParticipant) error {
	claimed, err := s.store.TransitionRoundParticipant(ctx, rp.ID, models.RoundParticipantPending, models.RoundParticipantInProgress)
	if err != nil {
		return fmt.Errorf("failed to open question play: %w", err)
	}
	if !claimed {
		return nil
	}

	drawn, err := s.bank.Draw(ctx, rp.QuestionsTotal)
	if err != nil {
		return fmt.Errorf("failed to draw questions: %w", err)
	}
	if len(drawn) < rp.QuestionsTotal {
		// A short draw would end the sequence early while questionsTotal
		// still claims the configured count.
		return fmt.Errorf("question bank returned %d questions, need %d", len(drawn), rp.QuestionsTotal)
	}

	questions := make([]models.RoundQuestion, len(drawn))
	for i, q := range drawn {
		questions[i] = models.RoundQuestion{
			ID:                      uuid.New(),
			MatchRoundParticipantID: rp.ID,
			QuestionID:              q.ID,
			OrderNumber:             i + 1,
			TimeLimitMs:             q.TimeLimitMs,
			BasePoints:              q.BasePoints,
		}
	}
	if err := s.store.CreateRoundQuestions(ctx, questions); err != nil {
		return fmt.Errorf("failed to create round questions: %w", err)
	}

	log.Info().
		Str("round_participant_id", rp.ID.String()).
		Int("questions", len(questions)).
		Msg("question sequence created")
	return s.startQuestion(ctx, questions[0])
}

// startQuestion stamps the question deadline exactly once and arms its
// timeout.
func (s *Service) startQuestion(ctx context.Context, rq models.RoundQuestion) error {
	limit := time.Duration(rq.TimeLimitMs) * time.Millisecond
	endTime := s.clock.Now().Add(limit)

	claimed, err := s.store.StartRoundQuestion(ctx, rq.ID, endTime)
	if err != nil {
		return fmt.Errorf("failed to start question countdown: %w", err)
	}
	if !claimed {
		return nil
	}

	s.sched.Schedule(limit, scheduler.Job{
		Kind:      scheduler.JobQuestionTimeout,
		TargetID:  rq.ID,
		ContextID: rq.MatchRoundParticipantID,
	})

	playerID, err := s.playerForRoundParticipant(ctx, rq.MatchRoundParticipantID)
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, []uuid.UUID{playerID}, events.KindQuestionStarted, events.QuestionStartedPayload{
		RoundQuestionID: rq.ID,
		QuestionID:      rq.QuestionID,
		OrderNumber:     rq.OrderNumber,
		TimeLimitMs:     rq.TimeLimitMs,
		BasePoints:      rq.BasePoints,
		AnswerBy:        endTime,
	})
	return nil
}

// SubmitAnswer resolves a question from an explicit answer. The answer log
// insert is the idempotency boundary: if the timeout (or a duplicate
// submission) already resolved the question, the call is ignored.
func (s *Service) SubmitAnswer(ctx context.Context, roundQuestionID, answerID uuid.UUID) error {
	rq, err := s.store.GetRoundQuestion(ctx, roundQuestionID)
	if err != nil {
		return fmt.Errorf("failed to get round question: %w", err)
	}
	if rq.EndTimeQuestion == nil {
		return ErrQuestionNotStarted
	}

	answers, err := s.bank.Answers(ctx, rq.QuestionID)
	if err != nil {
		return fmt.Errorf("failed to load answer set: %w", err)
	}
	var isCorrect bool
	found := false
	for _, a := range answers {
		if a.ID == answerID {
			isCorrect = a.IsCorrect
			found = true
			break
		}
	}
	if !found {
		return ErrUnknownAnswer
	}

	limit := time.Duration(rq.TimeLimitMs) * time.Millisecond
	startedAt := rq.EndTimeQuestion.Add(-limit)
	elapsed := s.clock.Now().Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > limit {
		elapsed = limit
	}
	elapsedMs := elapsed.Milliseconds()

	points := 0
	if isCorrect {
		points = scorePoints(rq.BasePoints, elapsedMs, rq.TimeLimitMs)
	}

	entry := models.RoundQuestionAnswerLog{
		ID:              uuid.New(),
		RoundQuestionID: rq.ID,
		AnswerID:        answerID,
		IsCorrect:       isCorrect,
		PointsEarned:    points,
		TimeAnswerMs:    elapsedMs,
	}
	claimed, err := s.store.ClaimAnswerLog(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to record answer: %w", err)
	}
	if !claimed {
		log.Debug().
			Str("round_question_id", rq.ID.String()).
			Msg("question already resolved, ignoring answer")
		return nil
	}

	playerID, err := s.playerForRoundParticipant(ctx, rq.MatchRoundParticipantID)
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, []uuid.UUID{playerID}, events.KindQuestionResolved, events.QuestionResolvedPayload{
		RoundQuestionID: rq.ID,
		AnswerID:        answerID,
		IsCorrect:       isCorrect,
		PointsEarned:    points,
		TimeAnswerMs:    elapsedMs,
		AutoResolved:    false,
	})

	return s.afterQuestionResolved(ctx, rq)
}

// handleQuestionTimeout auto-resolves an unanswered question: a uniformly
// random answer from the question's own set, zero points, and the full time
// limit charged. A timeout beaten by an explicit answer loses the log claim
// and is a silent no-op.
func (s *Service) handleQuestionTimeout(ctx context.Context, job scheduler.Job) error {
	rq, err := s.store.GetRoundQuestion(ctx, job.TargetID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logDropped(err, "question", job.TargetID)
			return nil
		}
		return fmt.Errorf("failed to get round question: %w", err)
	}

	answers, err := s.bank.Answers(ctx, rq.QuestionID)
	if err != nil {
		return fmt.Errorf("failed to load answer set: %w", err)
	}
	if len(answers) == 0 {
		return fmt.Errorf("question %s has no answer set", rq.QuestionID)
	}
	chosen := s.randomAnswer(answers)

	entry := models.RoundQuestionAnswerLog{
		ID:              uuid.New(),
		RoundQuestionID: rq.ID,
		AnswerID:        chosen.ID,
		IsCorrect:       chosen.IsCorrect,
		PointsEarned:    0,
		TimeAnswerMs:    rq.TimeLimitMs,
	}
	claimed, err := s.store.ClaimAnswerLog(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to record auto-resolution: %w", err)
	}
	if !claimed {
		return nil
	}

	playerID, err := s.playerForRoundParticipant(ctx, rq.MatchRoundParticipantID)
	if err != nil {
		return err
	}
	s.notifier.Notify(ctx, []uuid.UUID{playerID}, events.KindQuestionResolved, events.QuestionResolvedPayload{
		RoundQuestionID: rq.ID,
		AnswerID:        chosen.ID,
		IsCorrect:       chosen.IsCorrect,
		PointsEarned:    0,
		TimeAnswerMs:    rq.TimeLimitMs,
		AutoResolved:    true,
	})
	log.Info().
		Str("round_question_id", rq.ID.String()).
		Msg("question auto-resolved on timeout")

	return s.afterQuestionResolved(ctx, rq)
}

// afterQuestionResolved starts the next question in the sequence, or closes
// out the slot, sends the asymmetric finished notifications, and advances
// the round / match when this was the last open slot.
func (s *Service) afterQuestionResolved(ctx context.Context, rq *models.RoundQuestion) error {
	next, err := s.store.NextRoundQuestion(ctx, rq.MatchRoundParticipantID, rq.OrderNumber)
	if err != nil {
		return fmt.Errorf("failed to find next question: %w", err)
	}
	if next != nil {
		return s.startQuestion(ctx, *next)
	}

	rp, err := s.store.CompleteRoundParticipant(ctx, rq.MatchRoundParticipantID)
	if err != nil {
		return fmt.Errorf("failed to complete round participant: %w", err)
	}

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

	s.notifier.Notify(ctx, []uuid.UUID{part.PlayerID}, events.KindParticipantFinished, events.ParticipantFinishedPayload{
		MatchID:     round.MatchID,
		RoundNumber: int(round.RoundNumber),
		Points:      rp.Points,
		TotalTimeMs: rp.TotalTimeMs,
	})
	for _, pid := range players {
		if pid == part.PlayerID {
			continue
		}
		s.notifier.Notify(ctx, []uuid.UUID{pid}, events.KindOpponentFinished, events.OpponentFinishedPayload{
			MatchID:     round.MatchID,
			RoundNumber: int(round.RoundNumber),
		})
	}

	remaining, err := s.store.CountUnfinishedRoundParticipants(ctx, rp.RoundID)
	if err != nil {
		return fmt.Errorf("failed to count unfinished round participants: %w", err)
	}
	if remaining > 0 {
		return nil
	}

	claimed, err := s.store.TransitionRound(ctx, round.ID, models.RoundStatusInProgress, models.RoundStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to complete round: %w", err)
	}
	if !claimed {
		return nil
	}
	log.Info().
		Str("round_id", round.ID.String()).
		Int("round", int(round.RoundNumber)).
		Msg("round completed")

	if nextRound := round.RoundNumber.Next(); nextRound != 0 {
		return s.startRound(ctx, round.MatchID, nextRound)
	}

	claimed, err = s.store.TransitionMatch(ctx, round.MatchID, models.MatchStatusInProgress, models.MatchStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to complete match: %w", err)
	}
	if !claimed {
		return nil
	}

	results, err := s.store.MatchResults(ctx, round.MatchID)
	if err != nil {
		return fmt.Errorf("failed to aggregate match results: %w", err)
	}
	payload := events.MatchCompletedPayload{
		MatchID:     round.MatchID,
		CompletedAt: s.clock.Now(),
	}
	for _, r := range results {
		payload.Results = append(payload.Results, events.MatchResult{
			PlayerID:    r.PlayerID,
			Points:      r.Points,
			TotalTimeMs: r.TotalTimeMs,
		})
	}
	s.notifier.Notify(ctx, players, events.KindMatchCompleted, payload)
	log.Info().Str("match_id", round.MatchID.String()).Msg("match completed")
	return nil
}

func (s *Service) playerForRoundParticipant(ctx context.Context, roundParticipantID uuid.UUID) (uuid.UUID, error) {
	rp, err := s.store.GetRoundParticipant(ctx, roundParticipantID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to get round participant: %w", err)
	}
	part, err := s.store.GetParticipant(ctx, rp.ParticipantID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return part.PlayerID, nil
}

// scorePoints grants half the base for a correct answer and scales the
// other half with the time left on the clock.
func scorePoints(base int, elapsedMs, limitMs int64) int {
	if limitMs <= 0 {
		return base
	}
	remaining := limitMs - elapsedMs
	if remaining < 0 {
		remaining = 0
	}
	bonus := int(int64(base) * remaining / (2 * limitMs))
	return base/2 + bonus
}
