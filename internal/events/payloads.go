// Package events holds the notification kinds and payloads pushed to
// players. Payloads are plain JSON structs shared between the core and the
// gateway.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind names a player-facing event.
type Kind string

const (
	KindMatchFound          Kind = "MatchFound"
	KindMatchStarted        Kind = "MatchStarted"
	KindMatchCancelled      Kind = "MatchCancelled"
	KindMatchCompleted      Kind = "MatchCompleted"
	KindTurnStarted         Kind = "TurnStarted"
	KindCombatantSelected   Kind = "CombatantSelected"
	KindTurnForfeited       Kind = "TurnForfeited"
	KindQuestionStarted     Kind = "QuestionStarted"
	KindQuestionResolved    Kind = "QuestionResolved"
	KindParticipantFinished Kind = "ParticipantFinished"
	KindOpponentFinished    Kind = "OpponentFinished"
	KindQueueEvicted        Kind = "QueueEvicted"
)

// MatchFoundPayload is sent to both players when a pair is formed.
type MatchFoundPayload struct {
	MatchID       uuid.UUID `json:"match_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	OpponentID    uuid.UUID `json:"opponent_id"`
	RespondBy     time.Time `json:"respond_by"`
}

// MatchStartedPayload is sent when both players accepted.
type MatchStartedPayload struct {
	MatchID   uuid.UUID `json:"match_id"`
	StartedAt time.Time `json:"started_at"`
}

// MatchCancelledPayload is sent when any player rejected or timed out.
type MatchCancelledPayload struct {
	MatchID uuid.UUID `json:"match_id"`
}

// MatchCompletedPayload closes out the match after round three.
type MatchCompletedPayload struct {
	MatchID     uuid.UUID     `json:"match_id"`
	CompletedAt time.Time     `json:"completed_at"`
	Results     []MatchResult `json:"results"`
}

// MatchResult is one player's aggregate over the whole match.
type MatchResult struct {
	PlayerID    uuid.UUID `json:"player_id"`
	Points      int       `json:"points"`
	TotalTimeMs int64     `json:"total_time_ms"`
}

// TurnStartedPayload announces whose combatant-selection turn began.
type TurnStartedPayload struct {
	MatchID            uuid.UUID `json:"match_id"`
	RoundNumber        int       `json:"round_number"`
	RoundParticipantID uuid.UUID `json:"round_participant_id"`
	PlayerID           uuid.UUID `json:"player_id"`
	SelectBy           time.Time `json:"select_by"`
}

// CombatantSelectedPayload announces a recorded pick.
type CombatantSelectedPayload struct {
	MatchID            uuid.UUID `json:"match_id"`
	RoundNumber        int       `json:"round_number"`
	RoundParticipantID uuid.UUID `json:"round_participant_id"`
	PlayerID           uuid.UUID `json:"player_id"`
	CombatantID        uuid.UUID `json:"combatant_id"`
}

// TurnForfeitedPayload announces a selection turn lost to the deadline.
type TurnForfeitedPayload struct {
	MatchID            uuid.UUID `json:"match_id"`
	RoundNumber        int       `json:"round_number"`
	RoundParticipantID uuid.UUID `json:"round_participant_id"`
	PlayerID           uuid.UUID `json:"player_id"`
}

// QuestionStartedPayload is sent to the answering player only.
type QuestionStartedPayload struct {
	RoundQuestionID uuid.UUID `json:"round_question_id"`
	QuestionID      uuid.UUID `json:"question_id"`
	OrderNumber     int       `json:"order_number"`
	TimeLimitMs     int64     `json:"time_limit_ms"`
	BasePoints      int       `json:"base_points"`
	AnswerBy        time.Time `json:"answer_by"`
}

// QuestionResolvedPayload reports how a question settled.
type QuestionResolvedPayload struct {
	RoundQuestionID uuid.UUID `json:"round_question_id"`
	AnswerID        uuid.UUID `json:"answer_id"`
	IsCorrect       bool      `json:"is_correct"`
	PointsEarned    int       `json:"points_earned"`
	TimeAnswerMs    int64     `json:"time_answer_ms"`
	AutoResolved    bool      `json:"auto_resolved"`
}

// ParticipantFinishedPayload is sent to the player who just finished their
// question sequence for the round.
type ParticipantFinishedPayload struct {
	MatchID     uuid.UUID `json:"match_id"`
	RoundNumber int       `json:"round_number"`
	Points      int       `json:"points"`
	TotalTimeMs int64     `json:"total_time_ms"`
}

// OpponentFinishedPayload is sent to the other player, so the client can
// show a waiting state without polling.
type OpponentFinishedPayload struct {
	MatchID     uuid.UUID `json:"match_id"`
	RoundNumber int       `json:"round_number"`
}

// QueueEvictedPayload is sent to a player kicked from the matchmaking queue.
type QueueEvictedPayload struct {
	PlayerID uuid.UUID `json:"player_id"`
	WaitedMs int64     `json:"waited_ms"`
}
