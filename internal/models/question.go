package models

import (
	"github.com/google/uuid"
	"time"
)

// RoundQuestion is one question asked to one round participant.
// EndTimeQuestion is nil until the countdown for the question starts, and is
// set exactly once.
type RoundQuestion struct {
	ID                      uuid.UUID  `json:"id"`
	MatchRoundParticipantID uuid.UUID  `json:"match_round_participant_id"`
	QuestionID              uuid.UUID  `json:"question_id"`
	OrderNumber             int        `json:"order_number"`
	TimeLimitMs             int64      `json:"time_limit_ms"`
	BasePoints              int        `json:"base_points"`
	EndTimeQuestion         *time.Time `json:"end_time_question,omitempty"`
}

// RoundQuestionAnswerLog records how a RoundQuestion was resolved. At most
// one log exists per question; it is created by either an explicit answer or
// the question timeout, whichever lands first.
type RoundQuestionAnswerLog struct {
	ID              uuid.UUID `json:"id"`
	RoundQuestionID uuid.UUID `json:"round_question_id"`
	AnswerID        uuid.UUID `json:"answer_id"`
	IsCorrect       bool      `json:"is_correct"`
	PointsEarned    int       `json:"points_earned"`
	TimeAnswerMs    int64     `json:"time_answer_ms"`
	CreatedAt       time.Time `json:"created_at"`
}
