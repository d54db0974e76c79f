package models

import (
	"github.com/google/uuid"
	"time"
)

// RoundNumber identifies one of the three rounds of a match.
type RoundNumber int

const (
	RoundOne   RoundNumber = 1
	RoundTwo   RoundNumber = 2
	RoundThree RoundNumber = 3
)

// Next returns the following round number, or 0 when the match is over.
func (n RoundNumber) Next() RoundNumber {
	switch n {
	case RoundOne:
		return RoundTwo
	case RoundTwo:
		return RoundThree
	default:
		return 0
	}
}

// MatchRoundStatus defines the status of a round within a match.
type MatchRoundStatus string

const (
	RoundStatusPending    MatchRoundStatus = "PENDING"
	RoundStatusSelecting  MatchRoundStatus = "SELECTING"
	RoundStatusInProgress MatchRoundStatus = "IN_PROGRESS"
	RoundStatusCompleted  MatchRoundStatus = "COMPLETED"
)

// MatchRound represents one round of a match. All three rounds are created
// up front when the match starts; at most one is active at a time.
type MatchRound struct {
	ID          uuid.UUID        `json:"id"`
	MatchID     uuid.UUID        `json:"match_id"`
	RoundNumber RoundNumber      `json:"round_number"`
	Status      MatchRoundStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
}

// RoundParticipantStatus defines the status of a player within a round.
type RoundParticipantStatus string

const (
	RoundParticipantSelecting  RoundParticipantStatus = "SELECTING"
	RoundParticipantPending    RoundParticipantStatus = "PENDING"
	RoundParticipantInProgress RoundParticipantStatus = "IN_PROGRESS"
	RoundParticipantCompleted  RoundParticipantStatus = "COMPLETED"
)

// MatchRoundParticipant is one player's presence within one round. It owns
// the combatant selection turn and the question sequence for that round.
// OrderSelected is a strict total order within the round; the active turn is
// the lowest OrderSelected not yet completed.
type MatchRoundParticipant struct {
	ID                  uuid.UUID              `json:"id"`
	RoundID             uuid.UUID              `json:"round_id"`
	ParticipantID       uuid.UUID              `json:"participant_id"`
	OrderSelected       int                    `json:"order_selected"`
	SelectedCombatantID *uuid.UUID             `json:"selected_combatant_id,omitempty"`
	EndTimeSelected     *time.Time             `json:"end_time_selected,omitempty"`
	QuestionsTotal      int                    `json:"questions_total"`
	Points              int                    `json:"points"`
	TotalTimeMs         int64                  `json:"total_time_ms"`
	Status              RoundParticipantStatus `json:"status"`
}
