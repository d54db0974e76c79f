package models

import (
	"github.com/google/uuid"
	"time"
)

// MatchStatus defines the status of a match.
type MatchStatus string

const (
	MatchStatusPending    MatchStatus = "PENDING"
	MatchStatusInProgress MatchStatus = "IN_PROGRESS"
	MatchStatusCompleted  MatchStatus = "COMPLETED"
	MatchStatusCancelled  MatchStatus = "CANCELLED"
)

// Match represents one head-to-head battle between two players.
type Match struct {
	ID          uuid.UUID   `json:"id"`
	Status      MatchStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// MatchParticipant is one player's membership in a match.
// HasAccepted is nil while the player has not responded to the pairing;
// it is settled to true/false at most once, by an explicit response or by
// the acceptance timeout.
type MatchParticipant struct {
	ID          uuid.UUID `json:"id"`
	MatchID     uuid.UUID `json:"match_id"`
	PlayerID    uuid.UUID `json:"player_id"`
	Rating      int       `json:"rating"`
	HasAccepted *bool     `json:"has_accepted,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
