package battle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/kotobaquest/battle/internal/models"
)

// Errors surfaced to explicit callers. Expected races (second answer, second
// accept, late pick) are not errors; they come back as silent no-ops.
var (
	ErrCombatantUnavailable = errors.New("combatant not available to player")
	ErrUnknownAnswer        = errors.New("answer does not belong to question")
	ErrQuestionNotStarted   = errors.New("question countdown has not started")
)

// Config carries the orchestration tunables.
type Config struct {
	AcceptTimeout     time.Duration // acceptance handshake deadline
	SelectTimeout     time.Duration // combatant selection turn deadline
	QuestionsPerRound int
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		AcceptTimeout:     25 * time.Second,
		SelectTimeout:     30 * time.Second,
		QuestionsPerRound: 5,
	}
}

// NewParticipant is the input for creating one side of a match.
type NewParticipant struct {
	PlayerID uuid.UUID
	Rating   int
}

// NewRoundParticipant is the input for creating one player's slot in a round.
type NewRoundParticipant struct {
	ParticipantID  uuid.UUID
	OrderSelected  int
	QuestionsTotal int
}

// ParticipantTotals is one player's aggregate over a whole match.
type ParticipantTotals struct {
	PlayerID    uuid.UUID
	Points      int
	TotalTimeMs int64
}

// Store is the transactional persistence port for the seven battle entities.
// Every Claim*/Transition* method is a single conditional write: it succeeds
// only when the guarded field or status is still in its expected state, and
// reports false otherwise. That conditional is the idempotency boundary that
// serializes competing writers (user action vs timeout) per entity.
type Store interface {
	// CreateMatch creates the match in PENDING with both participants
	// unsettled and its three rounds in PENDING, atomically.
	CreateMatch(ctx context.Context, players [2]NewParticipant) (*models.Match, []models.MatchParticipant, error)
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.MatchParticipant, error)
	ListParticipants(ctx context.Context, matchID uuid.UUID) ([]models.MatchParticipant, error)
	// ClaimAcceptance settles hasAccepted only if it is still unset. The
	// participant is returned when the claim wins.
	ClaimAcceptance(ctx context.Context, participantID uuid.UUID, accepted bool) (*models.MatchParticipant, bool, error)
	TransitionMatch(ctx context.Context, matchID uuid.UUID, from, to models.MatchStatus) (bool, error)

	GetRound(ctx context.Context, roundID uuid.UUID) (*models.MatchRound, error)
	GetRoundByNumber(ctx context.Context, matchID uuid.UUID, n models.RoundNumber) (*models.MatchRound, error)
	TransitionRound(ctx context.Context, roundID uuid.UUID, from, to models.MatchRoundStatus) (bool, error)

	CreateRoundParticipants(ctx context.Context, roundID uuid.UUID, participants []NewRoundParticipant) ([]models.MatchRoundParticipant, error)
	GetRoundParticipant(ctx context.Context, id uuid.UUID) (*models.MatchRoundParticipant, error)
	ListRoundParticipants(ctx context.Context, roundID uuid.UUID) ([]models.MatchRoundParticipant, error)
	// StartSelectionTurn stamps the selection deadline and moves the slot to
	// SELECTING.
	StartSelectionTurn(ctx context.Context, roundParticipantID uuid.UUID, deadline time.Time) error
	// ClaimCombatant records the pick only while the turn is open and no
	// combatant has been recorded yet.
	ClaimCombatant(ctx context.Context, roundParticipantID, combatantID uuid.UUID) (bool, error)
	TransitionRoundParticipant(ctx context.Context, roundParticipantID uuid.UUID, from, to models.RoundParticipantStatus) (bool, error)
	// NextRoundParticipant returns the slot with the smallest OrderSelected
	// greater than afterOrder, or nil when the relay is over.
	NextRoundParticipant(ctx context.Context, roundID uuid.UUID, afterOrder int) (*models.MatchRoundParticipant, error)
	CountUnfinishedRoundParticipants(ctx context.Context, roundID uuid.UUID) (int, error)
	// CompleteRoundParticipant sums points and answer time across the slot's
	// answer logs, stores the totals and marks it COMPLETED, atomically.
	CompleteRoundParticipant(ctx context.Context, roundParticipantID uuid.UUID) (*models.MatchRoundParticipant, error)

	CreateRoundQuestions(ctx context.Context, questions []models.RoundQuestion) error
	GetRoundQuestion(ctx context.Context, id uuid.UUID) (*models.RoundQuestion, error)
	// StartRoundQuestion sets endTimeQuestion exactly once.
	StartRoundQuestion(ctx context.Context, questionID uuid.UUID, endTime time.Time) (bool, error)
	// ClaimAnswerLog inserts the log only if the question has none yet.
	ClaimAnswerLog(ctx context.Context, log models.RoundQuestionAnswerLog) (bool, error)
	NextRoundQuestion(ctx context.Context, roundParticipantID uuid.UUID, afterOrder int) (*models.RoundQuestion, error)

	MatchResults(ctx context.Context, matchID uuid.UUID) ([]ParticipantTotals, error)
}
