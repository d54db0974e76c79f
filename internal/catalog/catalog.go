// Package catalog exposes the read-only content surfaces the battle core
// consumes: the combatants a player may field and the question/answer pool.
// Content management itself belongs to other services; the core never writes
// these tables.
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Combatant is one selectable combatant.
type Combatant struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Question is one drawable question with its play parameters.
type Question struct {
	ID          uuid.UUID `json:"id"`
	TimeLimitMs int64     `json:"time_limit_ms"`
	BasePoints  int       `json:"base_points"`
}

// Answer is one option of a question's answer set.
type Answer struct {
	ID         uuid.UUID `json:"id"`
	QuestionID uuid.UUID `json:"question_id"`
	IsCorrect  bool      `json:"is_correct"`
}

// CombatantCatalog lists the combatants a player has unlocked.
type CombatantCatalog interface {
	CombatantsForPlayer(ctx context.Context, playerID uuid.UUID) ([]Combatant, error)
}

// QuestionBank draws questions and resolves answer sets.
type QuestionBank interface {
	Draw(ctx context.Context, n int) ([]Question, error)
	Answers(ctx context.Context, questionID uuid.UUID) ([]Answer, error)
}
