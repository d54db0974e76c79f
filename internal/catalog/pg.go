package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGCombatantCatalog reads the combatant tables owned by the content service.
type PGCombatantCatalog struct {
	pool *pgxpool.Pool
}

func NewPGCombatantCatalog(pool *pgxpool.Pool) *PGCombatantCatalog {
	return &PGCombatantCatalog{pool: pool}
}

func (c *PGCombatantCatalog) CombatantsForPlayer(ctx context.Context, playerID uuid.UUID) ([]Combatant, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT c.id, c.name
		 FROM combatants c
		 JOIN player_combatants pc ON pc.combatant_id = c.id
		 WHERE pc.player_id = $1
		 ORDER BY c.name`,
		playerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list combatants: %w", err)
	}
	defer rows.Close()

	var combatants []Combatant
	for rows.Next() {
		var cb Combatant
		if err := rows.Scan(&cb.ID, &cb.Name); err != nil {
			return nil, fmt.Errorf("failed to scan combatant: %w", err)
		}
		combatants = append(combatants, cb)
	}
	return combatants, rows.Err()
}

// PGQuestionBank reads the question tables owned by the content service.
type PGQuestionBank struct {
	pool *pgxpool.Pool
}

func NewPGQuestionBank(pool *pgxpool.Pool) *PGQuestionBank {
	return &PGQuestionBank{pool: pool}
}

func (b *PGQuestionBank) Draw(ctx context.Context, n int) ([]Question, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id, time_limit_ms, base_points
		 FROM questions
		 ORDER BY RANDOM()
		 LIMIT $1`,
		n)
	if err != nil {
		return nil, fmt.Errorf("failed to draw questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.TimeLimitMs, &q.BasePoints); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (b *PGQuestionBank) Answers(ctx context.Context, questionID uuid.UUID) ([]Answer, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id, question_id, is_correct
		 FROM question_answers
		 WHERE question_id = $1
		 ORDER BY id`,
		questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers: %w", err)
	}
	defer rows.Close()

	var answers []Answer
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.IsCorrect); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
