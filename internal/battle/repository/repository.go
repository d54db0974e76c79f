// Package repository implements the battle Store on postgres via pgx.
// The claim operations are single conditional statements, so the
// read-check-write the orchestration relies on happens atomically inside
// the database, never in the caller.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kotobaquest/battle/internal/battle"
	"github.com/kotobaquest/battle/internal/models"
	"github.com/kotobaquest/battle/internal/sqlutil"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const participantColumns = "id, match_id, player_id, rating, has_accepted, created_at"

func (r *Repository) CreateMatch(ctx context.Context, players [2]battle.NewParticipant) (*models.Match, []models.MatchParticipant, error) {
	match := &models.Match{
		ID:     uuid.New(),
		Status: models.MatchStatusPending,
	}
	parts := make([]models.MatchParticipant, 2)

	err := sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO matches (id, status) VALUES ($1, $2)
			 RETURNING created_at, updated_at`,
			match.ID, match.Status)
		if err := row.Scan(&match.CreatedAt, &match.UpdatedAt); err != nil {
			return err
		}

		for i, p := range players {
			parts[i] = models.MatchParticipant{
				ID:       uuid.New(),
				MatchID:  match.ID,
				PlayerID: p.PlayerID,
				Rating:   p.Rating,
			}
			row := tx.QueryRow(ctx,
				`INSERT INTO match_participants (id, match_id, player_id, rating)
				 VALUES ($1, $2, $3, $4)
				 RETURNING created_at`,
				parts[i].ID, match.ID, p.PlayerID, p.Rating)
			if err := row.Scan(&parts[i].CreatedAt); err != nil {
				return err
			}
		}

		for n := models.RoundOne; n <= models.RoundThree; n++ {
			if _, err := tx.Exec(ctx,
				`INSERT INTO match_rounds (id, match_id, round_number, status)
				 VALUES ($1, $2, $3, $4)`,
				uuid.New(), match.ID, int(n), models.RoundStatusPending); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create match: %w", err)
	}
	return match, parts, nil
}

func (r *Repository) GetParticipant(ctx context.Context, id uuid.UUID) (*models.MatchParticipant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM match_participants WHERE id = $1`, id)
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

func (r *Repository) ListParticipants(ctx context.Context, matchID uuid.UUID) ([]models.MatchParticipant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM match_participants
		 WHERE match_id = $1 ORDER BY created_at, id`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var parts []models.MatchParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		parts = append(parts, *p)
	}
	return parts, rows.Err()
}

func (r *Repository) ClaimAcceptance(ctx context.Context, participantID uuid.UUID, accepted bool) (*models.MatchParticipant, bool, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE match_participants SET has_accepted = $2
		 WHERE id = $1 AND has_accepted IS NULL
		 RETURNING `+participantColumns,
		participantID, accepted)
	p, err := scanParticipant(row)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to claim acceptance: %w", err)
	}

	// Either already settled or gone; distinguish for the caller.
	if _, err := r.GetParticipant(ctx, participantID); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

func (r *Repository) TransitionMatch(ctx context.Context, matchID uuid.UUID, from, to models.MatchStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE matches SET
			status = $3,
			updated_at = NOW(),
			started_at = CASE WHEN $3 = 'IN_PROGRESS' THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $3 = 'COMPLETED' THEN NOW() ELSE completed_at END
		 WHERE id = $1 AND status = $2`,
		matchID, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition match: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const roundColumns = "id, match_id, round_number, status, created_at"

func (r *Repository) GetRound(ctx context.Context, roundID uuid.UUID) (*models.MatchRound, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM match_rounds WHERE id = $1`, roundID)
	return scanRound(row)
}

func (r *Repository) GetRoundByNumber(ctx context.Context, matchID uuid.UUID, n models.RoundNumber) (*models.MatchRound, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM match_rounds
		 WHERE match_id = $1 AND round_number = $2`, matchID, int(n))
	return scanRound(row)
}

func (r *Repository) TransitionRound(ctx context.Context, roundID uuid.UUID, from, to models.MatchRoundStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE match_rounds SET status = $3 WHERE id = $1 AND status = $2`,
		roundID, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition round: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const roundParticipantColumns = `id, round_id, participant_id, order_selected,
	selected_combatant_id, end_time_selected, questions_total, points,
	total_time_ms, status`

func (r *Repository) CreateRoundParticipants(ctx context.Context, roundID uuid.UUID, participants []battle.NewRoundParticipant) ([]models.MatchRoundParticipant, error) {
	created := make([]models.MatchRoundParticipant, len(participants))
	err := sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for i, np := range participants {
			created[i] = models.MatchRoundParticipant{
				ID:             uuid.New(),
				RoundID:        roundID,
				ParticipantID:  np.ParticipantID,
				OrderSelected:  np.OrderSelected,
				QuestionsTotal: np.QuestionsTotal,
				Status:         models.RoundParticipantPending,
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO match_round_participants
					(id, round_id, participant_id, order_selected, questions_total, status)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				created[i].ID, roundID, np.ParticipantID, np.OrderSelected,
				np.QuestionsTotal, created[i].Status); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create round participants: %w", err)
	}
	return created, nil
}

func (r *Repository) GetRoundParticipant(ctx context.Context, id uuid.UUID) (*models.MatchRoundParticipant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+roundParticipantColumns+` FROM match_round_participants WHERE id = $1`, id)
	return scanRoundParticipant(row)
}

func (r *Repository) ListRoundParticipants(ctx context.Context, roundID uuid.UUID) ([]models.MatchRoundParticipant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+roundParticipantColumns+` FROM match_round_participants
		 WHERE round_id = $1 ORDER BY order_selected`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list round participants: %w", err)
	}
	defer rows.Close()

	var rps []models.MatchRoundParticipant
	for rows.Next() {
		rp, err := scanRoundParticipant(rows)
		if err != nil {
			return nil, err
		}
		rps = append(rps, *rp)
	}
	return rps, rows.Err()
}

func (r *Repository) StartSelectionTurn(ctx context.Context, roundParticipantID uuid.UUID, deadline time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE match_round_participants
		 SET end_time_selected = $2, status = $3
		 WHERE id = $1 AND status = $4`,
		roundParticipantID, deadline,
		models.RoundParticipantSelecting, models.RoundParticipantPending)
	if err != nil {
		return fmt.Errorf("failed to start selection turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Turn was already opened; idempotent.
		if _, err := r.GetRoundParticipant(ctx, roundParticipantID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) ClaimCombatant(ctx context.Context, roundParticipantID, combatantID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE match_round_participants SET selected_combatant_id = $2
		 WHERE id = $1 AND selected_combatant_id IS NULL AND status = $3`,
		roundParticipantID, combatantID, models.RoundParticipantSelecting)
	if err != nil {
		return false, fmt.Errorf("failed to claim combatant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) TransitionRoundParticipant(ctx context.Context, roundParticipantID uuid.UUID, from, to models.RoundParticipantStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE match_round_participants SET status = $3 WHERE id = $1 AND status = $2`,
		roundParticipantID, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition round participant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) NextRoundParticipant(ctx context.Context, roundID uuid.UUID, afterOrder int) (*models.MatchRoundParticipant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+roundParticipantColumns+` FROM match_round_participants
		 WHERE round_id = $1 AND order_selected > $2
		 ORDER BY order_selected LIMIT 1`,
		roundID, afterOrder)
	rp, err := scanRoundParticipant(row)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rp, nil
}

func (r *Repository) CountUnfinishedRoundParticipants(ctx context.Context, roundID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM match_round_participants
		 WHERE round_id = $1 AND status <> $2`,
		roundID, models.RoundParticipantCompleted).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unfinished round participants: %w", err)
	}
	return count, nil
}

func (r *Repository) CompleteRoundParticipant(ctx context.Context, roundParticipantID uuid.UUID) (*models.MatchRoundParticipant, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE match_round_participants mrp SET
			points = agg.points,
			total_time_ms = agg.total_time_ms,
			status = $2
		 FROM (
			SELECT COALESCE(SUM(l.points_earned), 0) AS points,
			       COALESCE(SUM(l.time_answer_ms), 0) AS total_time_ms
			FROM round_question_answer_logs l
			JOIN round_questions q ON q.id = l.round_question_id
			WHERE q.match_round_participant_id = $1
		 ) agg
		 WHERE mrp.id = $1 AND mrp.status = $3
		 RETURNING mrp.id, mrp.round_id, mrp.participant_id, mrp.order_selected,
			mrp.selected_combatant_id, mrp.end_time_selected, mrp.questions_total,
			mrp.points, mrp.total_time_ms, mrp.status`,
		roundParticipantID, models.RoundParticipantCompleted, models.RoundParticipantInProgress)
	rp, err := scanRoundParticipant(row)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Already completed; return the stored totals.
			return r.GetRoundParticipant(ctx, roundParticipantID)
		}
		return nil, err
	}
	return rp, nil
}

const questionColumns = `id, match_round_participant_id, question_id, order_number,
	time_limit_ms, base_points, end_time_question`

func (r *Repository) CreateRoundQuestions(ctx context.Context, questions []models.RoundQuestion) error {
	err := sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, q := range questions {
			if _, err := tx.Exec(ctx,
				`INSERT INTO round_questions
					(id, match_round_participant_id, question_id, order_number, time_limit_ms, base_points)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				q.ID, q.MatchRoundParticipantID, q.QuestionID, q.OrderNumber,
				q.TimeLimitMs, q.BasePoints); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create round questions: %w", err)
	}
	return nil
}

func (r *Repository) GetRoundQuestion(ctx context.Context, id uuid.UUID) (*models.RoundQuestion, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM round_questions WHERE id = $1`, id)
	return scanQuestion(row)
}

func (r *Repository) StartRoundQuestion(ctx context.Context, questionID uuid.UUID, endTime time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE round_questions SET end_time_question = $2
		 WHERE id = $1 AND end_time_question IS NULL`,
		questionID, endTime)
	if err != nil {
		return false, fmt.Errorf("failed to start round question: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) ClaimAnswerLog(ctx context.Context, entry models.RoundQuestionAnswerLog) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO round_question_answer_logs
			(id, round_question_id, answer_id, is_correct, points_earned, time_answer_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (round_question_id) DO NOTHING`,
		entry.ID, entry.RoundQuestionID, entry.AnswerID,
		entry.IsCorrect, entry.PointsEarned, entry.TimeAnswerMs)
	if err != nil {
		return false, fmt.Errorf("failed to insert answer log: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) NextRoundQuestion(ctx context.Context, roundParticipantID uuid.UUID, afterOrder int) (*models.RoundQuestion, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM round_questions
		 WHERE match_round_participant_id = $1 AND order_number > $2
		 ORDER BY order_number LIMIT 1`,
		roundParticipantID, afterOrder)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return q, nil
}

func (r *Repository) MatchResults(ctx context.Context, matchID uuid.UUID) ([]battle.ParticipantTotals, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT mp.player_id,
			COALESCE(SUM(mrp.points), 0),
			COALESCE(SUM(mrp.total_time_ms), 0)
		 FROM match_participants mp
		 LEFT JOIN match_round_participants mrp ON mrp.participant_id = mp.id
		 WHERE mp.match_id = $1
		 GROUP BY mp.player_id, mp.created_at
		 ORDER BY mp.created_at`,
		matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate match results: %w", err)
	}
	defer rows.Close()

	var totals []battle.ParticipantTotals
	for rows.Next() {
		var t battle.ParticipantTotals
		if err := rows.Scan(&t.PlayerID, &t.Points, &t.TotalTimeMs); err != nil {
			return nil, fmt.Errorf("failed to scan match result: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func scanParticipant(row pgx.Row) (*models.MatchParticipant, error) {
	var p models.MatchParticipant
	err := row.Scan(&p.ID, &p.MatchID, &p.PlayerID, &p.Rating, &p.HasAccepted, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanRound(row pgx.Row) (*models.MatchRound, error) {
	var rd models.MatchRound
	var n int
	err := row.Scan(&rd.ID, &rd.MatchID, &n, &rd.Status, &rd.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan round: %w", err)
	}
	rd.RoundNumber = models.RoundNumber(n)
	return &rd, nil
}

func scanRoundParticipant(row pgx.Row) (*models.MatchRoundParticipant, error) {
	var rp models.MatchRoundParticipant
	err := row.Scan(&rp.ID, &rp.RoundID, &rp.ParticipantID, &rp.OrderSelected,
		&rp.SelectedCombatantID, &rp.EndTimeSelected, &rp.QuestionsTotal,
		&rp.Points, &rp.TotalTimeMs, &rp.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan round participant: %w", err)
	}
	return &rp, nil
}

func scanQuestion(row pgx.Row) (*models.RoundQuestion, error) {
	var q models.RoundQuestion
	err := row.Scan(&q.ID, &q.MatchRoundParticipantID, &q.QuestionID, &q.OrderNumber,
		&q.TimeLimitMs, &q.BasePoints, &q.EndTimeQuestion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan round question: %w", err)
	}
	return &q, nil
}
