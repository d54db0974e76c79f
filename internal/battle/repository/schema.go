package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddl creates the battle tables. The unique index on
// round_question_answer_logs.round_question_id is what makes the answer-log
// claim a single atomic insert.
const ddl = `
CREATE TABLE IF NOT EXISTS matches (
	id           UUID PRIMARY KEY,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS match_participants (
	id           UUID PRIMARY KEY,
	match_id     UUID NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
	player_id    UUID NOT NULL,
	rating       INTEGER NOT NULL,
	has_accepted BOOLEAN,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS match_rounds (
	id           UUID PRIMARY KEY,
	match_id     UUID NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
	round_number INTEGER NOT NULL,
	status       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (match_id, round_number)
);

CREATE TABLE IF NOT EXISTS match_round_participants (
	id                    UUID PRIMARY KEY,
	round_id              UUID NOT NULL REFERENCES match_rounds(id) ON DELETE CASCADE,
	participant_id        UUID NOT NULL REFERENCES match_participants(id) ON DELETE CASCADE,
	order_selected        INTEGER NOT NULL,
	selected_combatant_id UUID,
	end_time_selected     TIMESTAMPTZ,
	questions_total       INTEGER NOT NULL,
	points                INTEGER NOT NULL DEFAULT 0,
	total_time_ms         BIGINT NOT NULL DEFAULT 0,
	status                TEXT NOT NULL,
	UNIQUE (round_id, order_selected)
);

CREATE TABLE IF NOT EXISTS round_questions (
	id                         UUID PRIMARY KEY,
	match_round_participant_id UUID NOT NULL REFERENCES match_round_participants(id) ON DELETE CASCADE,
	question_id                UUID NOT NULL,
	order_number               INTEGER NOT NULL,
	time_limit_ms              BIGINT NOT NULL,
	base_points                INTEGER NOT NULL,
	end_time_question          TIMESTAMPTZ,
	UNIQUE (match_round_participant_id, order_number)
);

CREATE TABLE IF NOT EXISTS round_question_answer_logs (
	id                UUID PRIMARY KEY,
	round_question_id UUID NOT NULL REFERENCES round_questions(id) ON DELETE CASCADE UNIQUE,
	answer_id         UUID NOT NULL,
	is_correct        BOOLEAN NOT NULL,
	points_earned     INTEGER NOT NULL,
	time_answer_ms    BIGINT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// InitSchema creates the battle tables if they do not exist.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
