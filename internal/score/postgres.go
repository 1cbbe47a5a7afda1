package score

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/livequiz/internal/errors"
)

const codeUniqueViolation = "23505"

// PostgresAudit stores scored answers in the answers table.
type PostgresAudit struct {
	db *pgxpool.Pool
}

func NewPostgresAudit(db *pgxpool.Pool) *PostgresAudit {
	return &PostgresAudit{db: db}
}

// Migrate creates the answers table when it does not exist.
func (a *PostgresAudit) Migrate(ctx context.Context) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS answers (
	id             BIGSERIAL PRIMARY KEY,
	session_id     TEXT NOT NULL,
	question_id    TEXT NOT NULL,
	participant_id TEXT NOT NULL,
	answer         TEXT NOT NULL,
	correct        BOOLEAN NOT NULL,
	points         BIGINT NOT NULL,
	create_time    TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, question_id, participant_id)
);`

	if _, err := a.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("migrate answers: %w", err)
	}

	return nil
}

func (a *PostgresAudit) Insert(ctx context.Context, r Record) error {
	const stmt = `
INSERT INTO answers (session_id, question_id, participant_id, answer, correct, points, create_time)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err := a.db.Exec(ctx, stmt, r.SessionID, r.QuestionID, r.ParticipantID, r.Answer, r.Correct, r.Points, r.SubmitTime)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithCause(err))
	}

	return err
}

func (a *PostgresAudit) Totals(ctx context.Context, session string) (map[string]int64, error) {
	const stmt = `
SELECT participant_id, SUM(points) AS score
FROM answers
WHERE session_id = $1
GROUP BY participant_id;`

	rows, err := a.db.Query(ctx, stmt, session)
	if err != nil {
		return nil, err
	}

	type total struct {
		participant string
		score       int64
	}

	totals, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (total, error) {
		var t total
		if err := r.Scan(&t.participant, &t.score); err != nil {
			return total{}, err
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}

	m := make(map[string]int64, len(totals))
	for _, t := range totals {
		m[t.participant] = t.score
	}

	return m, nil
}
