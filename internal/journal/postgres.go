package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores entries in a shared table for multi-relay deployments.
type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	_, err = pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS drawctl_commands (
		seq         BIGSERIAL PRIMARY KEY,
		command_id  TEXT NOT NULL,
		action      TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		started_at  TIMESTAMPTZ NOT NULL,
		duration_ns BIGINT NOT NULL
	)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Record(ctx context.Context, e Entry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO drawctl_commands (command_id, action, outcome, error, started_at, duration_ns)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.CommandID, e.Action, e.Outcome, e.Error, e.StartedAt.UTC(), int64(e.Duration),
	)
	return err
}

// Recent returns up to limit entries, newest first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx,
		`SELECT command_id, action, outcome, error, started_at, duration_ns
		 FROM drawctl_commands ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			duration int64
		)
		if err := rows.Scan(&e.CommandID, &e.Action, &e.Outcome, &e.Error, &e.StartedAt, &duration); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(duration)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
