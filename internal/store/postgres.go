package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS meetings (
	id         TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// maxInsertRetries bounds retries when two writers race to create a record
const maxInsertRetries = 3

// Postgres keeps meeting documents in a jsonb column and locks rows with
// SELECT ... FOR UPDATE during mutations
type Postgres struct {
	documents

	pool *pgxpool.Pool
}

// OpenPostgres connects to the database and ensures the schema exists
func OpenPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	p := &Postgres{pool: pool}
	p.documents = documents{engine: p}
	return p, nil
}

func (p *Postgres) load(ctx context.Context, id string) ([]byte, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT doc FROM meetings WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	return doc, nil
}

func (p *Postgres) mutate(ctx context.Context, id string, fn mutateFunc) error {
	for attempt := 0; attempt < maxInsertRetries; attempt++ {
		retry, err := p.mutateOnce(ctx, id, fn)
		if err != nil || !retry {
			return err
		}
	}
	return fmt.Errorf("mutate %s: concurrent create conflict", id)
}

func (p *Postgres) mutateOnce(ctx context.Context, id string, fn mutateFunc) (bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current []byte
	err = tx.QueryRow(ctx, `SELECT doc FROM meetings WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	exists := true
	if errors.Is(err, pgx.ErrNoRows) {
		exists = false
		current = nil
	} else if err != nil {
		return false, fmt.Errorf("select %s: %w", id, err)
	}

	out, err := fn(current)
	if err != nil {
		return false, err
	}
	if out == nil {
		return false, nil
	}

	if exists {
		_, err = tx.Exec(ctx, `UPDATE meetings SET doc = $2, updated_at = now() WHERE id = $1`, id, out)
		if err != nil {
			return false, fmt.Errorf("update %s: %w", id, err)
		}
	} else {
		tag, err := tx.Exec(ctx, `INSERT INTO meetings (id, doc) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, id, out)
		if err != nil {
			return false, fmt.Errorf("insert %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			// another writer created the row first; re-read it under lock
			return true, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit %s: %w", id, err)
	}
	return false, nil
}

// Close closes the connection pool
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
