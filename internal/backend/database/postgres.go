package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDatabase struct {
	pool *pgxpool.Pool
}

func NewPostgresDatabase(ctx context.Context, connectionString string) (DatabaseService, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &PostgresDatabase{pool: pool}, nil
}

func (p *PostgresDatabase) CreateDatabase(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS results (
			id TEXT PRIMARY KEY,
			source_filename TEXT NOT NULL,
			target_filename TEXT NOT NULL,
			source_path TEXT NOT NULL,
			target_path TEXT NOT NULL,
			result_path TEXT NOT NULL,
			size BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS results_created_at_idx ON results (created_at);
	`)
	return err
}

func (p *PostgresDatabase) DoesDatabaseExist(ctx context.Context) bool {
	return p.pool.Ping(ctx) == nil
}

func (p *PostgresDatabase) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresDatabase) CreateResult(ctx context.Context, result *Result) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO results (id, source_filename, target_filename, source_path, target_path, result_path, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, result.ID, result.SourceFilename, result.TargetFilename,
		result.SourcePath, result.TargetPath, result.ResultPath,
		result.Size, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert result %s: %w", result.ID, err)
	}
	return nil
}

func (p *PostgresDatabase) GetResult(ctx context.Context, id string) (*Result, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, source_filename, target_filename, source_path, target_path, result_path, size, created_at
		FROM results WHERE id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", id, err)
	}
	result, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Result])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", id, err)
	}
	return result, nil
}

func (p *PostgresDatabase) DeleteResult(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM results WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete result %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresDatabase) DeleteResultsBefore(ctx context.Context, cutoff time.Time) ([]*Result, error) {
	rows, err := p.pool.Query(ctx, `
		DELETE FROM results WHERE created_at < $1
		RETURNING id, source_filename, target_filename, source_path, target_path, result_path, size, created_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired results: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Result])
}
