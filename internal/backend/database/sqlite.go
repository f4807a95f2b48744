package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer and ":memory:" databases exist per connection
	db.SetMaxOpenConns(1)

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		source_filename TEXT NOT NULL,
		target_filename TEXT NOT NULL,
		source_path TEXT NOT NULL,
		target_path TEXT NOT NULL,
		result_path TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS results_created_at_idx ON results (created_at)`)
	return err
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist(ctx context.Context) bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.PingContext(ctx)
	return err == nil
}

func (s *SQLiteDatabase) CreateResult(ctx context.Context, result *Result) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO results
		(id, source_filename, target_filename, source_path, target_path, result_path, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.SourceFilename, result.TargetFilename,
		result.SourcePath, result.TargetPath, result.ResultPath,
		result.Size, result.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert result %s: %w", result.ID, err)
	}
	return nil
}

func (s *SQLiteDatabase) GetResult(ctx context.Context, id string) (*Result, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, source_filename, target_filename, source_path,
		target_path, result_path, size, created_at FROM results WHERE id = ?`, id)
	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", id, err)
	}
	return result, nil
}

func (s *SQLiteDatabase) DeleteResult(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM results WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete result %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteDatabase) DeleteResultsBefore(ctx context.Context, cutoff time.Time) ([]*Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	rows, err := tx.QueryContext(ctx, `SELECT id, source_filename, target_filename, source_path,
		target_path, result_path, size, created_at FROM results WHERE created_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return nil, err
	}
	var expired []*Result
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		expired = append(expired, result)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM results WHERE created_at < ?", cutoff.UTC().UnixNano()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return expired, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*Result, error) {
	var result Result
	var createdAt int64
	if err := row.Scan(&result.ID, &result.SourceFilename, &result.TargetFilename,
		&result.SourcePath, &result.TargetPath, &result.ResultPath,
		&result.Size, &createdAt); err != nil {
		return nil, err
	}
	result.CreatedAt = time.Unix(0, createdAt).UTC()
	return &result, nil
}
