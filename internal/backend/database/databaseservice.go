package database

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no result exists for an id.
var ErrNotFound = errors.New("result not found")

type DatabaseService interface {
	// CreateDatabase ensures the schema exists. It is idempotent.
	CreateDatabase(ctx context.Context) error
	DoesDatabaseExist(ctx context.Context) bool
	Close() error

	CreateResult(ctx context.Context, result *Result) error
	GetResult(ctx context.Context, id string) (*Result, error)
	DeleteResult(ctx context.Context, id string) error
	// DeleteResultsBefore removes every result created before cutoff and
	// returns the removed rows so their files can be cleaned up.
	DeleteResultsBefore(ctx context.Context, cutoff time.Time) ([]*Result, error)
}
