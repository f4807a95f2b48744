package database

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID returns a random (version 4) UUID string.
func GenerateID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return id.String(), nil
}
