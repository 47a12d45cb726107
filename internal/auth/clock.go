package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

type IDGenerator interface {
	NewID() (string, error)
}

// UUIDGenerator issues time-ordered v7 identifiers for token ids.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid v7: %w", err)
	}
	return id.String(), nil
}
