// Package uuid generates time-ordered run and task IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 strings, so IDs sort by creation time.
type Generator struct {
	newV7 func() (uuid.UUID, error)
}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{newV7: uuid.NewV7}
}

// NewID implements harvest.IDGenerator.
func (g *Generator) NewID() (string, error) {
	id, err := g.newV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
