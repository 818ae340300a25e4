// Package uuid generates time-ordered identifiers for runs and jobs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings, optionally prefixed (e.g. "run_").
type Generator struct {
	prefix string
}

// New creates an unprefixed Generator.
func New() *Generator {
	return &Generator{}
}

// NewPrefixed creates a Generator whose ids start with prefix.
func NewPrefixed(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a UUID7 string. UUID7 ids sort by creation time.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return g.prefix + id.String(), nil
}
