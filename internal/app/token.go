package app

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/gents83/INOX-sub002/internal/uid"
)

// TokenGenerator produces the token that identifies a tick in logs and
// traces.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 tick tokens.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns "<prefix>-000001", "<prefix>-000002", ...
// It makes traces deterministic in tests and golden files.
type SequenceGenerator struct {
	prefix string
	n      *uid.Counter
}

// NewSequenceGenerator creates a generator whose first token ends in 1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix, n: uid.NewCounter()}
}

// Generate returns the next token.
func (g *SequenceGenerator) Generate() string {
	return fmt.Sprintf("%s-%06d", g.prefix, g.n.Next())
}
