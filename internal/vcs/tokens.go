package vcs

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TokenGenerator mints lock and write-group tokens.
type TokenGenerator interface {
	Generate() Token
}

// UUIDv7Generator generates time-sortable UUIDv7 tokens. Sortability keeps
// suspended write groups enumerable in creation order.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() Token {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the random source does; fall back to v4.
		return Token(uuid.NewString())
	}
	return Token(id.String())
}

// FixedGenerator hands out a predetermined sequence of tokens and is used
// by tests that need deterministic lock tokens.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []Token
	next   int
}

func NewFixedGenerator(tokens ...Token) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

func (g *FixedGenerator) Generate() Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next >= len(g.tokens) {
		// Wrap with a counter suffix rather than panic, so a scenario
		// that locks more often than it declared still runs.
		g.next++
		return Token(fmt.Sprintf("fixed-token-%d", g.next))
	}
	t := g.tokens[g.next]
	g.next++
	return t
}
