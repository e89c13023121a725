package lifecycle

import "sync/atomic"

// Generation hands out cancellation tokens. Issuing a new token invalidates every
// token issued before it, so the result of superseded work is a no-op on arrival.
type Generation struct {
	current atomic.Uint64
}

// Next invalidates outstanding tokens and returns a fresh one.
func (g *Generation) Next() Token {
	return Token{gen: g, id: g.current.Add(1)}
}

// Invalidate cancels every outstanding token without issuing a new one.
func (g *Generation) Invalidate() {
	g.current.Add(1)
}

// Token is a cooperative cancellation token. The zero Token is always valid.
type Token struct {
	gen *Generation
	id  uint64
}

// Valid reports whether no newer token has been issued since this one.
func (t Token) Valid() bool {
	if t.gen == nil {
		return true
	}
	return t.gen.current.Load() == t.id
}

// ID identifies the token within its generation.
func (t Token) ID() uint64 {
	return t.id
}
