// Package retriever implements the retrieval coordinator: a per-owner
// background loop that repeatedly invokes a routine while the context it was
// started for remains the active one.
package retriever

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Token names a logical consumer of retrieval results (a screen, a view, a
// subscription). Any string is a valid token.
type Token string

// NewToken returns a fresh random token.
func NewToken() Token {
	return Token(uuid.New().String())
}

// String returns the token value.
func (t Token) String() string {
	return string(t)
}

// Registry holds the single active context shared by a group of retrievers.
// Writes are last-write-wins; reads always observe the most recent write.
type Registry struct {
	current atomic.Pointer[Token]
}

// NewRegistry creates an empty registry. No token is active until Set is called.
func NewRegistry() *Registry {
	return &Registry{}
}

// Set makes token the active context.
func (r *Registry) Set(token Token) {
	r.current.Store(&token)
}

// Clear empties the slot so that no token is active.
func (r *Registry) Clear() {
	r.current.Store(nil)
}

// Current returns the active token and whether one has been set.
func (r *Registry) Current() (Token, bool) {
	p := r.current.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// IsActive reports whether token is the active context.
func (r *Registry) IsActive(token Token) bool {
	current, ok := r.Current()
	return ok && current == token
}
