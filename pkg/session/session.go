// Package session keeps the signed-in user's connection details (host,
// user id, token and profile fields) and persists them through a
// preference Store.
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Preference keys used to persist a session.
const (
	KeyHost          = "host"
	KeyUserID        = "user_id"
	KeyToken         = "token"
	profileKeyPrefix = "profile."
)

// Session is safe for concurrent use; a Requester may read it while the
// application signs the user in or out.
type Session struct {
	mu      sync.RWMutex
	host    string
	userID  string
	token   string
	profile map[string]string
}

// New creates an anonymous session for host.
func New(host string) *Session {
	return &Session{
		host:    host,
		profile: make(map[string]string),
	}
}

// Host returns the server address.
func (s *Session) Host() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.host
}

// SetHost changes the server address.
func (s *Session) SetHost(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.host = host
}

// UserID returns the signed-in user id.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Token returns the access token.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SignedIn returns true if the session holds a token.
func (s *Session) SignedIn() bool {
	return s.Token() != ""
}

// SignIn records the user id and token returned by the server.
func (s *Session) SignIn(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.token = token
}

// SignOut forgets the user and profile but keeps the host.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
	s.token = ""
	s.profile = make(map[string]string)
}

// Profile returns a profile field.
func (s *Session) Profile(field string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile[strings.ToLower(field)]
}

// SetProfile sets a profile field. Field names are case-insensitive.
func (s *Session) SetProfile(field, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile[strings.ToLower(field)] = value
}

// ProfileFields returns a copy of every profile field.
func (s *Session) ProfileFields() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.profile))
	for k, v := range s.profile {
		out[k] = v
	}
	return out
}

// BaseURL implements requester.Credentials.
func (s *Session) BaseURL() string {
	return s.Host()
}

// BearerToken implements requester.Credentials.
func (s *Session) BearerToken() string {
	return s.Token()
}

// Load reads a session from store. Missing keys leave fields empty.
func Load(ctx context.Context, store Store) (*Session, error) {
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}

	s := New("")
	for _, key := range keys {
		value, ok, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read preference %s: %w", key, err)
		}
		if !ok {
			continue
		}

		switch {
		case key == KeyHost:
			s.host = value
		case key == KeyUserID:
			s.userID = value
		case key == KeyToken:
			s.token = value
		case strings.HasPrefix(key, profileKeyPrefix):
			s.profile[strings.TrimPrefix(key, profileKeyPrefix)] = value
		}
	}

	return s, nil
}

// Save writes every field to store and removes profile fields that are no
// longer present.
func (s *Session) Save(ctx context.Context, store Store) error {
	s.mu.RLock()
	values := map[string]string{
		KeyHost:   s.host,
		KeyUserID: s.userID,
		KeyToken:  s.token,
	}
	for k, v := range s.profile {
		values[profileKeyPrefix+k] = v
	}
	s.mu.RUnlock()

	existing, err := store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list preferences: %w", err)
	}
	for _, key := range existing {
		if _, keep := values[key]; !keep && strings.HasPrefix(key, profileKeyPrefix) {
			if err := store.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to delete preference %s: %w", key, err)
			}
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := store.Set(ctx, key, values[key]); err != nil {
			return fmt.Errorf("failed to write preference %s: %w", key, err)
		}
	}
	return nil
}

// Clear signs the session out and removes the user's keys from store.
// The host is kept.
func (s *Session) Clear(ctx context.Context, store Store) error {
	s.SignOut()

	keys, err := store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list preferences: %w", err)
	}
	for _, key := range keys {
		if key == KeyHost {
			continue
		}
		if err := store.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete preference %s: %w", key, err)
		}
	}
	return nil
}
