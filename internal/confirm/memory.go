package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/imrandevofficial/openapi-servers/internal/metrics"
)

// MemoryStore keeps pending confirmations in an in-process expirable cache.
// Entries are retained past their expiry so a late confirmation attempt can
// be told apart from a token that never existed; the cache evicts them once
// the retention window passes.
type MemoryStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, Pending]
	ttl   time.Duration
}

// NewMemoryStore creates an in-memory store with the given token TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	retention := 2 * ttl
	if retention < time.Minute {
		retention = time.Minute
	}
	return &MemoryStore{
		cache: expirable.NewLRU[string, Pending](0, nil, retention),
		ttl:   ttl,
	}
}

// Create registers a new pending confirmation and returns its token.
func (s *MemoryStore) Create(ctx context.Context, path string, recursive bool) (string, Pending, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("memory", "create", time.Since(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	var token string
	for {
		t, err := newToken()
		if err != nil {
			return "", Pending{}, err
		}
		if !s.cache.Contains(t) {
			token = t
			break
		}
	}

	p := Pending{
		Path:      path,
		Recursive: recursive,
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}
	s.cache.Add(token, p)
	return token, p, nil
}

// Confirm validates and consumes a token. See Store for the check order.
func (s *MemoryStore) Confirm(ctx context.Context, token, path string, recursive bool) error {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("memory", "confirm", time.Since(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.cache.Get(token)
	if !ok {
		return ErrInvalidToken
	}
	if time.Now().UTC().After(p.ExpiresAt) {
		s.cache.Remove(token)
		return ErrTokenExpired
	}
	if p.Path != path || p.Recursive != recursive {
		return ErrParameterMismatch
	}

	s.cache.Remove(token)
	return nil
}

// Purge drops expired entries and reports how many were removed.
func (s *MemoryStore) Purge(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for _, token := range s.cache.Keys() {
		p, ok := s.cache.Peek(token)
		if !ok {
			continue
		}
		if !now.Before(p.ExpiresAt) {
			s.cache.Remove(token)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of live tokens.
func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for _, p := range s.cache.Values() {
		if now.Before(p.ExpiresAt) {
			count++
		}
	}
	return count, nil
}

// Close releases the cache.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
	return nil
}
