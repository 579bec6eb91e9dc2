package confirm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imrandevofficial/openapi-servers/internal/logging"
	"github.com/imrandevofficial/openapi-servers/internal/metrics"
)

// FileStore keeps pending confirmations in a JSON file so tokens issued by
// one request are visible to later requests. The file is removed at startup:
// leftover tokens from a prior run are never honored.
type FileStore struct {
	mu   sync.Mutex
	path string
	ttl  time.Duration
}

// NewFileStore creates a file-backed store at path with the given token TTL,
// discarding any state left behind by a previous process.
func NewFileStore(path string, ttl time.Duration) (*FileStore, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("clear confirmation file: %w", err)
	}
	return &FileStore{path: path, ttl: ttl}, nil
}

// Create registers a new pending confirmation and returns its token.
func (s *FileStore) Create(ctx context.Context, path string, recursive bool) (string, Pending, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("file", "create", time.Since(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()
	purgeExpired(entries, time.Now().UTC())

	token, err := uniqueToken(entries)
	if err != nil {
		return "", Pending{}, err
	}

	p := Pending{
		Path:      path,
		Recursive: recursive,
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}
	entries[token] = p

	if err := s.persist(entries); err != nil {
		return "", Pending{}, err
	}
	return token, p, nil
}

// Confirm validates and consumes a token. See Store for the check order.
func (s *FileStore) Confirm(ctx context.Context, token, path string, recursive bool) error {
	start := time.Now()
	defer func() { metrics.RecordStoreOp("file", "confirm", time.Since(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()
	now := time.Now().UTC()

	p, ok := entries[token]
	if !ok {
		return ErrInvalidToken
	}
	if now.After(p.ExpiresAt) {
		delete(entries, token)
		purgeExpired(entries, now)
		if err := s.persist(entries); err != nil {
			return err
		}
		return ErrTokenExpired
	}
	if p.Path != path || p.Recursive != recursive {
		return ErrParameterMismatch
	}

	delete(entries, token)
	purgeExpired(entries, now)
	return s.persist(entries)
}

// Purge drops expired entries and reports how many were removed.
func (s *FileStore) Purge(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()
	before := len(entries)
	purgeExpired(entries, time.Now().UTC())
	removed := before - len(entries)
	if removed > 0 {
		if err := s.persist(entries); err != nil {
			return 0, err
		}
	}
	return removed, nil
}

// Len reports the number of live tokens.
func (s *FileStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.load()
	now := time.Now().UTC()
	count := 0
	for _, p := range entries {
		if now.Before(p.ExpiresAt) {
			count++
		}
	}
	return count, nil
}

// Close is a no-op; the JSON file is left in place for the next request.
func (s *FileStore) Close() error { return nil }

// load reads the confirmation file. A missing or corrupt file yields an
// empty registry: a token we cannot parse is a token we will not honor.
func (s *FileStore) load() map[string]Pending {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("failed to read confirmation file", zap.String("path", s.path), zap.Error(err))
		}
		return make(map[string]Pending)
	}

	var entries map[string]Pending
	if err := json.Unmarshal(data, &entries); err != nil {
		logging.Warn("discarding corrupt confirmation file", zap.String("path", s.path), zap.Error(err))
		return make(map[string]Pending)
	}
	if entries == nil {
		entries = make(map[string]Pending)
	}
	return entries
}

// persist writes the registry atomically: temp file then rename.
func (s *FileStore) persist(entries map[string]Pending) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode confirmations: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write confirmations: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace confirmations: %w", err)
	}
	return nil
}

func purgeExpired(entries map[string]Pending, now time.Time) {
	for token, p := range entries {
		if !now.Before(p.ExpiresAt) {
			delete(entries, token)
		}
	}
}

// uniqueToken generates a token that does not collide with a live one.
func uniqueToken(entries map[string]Pending) (string, error) {
	for {
		token, err := newToken()
		if err != nil {
			return "", err
		}
		if _, exists := entries[token]; !exists {
			return token, nil
		}
	}
}
