package confirm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreCreateAndConfirm(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	token, p, err := s.Create(ctx, "/data/doomed.txt", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(token) != 5 {
		t.Fatalf("expected 5-character token, got %q", token)
	}
	if p.Path != "/data/doomed.txt" || p.Recursive {
		t.Fatalf("unexpected pending entry: %+v", p)
	}

	if err := s.Confirm(ctx, token, "/data/doomed.txt", false); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := s.Confirm(ctx, token, "/data/doomed.txt", false); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken on reuse, got %v", err)
	}
}

func TestMemoryStoreUnknownToken(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	if err := s.Confirm(ctx, "bogus", "/data/x", false); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMemoryStoreExpiredToken(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(-time.Second)
	defer s.Close()

	token, _, err := s.Create(ctx, "/data/old.txt", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The entry is past its expiry but still retained, so the caller learns
	// it expired rather than that it never existed.
	if err := s.Confirm(ctx, token, "/data/old.txt", true); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if err := s.Confirm(ctx, token, "/data/old.txt", true); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry consumed, got %v", err)
	}
}

func TestMemoryStoreParameterMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Minute)
	defer s.Close()

	token, _, err := s.Create(ctx, "/data/dir", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Confirm(ctx, token, "/data/dir", false); !errors.Is(err, ErrParameterMismatch) {
		t.Fatalf("expected ErrParameterMismatch, got %v", err)
	}
	if err := s.Confirm(ctx, token, "/data/dir", true); err != nil {
		t.Fatalf("Confirm after mismatch: %v", err)
	}
}

func TestMemoryStorePurgeAndLen(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(-time.Second)
	defer s.Close()

	if _, _, err := s.Create(ctx, "/data/expired.txt", false); err != nil {
		t.Fatalf("Create expired: %v", err)
	}
	s.ttl = time.Minute
	live, _, err := s.Create(ctx, "/data/live.txt", false)
	if err != nil {
		t.Fatalf("Create live: %v", err)
	}

	if n, err := s.Len(ctx); err != nil || n != 1 {
		t.Fatalf("expected 1 live token, got %d, %v", n, err)
	}
	if removed, err := s.Purge(ctx); err != nil || removed != 1 {
		t.Fatalf("expected to purge 1 token, got %d, %v", removed, err)
	}
	if err := s.Confirm(ctx, live, "/data/live.txt", false); err != nil {
		t.Fatalf("Confirm live after purge: %v", err)
	}
}
