package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/smartstream/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "smartstream.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetUserMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	user, err := s.GetUser(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user != nil {
		t.Fatalf("GetUser() = %+v, want nil", user)
	}
}

func TestUpsertAndGetUser(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	if err := s.UpsertUser(ctx, &domain.User{
		UserID: "anon_1", UserName: "Ada", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}

	later := now.Add(time.Hour)
	if err := s.UpsertUser(ctx, &domain.User{
		UserID: "anon_1", LastSeenAt: later, CreatedAt: later, UpdatedAt: later,
	}); err != nil {
		t.Fatalf("second UpsertUser() error = %v", err)
	}

	user, err := s.GetUser(ctx, "anon_1")
	if err != nil || user == nil {
		t.Fatalf("GetUser() = %v, %v", user, err)
	}
	if user.UserName != "Ada" {
		t.Errorf("UserName = %q, want name kept on empty upsert", user.UserName)
	}
	if !user.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", user.CreatedAt, now)
	}
	if !user.LastSeenAt.Equal(later) {
		t.Errorf("LastSeenAt = %v, want %v", user.LastSeenAt, later)
	}
}

func TestUpdateUserName(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.UpdateUserName(ctx, "ghost", "x"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("UpdateUserName() on missing user error = %v, want ErrUserNotFound", err)
	}

	if err := s.UpsertUser(ctx, &domain.User{UserID: "anon_2", LastSeenAt: now, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	if err := s.UpdateUserName(ctx, "anon_2", "Grace"); err != nil {
		t.Fatalf("UpdateUserName() error = %v", err)
	}
	user, err := s.GetUser(ctx, "anon_2")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.DisplayName() != "Grace" {
		t.Errorf("DisplayName() = %q, want Grace", user.DisplayName())
	}
}

func TestUpdateLastSeen(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	if err := s.UpsertUser(ctx, &domain.User{UserID: "anon_3", LastSeenAt: now, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}
	seen := now.Add(10 * time.Minute)
	if err := s.UpdateLastSeen(ctx, "anon_3", seen); err != nil {
		t.Fatalf("UpdateLastSeen() error = %v", err)
	}
	user, _ := s.GetUser(ctx, "anon_3")
	if !user.LastSeenAt.Equal(seen) {
		t.Errorf("LastSeenAt = %v, want %v", user.LastSeenAt, seen)
	}

	if err := s.UpdateLastSeen(ctx, "missing", seen); err != nil {
		t.Errorf("UpdateLastSeen() on missing user error = %v, want nil", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	t.Parallel()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite(:memory:) error = %v", err)
	}
	defer s.Close()

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestIsConflictError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("SQLITE_BUSY: try again"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := isConflictError(tt.err); got != tt.want {
			t.Errorf("isConflictError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
