package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestCacheGet_Miss(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT value FROM cache_slots WHERE key = \$1 AND expires_at > \$2`).
		WithArgs("feed:catalog:queue_empty", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, ok, err := s.Get(context.Background(), "feed:catalog:queue_empty")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected a miss")
	}
}

func TestCacheGet_Hit(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT value FROM cache_slots`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("empty"))

	v, ok, err := s.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || v != "empty" {
		t.Errorf("expected hit with 'empty', got %q (ok=%v)", v, ok)
	}
}

func TestCacheSet_Upserts(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`INSERT INTO cache_slots .* ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("k", "not_empty", fixedNow.Add(30*time.Second)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Set(context.Background(), "k", "not_empty", 30*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCacheDelete(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`DELETE FROM cache_slots WHERE key = ANY\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := s.Delete(context.Background(), "a", "b"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// No keys means no round trip.
	if err := s.Delete(context.Background()); err != nil {
		t.Fatalf("Delete with no keys failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
