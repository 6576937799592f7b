package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"simwatch/internal/mq"
	"simwatch/internal/store"
)

func TestPersistEmailUID(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`INSERT INTO email_uids`).
		WithArgs("primary", "101").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.PersistEmailUID(context.Background(), nil, "primary", "101"); err != nil {
		t.Fatalf("PersistEmailUID failed: %v", err)
	}
}

func TestPersistEmailUID_DuplicateIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`INSERT INTO email_uids`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.PersistEmailUID(context.Background(), nil, "primary", "101")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestPersistEmailStats(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	stats := &store.EmailStats{
		EmailServerID: "primary",
		EmailUID:      "101",
		Incoming:      3,
		Outgoing:      2,
		OutgoingByType: map[mq.Code]int{
			mq.CodeComputeJobStart: 1,
			mq.CodeComputeJobEnd:   1,
		},
	}

	mock.ExpectExec(`INSERT INTO email_stats`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.PersistEmailStats(context.Background(), nil, stats); err != nil {
		t.Fatalf("PersistEmailStats failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
