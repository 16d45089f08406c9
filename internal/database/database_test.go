package database

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scanRecorder struct {
	pgx.Rows
	err              error
	cancelledAtScan  bool
	cancelledAtClose bool
	cancelled        *bool
}

func (s *scanRecorder) Scan(dest ...any) error {
	s.cancelledAtScan = *s.cancelled
	return s.err
}

func (s *scanRecorder) Close() {
	s.cancelledAtClose = *s.cancelled
}

func TestTimedRowCancelsOnlyAfterScan(t *testing.T) {
	cancelled := false
	rec := &scanRecorder{err: pgx.ErrNoRows, cancelled: &cancelled}
	row := &timedRow{row: rec, cancel: func() { cancelled = true }}

	err := row.Scan()
	assert.ErrorIs(t, err, pgx.ErrNoRows, "scan errors pass through unchanged")
	assert.False(t, rec.cancelledAtScan, "the operation context must outlive the wrapper and cover Scan")
	assert.True(t, cancelled, "the operation context is released once Scan returns")
}

func TestTimedRowsCancelOnClose(t *testing.T) {
	cancelled := false
	rec := &scanRecorder{cancelled: &cancelled}
	rows := &timedRows{Rows: rec, cancel: func() { cancelled = true }}

	rows.Close()
	assert.False(t, rec.cancelledAtClose, "rows are drained before the context is released")
	assert.True(t, cancelled)
}

func TestOpCtx(t *testing.T) {
	t.Run("disabled timeout keeps the caller context", func(t *testing.T) {
		db := &DB{}
		ctx := context.Background()
		got, cancel := db.opCtx(ctx)
		defer cancel()
		_, hasDeadline := got.Deadline()
		assert.False(t, hasDeadline)
		assert.Equal(t, ctx, got)
	})

	t.Run("configured timeout sets a deadline", func(t *testing.T) {
		db := &DB{opTimeout: 5 * time.Second}
		got, cancel := db.opCtx(context.Background())
		defer cancel()
		deadline, hasDeadline := got.Deadline()
		require.True(t, hasDeadline)
		assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
	})
}
