// Package ledgertest holds the behavioural checks every ledger.Ledger
// implementation must pass.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/callpilot/internal/domain"
	"github.com/soyeahso/callpilot/internal/ledger"
)

// Run exercises l against the ledger contract. Each subtest uses its own
// conversation id so a shared backing store is fine.
func Run(t *testing.T, l ledger.Ledger) {
	t.Helper()
	ctx := context.Background()

	booking := func(conv string) domain.NewBooking {
		return domain.NewBooking{ConversationID: conv, Name: "Alex", Date: "tomorrow", Time: "3pm"}
	}

	t.Run("create then latest", func(t *testing.T) {
		conv := uuid.NewString()
		_, ok, err := l.LatestBooked(ctx, conv)
		require.NoError(t, err)
		assert.False(t, ok)

		a, err := l.Create(ctx, booking(conv))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusBooked, a.Status)
		assert.NotZero(t, a.ID)
		assert.False(t, a.CreatedAt.IsZero())
		assert.Nil(t, a.CancelledAt)

		got, ok, err := l.LatestBooked(ctx, conv)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, a.ID, got.ID)
		assert.Equal(t, "Alex", got.Name)
	})

	t.Run("second create conflicts", func(t *testing.T) {
		conv := uuid.NewString()
		_, err := l.Create(ctx, booking(conv))
		require.NoError(t, err)

		_, err = l.Create(ctx, booking(conv))
		assert.ErrorIs(t, err, ledger.ErrConflict)

		all, err := l.List(ctx, conv)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("reschedule in place", func(t *testing.T) {
		conv := uuid.NewString()
		orig, err := l.Create(ctx, booking(conv))
		require.NoError(t, err)

		moved, err := l.Reschedule(ctx, conv, "Friday", "5pm")
		require.NoError(t, err)
		assert.Equal(t, orig.ID, moved.ID)
		assert.Equal(t, "Friday", moved.Date)
		assert.Equal(t, "5pm", moved.Time)
		assert.Equal(t, "Alex", moved.Name)

		all, err := l.List(ctx, conv)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("reschedule without booking", func(t *testing.T) {
		_, err := l.Reschedule(ctx, uuid.NewString(), "Friday", "5pm")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("cancel returns pre-cancel snapshot", func(t *testing.T) {
		conv := uuid.NewString()
		_, err := l.Create(ctx, booking(conv))
		require.NoError(t, err)

		snap, err := l.Cancel(ctx, conv)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusBooked, snap.Status)
		assert.Equal(t, "tomorrow", snap.Date)

		_, ok, err := l.LatestBooked(ctx, conv)
		require.NoError(t, err)
		assert.False(t, ok)

		all, err := l.List(ctx, conv)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, domain.StatusCancelled, all[0].Status)
		require.NotNil(t, all[0].CancelledAt)

		_, err = l.Cancel(ctx, conv)
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("rebook after cancel", func(t *testing.T) {
		conv := uuid.NewString()
		_, err := l.Create(ctx, booking(conv))
		require.NoError(t, err)
		_, err = l.Cancel(ctx, conv)
		require.NoError(t, err)

		again, err := l.Create(ctx, booking(conv))
		require.NoError(t, err)

		latest, ok, err := l.LatestBooked(ctx, conv)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, again.ID, latest.ID)

		all, err := l.List(ctx, conv)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("concurrent creates book once", func(t *testing.T) {
		conv := uuid.NewString()
		var wg sync.WaitGroup
		var mu sync.Mutex
		var ok, conflicts int
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Create(ctx, booking(conv))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, ledger.ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, ok)
		assert.Equal(t, 7, conflicts)
	})

	t.Run("invalid booking rejected", func(t *testing.T) {
		_, err := l.Create(ctx, domain.NewBooking{ConversationID: uuid.NewString(), Name: "Alex"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ledger.ErrConflict)
	})
}
