package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 15 * time.Minute, AlignToStart: true}, zerolog.Nop())

	at := time.Date(2025, 9, 2, 10, 7, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 9, 2, 10, 15, 0, 0, time.UTC), s.nextTick(at))

	onGrid := time.Date(2025, 9, 2, 10, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 9, 2, 10, 30, 0, 0, time.UTC), s.nextTick(onGrid))
	assert.Equal(t, onGrid, s.slotStart(onGrid.Add(3*time.Millisecond)))
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())
	at := time.Date(2025, 9, 2, 10, 7, 30, 0, time.UTC)
	assert.Equal(t, at.Add(time.Minute), s.nextTick(at))
	assert.Equal(t, at, s.slotStart(at))
}

func TestNewRejectsZeroInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}

func TestRunInvokesUntilCancelled(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond, RunImmediately: true}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			if atomic.AddInt32(&calls, 1) == 3 {
				cancel()
			}
			return ErrSkipped
		})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestRunHonoursStartupDelayCancellation(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("tick must not run")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
