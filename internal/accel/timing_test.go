package accel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEvent struct {
	start, end uint64
	err        error
}

func (e stubEvent) ProfilingInfo(info ProfilingInfo) (uint64, error) {
	if e.err != nil {
		return 0, e.err
	}
	if info == ProfilingEnd {
		return e.end, nil
	}
	return e.start, nil
}

func (stubEvent) Release() error { return nil }

func TestElapsed(t *testing.T) {
	t.Run("end minus start", func(t *testing.T) {
		ns, err := Elapsed(stubEvent{start: 1_000, end: 4_500})
		require.NoError(t, err)
		assert.Equal(t, uint64(3_500), ns)
	})

	t.Run("zero duration", func(t *testing.T) {
		ns, err := Elapsed(stubEvent{start: 7, end: 7})
		require.NoError(t, err)
		assert.Zero(t, ns)
	})

	t.Run("unavailable", func(t *testing.T) {
		_, err := Elapsed(stubEvent{err: StatusProfilingInfoNotAvailable})
		assert.ErrorIs(t, err, ErrProfilingUnavailable)
		assert.ErrorIs(t, err, StatusProfilingInfoNotAvailable)
	})

	t.Run("clock went backwards", func(t *testing.T) {
		_, err := Elapsed(stubEvent{start: 10, end: 5})
		assert.ErrorIs(t, err, ErrProfilingUnavailable)
	})
}
