package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theatro/theatro/internal/scheduling/domain"
)

func TestRunGateBoundsConcurrentRuns(t *testing.T) {
	gate := NewRunGate(2)

	releaseA, err := gate.Acquire()
	require.NoError(t, err)
	releaseB, err := gate.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 2, gate.InUse())

	_, err = gate.Acquire()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBusy)

	releaseA()
	assert.Equal(t, 1, gate.InUse())

	releaseC, err := gate.Acquire()
	require.NoError(t, err)
	releaseC()
	releaseB()
	assert.Zero(t, gate.InUse())
}

func TestRunGateReleaseIsIdempotent(t *testing.T) {
	gate := NewRunGate(1)

	release, err := gate.Acquire()
	require.NoError(t, err)
	release()
	release()
	assert.Zero(t, gate.InUse())
}

func TestRunGateDefaultsCapacity(t *testing.T) {
	gate := NewRunGate(0)
	for i := 0; i < DefaultRunQueueSize; i++ {
		_, err := gate.Acquire()
		require.NoError(t, err)
	}
	_, err := gate.Acquire()
	assert.ErrorIs(t, err, domain.ErrBusy)
}
