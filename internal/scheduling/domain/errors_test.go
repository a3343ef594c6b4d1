package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryErrorMatchesSentinelAndCause(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := NewRepositoryError("load_surgeries", cause)

	assert.ErrorIs(t, err, ErrRepository)
	assert.ErrorIs(t, err, cause)

	var repoErr *RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.Equal(t, "load_surgeries", repoErr.Op)
	assert.Contains(t, err.Error(), "load_surgeries")
}

func TestNewRepositoryErrorPassesNilThrough(t *testing.T) {
	assert.NoError(t, NewRepositoryError("persist_assignments", nil))
}
