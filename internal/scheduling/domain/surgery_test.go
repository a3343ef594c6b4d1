package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestUrgencyLevelOrdering(t *testing.T) {
	assert.True(t, UrgencyImmediate > UrgencyUrgent)
	assert.True(t, UrgencyUrgent > UrgencySemiUrgent)
	assert.True(t, UrgencySemiUrgent > UrgencyScheduled)
}

func TestParseUrgencyRoundTrip(t *testing.T) {
	levels := []UrgencyLevel{UrgencyScheduled, UrgencySemiUrgent, UrgencyUrgent, UrgencyImmediate}
	for _, level := range levels {
		assert.Equal(t, level, ParseUrgency(level.String()))
	}

	assert.Equal(t, UrgencyScheduled, ParseUrgency("bogus"))
}

func TestSurgeryValidate(t *testing.T) {
	valid := Surgery{
		ID:       uuid.New(),
		TypeID:   uuid.New(),
		Duration: 90 * time.Minute,
		Status:   SurgeryStatusPending,
	}
	assert.NoError(t, valid.Validate())

	missingID := valid
	missingID.ID = uuid.Nil
	assert.ErrorIs(t, missingID.Validate(), ErrInvariantViolation)

	zeroDuration := valid
	zeroDuration.Duration = 0
	assert.ErrorIs(t, zeroDuration.Validate(), ErrInvariantViolation)
}

func TestSurgeryIsEmergency(t *testing.T) {
	arrival := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)

	emergency := Surgery{ID: uuid.New(), Duration: time.Hour, Urgency: UrgencyUrgent, ArrivalTime: &arrival}
	assert.True(t, emergency.IsEmergency())

	// A scheduled case with an arrival timestamp is not an emergency.
	scheduled := Surgery{ID: uuid.New(), Duration: time.Hour, Urgency: UrgencyScheduled, ArrivalTime: &arrival}
	assert.False(t, scheduled.IsEmergency())

	// Urgency alone is not enough without an arrival.
	noArrival := Surgery{ID: uuid.New(), Duration: time.Hour, Urgency: UrgencyImmediate}
	assert.False(t, noArrival.IsEmergency())
}
