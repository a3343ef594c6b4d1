package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestStaffQualifiedFor(t *testing.T) {
	general := uuid.MustParse("10000000-0000-0000-0000-000000000001")
	ortho := uuid.MustParse("10000000-0000-0000-0000-000000000002")

	unrestricted := Staff{ID: uuid.New(), Role: RoleScrubNurse}
	assert.True(t, unrestricted.QualifiedFor(general))

	specialist := Staff{ID: uuid.New(), Role: RoleSurgeon, QualifiedTypes: []uuid.UUID{general}}
	assert.True(t, specialist.QualifiedFor(general))
	assert.False(t, specialist.QualifiedFor(ortho))
}

func TestStaffAvailableDuring(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	shift := TimeRange{Start: day.Add(8 * time.Hour), End: day.Add(16 * time.Hour)}

	always := Staff{ID: uuid.New(), Role: RoleAnesthetist}
	assert.True(t, always.AvailableDuring(shift))

	onShift := Staff{ID: uuid.New(), Role: RoleSurgeon, Availability: []TimeRange{shift}}
	assert.True(t, onShift.AvailableDuring(TimeRange{
		Start: day.Add(9 * time.Hour),
		End:   day.Add(11 * time.Hour),
	}))
	// Partial coverage is not enough.
	assert.False(t, onShift.AvailableDuring(TimeRange{
		Start: day.Add(15 * time.Hour),
		End:   day.Add(17 * time.Hour),
	}))
}
