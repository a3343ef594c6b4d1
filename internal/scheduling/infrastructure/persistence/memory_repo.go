package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theatro/theatro/internal/scheduling/domain"
)

// MemoryRepository is an in-memory SchedulingRepository for tests and
// offline experiments. It honors the same optimistic concurrency contract
// as the PostgreSQL implementation.
type MemoryRepository struct {
	mu sync.RWMutex

	rooms     []domain.OperatingRoom
	surgeries map[uuid.UUID]domain.Surgery
	types     []domain.SurgeryType
	staff     []domain.Staff
	equipment []domain.Equipment
	sdst      *domain.SDSTMatrix
	rules     []domain.Rule

	// assignments and versions are keyed by schedule date (midnight).
	assignments map[time.Time][]domain.Assignment
	versions    map[time.Time]int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		surgeries:   make(map[uuid.UUID]domain.Surgery),
		assignments: make(map[time.Time][]domain.Assignment),
		versions:    make(map[time.Time]int64),
	}
}

// Seed replaces the catalog data in one call.
func (r *MemoryRepository) Seed(rooms []domain.OperatingRoom, surgeries []domain.Surgery, types []domain.SurgeryType, staff []domain.Staff, equipment []domain.Equipment, sdst *domain.SDSTMatrix, rules []domain.Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = rooms
	r.surgeries = make(map[uuid.UUID]domain.Surgery, len(surgeries))
	for _, s := range surgeries {
		r.surgeries[s.ID] = s
	}
	r.types = types
	r.staff = staff
	r.equipment = equipment
	r.sdst = sdst
	r.rules = rules
}

// AddSurgery registers one surgery.
func (r *MemoryRepository) AddSurgery(s domain.Surgery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surgeries[s.ID] = s
}

// ListPendingSurgeries returns surgeries with no assignment.
func (r *MemoryRepository) ListPendingSurgeries(_ context.Context, dateRange domain.DateRange) ([]domain.Surgery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assigned := r.assignedIDs(dateRange)
	var pending []domain.Surgery
	for _, s := range r.surgeries {
		if s.Status == domain.SurgeryStatusCompleted || s.Status == domain.SurgeryStatusCancelled {
			continue
		}
		if !assigned[s.ID] {
			pending = append(pending, s)
		}
	}
	return pending, nil
}

// ListScheduledSurgeries returns surgeries holding an assignment.
func (r *MemoryRepository) ListScheduledSurgeries(_ context.Context, dateRange domain.DateRange) ([]domain.Surgery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assigned := r.assignedIDs(dateRange)
	var scheduled []domain.Surgery
	for id := range assigned {
		if s, ok := r.surgeries[id]; ok {
			scheduled = append(scheduled, s)
		}
	}
	return scheduled, nil
}

// ListRoomsWithSchedules returns every room with its assignments.
func (r *MemoryRepository) ListRoomsWithSchedules(_ context.Context, dateRange domain.DateRange) ([]domain.RoomSchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byRoom := make(map[uuid.UUID][]domain.Assignment)
	for date, assignments := range r.assignments {
		if !dateRange.Contains(date) {
			continue
		}
		for _, a := range assignments {
			byRoom[a.RoomID] = append(byRoom[a.RoomID], a)
		}
	}

	schedules := make([]domain.RoomSchedule, 0, len(r.rooms))
	for _, room := range r.rooms {
		schedules = append(schedules, domain.RoomSchedule{
			Room:        room,
			Assignments: byRoom[room.ID],
		})
	}
	return schedules, nil
}

// LoadSDSTSnapshot returns the configured matrix.
func (r *MemoryRepository) LoadSDSTSnapshot(_ context.Context) (*domain.SDSTMatrix, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.sdst == nil {
		return nil, fmt.Errorf("%w: no sdst matrix seeded", domain.ErrRepository)
	}
	return r.sdst, nil
}

// LoadRuleSet returns the configured rules.
func (r *MemoryRepository) LoadRuleSet(_ context.Context) ([]domain.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Rule(nil), r.rules...), nil
}

// LoadStaffAndEquipment returns the staff and equipment catalogs.
func (r *MemoryRepository) LoadStaffAndEquipment(_ context.Context) ([]domain.Staff, []domain.Equipment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Staff(nil), r.staff...), append([]domain.Equipment(nil), r.equipment...), nil
}

// ListSurgeryTypes returns the type catalog.
func (r *MemoryRepository) ListSurgeryTypes(_ context.Context) ([]domain.SurgeryType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.SurgeryType(nil), r.types...), nil
}

// ScheduleVersion returns the version token for a date.
func (r *MemoryRepository) ScheduleVersion(_ context.Context, date time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.versions[dayKey(date)], nil
}

// PersistAssignments commits a change set under optimistic concurrency.
func (r *MemoryRepository) PersistAssignments(_ context.Context, changes domain.AssignmentChangeSet, version int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := dayKey(changes.Date)
	if r.versions[key] != version {
		return 0, fmt.Errorf("%w: schedule version %d superseded", domain.ErrConflict, version)
	}

	r.assignments[key] = append([]domain.Assignment(nil), changes.Upserts...)
	for id, s := range r.surgeries {
		switch {
		case containsAssignment(changes.Upserts, id):
			s.Status = domain.SurgeryStatusScheduled
		case containsUUID(changes.Unplaced, id) || containsUUID(changes.RemovedIDs, id):
			if s.Status == domain.SurgeryStatusScheduled {
				s.Status = domain.SurgeryStatusPending
			}
		default:
			continue
		}
		r.surgeries[id] = s
	}

	r.versions[key] = version + 1
	return version + 1, nil
}

// SetVersion forces a version token, for conflict tests.
func (r *MemoryRepository) SetVersion(date time.Time, version int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[dayKey(date)] = version
}

func (r *MemoryRepository) assignedIDs(dateRange domain.DateRange) map[uuid.UUID]bool {
	assigned := make(map[uuid.UUID]bool)
	for date, assignments := range r.assignments {
		if !dateRange.Contains(date) {
			continue
		}
		for _, a := range assignments {
			assigned[a.SurgeryID] = true
		}
	}
	return assigned
}

func dayKey(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func containsAssignment(assignments []domain.Assignment, surgeryID uuid.UUID) bool {
	for _, a := range assignments {
		if a.SurgeryID == surgeryID {
			return true
		}
	}
	return false
}

func containsUUID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
