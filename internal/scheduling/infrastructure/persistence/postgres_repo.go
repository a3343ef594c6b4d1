package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theatro/theatro/internal/scheduling/domain"
	"github.com/theatro/theatro/internal/shared/infrastructure/persistence"
)

// PostgresRepository implements domain.SchedulingRepository on PostgreSQL.
// Reads and writes join the caller's context transaction when one is
// present, so a command handler's unit of work covers assignments and
// outbox messages together.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL scheduling repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// ListPendingSurgeries returns surgeries awaiting placement in the range.
func (r *PostgresRepository) ListPendingSurgeries(ctx context.Context, dateRange domain.DateRange) ([]domain.Surgery, error) {
	query := surgerySelect + `
		WHERE s.status = 'pending'
		  AND (s.scheduled_date IS NULL OR s.scheduled_date BETWEEN $1 AND $2)
		ORDER BY s.id
	`
	return r.querySurgeries(ctx, query, dateRange.Start, dateRange.End)
}

// ListScheduledSurgeries returns surgeries holding an assignment in the range.
func (r *PostgresRepository) ListScheduledSurgeries(ctx context.Context, dateRange domain.DateRange) ([]domain.Surgery, error) {
	query := surgerySelect + `
		JOIN assignments a ON a.surgery_id = s.id
		WHERE a.schedule_date BETWEEN $1 AND $2
		ORDER BY s.id
	`
	return r.querySurgeries(ctx, query, dateRange.Start, dateRange.End)
}

const surgerySelect = `
	SELECT s.id, s.type_id, s.duration_minutes, s.urgency, s.priority,
	       s.surgeon_id, s.equipment_ids, s.required_roles, s.status,
	       s.arrival_time, s.max_wait_minutes
	FROM surgeries s
`

func (r *PostgresRepository) querySurgeries(ctx context.Context, query string, args ...any) ([]domain.Surgery, error) {
	execer := persistence.Executor(ctx, r.pool)
	rows, err := execer.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewRepositoryError("query surgeries", err)
	}
	defer rows.Close()

	var surgeries []domain.Surgery
	for rows.Next() {
		var (
			s               domain.Surgery
			durationMinutes int
			urgency         string
			equipmentIDs    []uuid.UUID
			roles           []string
		)
		err := rows.Scan(
			&s.ID, &s.TypeID, &durationMinutes, &urgency, &s.Priority,
			&s.SurgeonID, &equipmentIDs, &roles, &s.Status,
			&s.ArrivalTime, &s.MaxWaitMinutes,
		)
		if err != nil {
			return nil, domain.NewRepositoryError("scan surgery", err)
		}
		s.Duration = time.Duration(durationMinutes) * time.Minute
		s.Urgency = domain.ParseUrgency(urgency)
		s.EquipmentIDs = equipmentIDs
		s.RequiredRoles = roles
		surgeries = append(surgeries, s)
	}
	return surgeries, rows.Err()
}

// ListRoomsWithSchedules returns every room with its assignments in the range.
func (r *PostgresRepository) ListRoomsWithSchedules(ctx context.Context, dateRange domain.DateRange) ([]domain.RoomSchedule, error) {
	execer := persistence.Executor(ctx, r.pool)

	roomRows, err := execer.Query(ctx, `
		SELECT id, name, status, primary_service, open_minutes, close_minutes, maintenance
		FROM operating_rooms
		ORDER BY id
	`)
	if err != nil {
		return nil, domain.NewRepositoryError("query rooms", err)
	}
	defer roomRows.Close()

	var schedules []domain.RoomSchedule
	index := make(map[uuid.UUID]int)
	for roomRows.Next() {
		var (
			room         domain.OperatingRoom
			openMinutes  int
			closeMinutes int
			maintenance  []byte
		)
		err := roomRows.Scan(&room.ID, &room.Name, &room.Status, &room.PrimaryService,
			&openMinutes, &closeMinutes, &maintenance)
		if err != nil {
			return nil, domain.NewRepositoryError("scan room", err)
		}
		room.OpenOffset = time.Duration(openMinutes) * time.Minute
		room.CloseOffset = time.Duration(closeMinutes) * time.Minute
		if len(maintenance) > 0 {
			if err := json.Unmarshal(maintenance, &room.Maintenance); err != nil {
				return nil, domain.NewRepositoryError("decode room maintenance", err)
			}
		}
		index[room.ID] = len(schedules)
		schedules = append(schedules, domain.RoomSchedule{Room: room})
	}
	if err := roomRows.Err(); err != nil {
		return nil, domain.NewRepositoryError("iterate rooms", err)
	}

	assignmentRows, err := execer.Query(ctx, `
		SELECT surgery_id, room_id, setup_start, operation_start, end_time, setup_minutes
		FROM assignments
		WHERE schedule_date BETWEEN $1 AND $2
		ORDER BY room_id, setup_start
	`, dateRange.Start, dateRange.End)
	if err != nil {
		return nil, domain.NewRepositoryError("query assignments", err)
	}
	defer assignmentRows.Close()

	for assignmentRows.Next() {
		var a domain.Assignment
		err := assignmentRows.Scan(&a.SurgeryID, &a.RoomID, &a.SetupStart,
			&a.OperationStart, &a.End, &a.AppliedSetupMinutes)
		if err != nil {
			return nil, domain.NewRepositoryError("scan assignment", err)
		}
		if i, ok := index[a.RoomID]; ok {
			schedules[i].Assignments = append(schedules[i].Assignments, a)
		}
	}
	return schedules, assignmentRows.Err()
}

// LoadSDSTSnapshot reads the full setup time matrix.
func (r *PostgresRepository) LoadSDSTSnapshot(ctx context.Context) (*domain.SDSTMatrix, error) {
	execer := persistence.Executor(ctx, r.pool)

	var defaultMinutes int
	err := execer.QueryRow(ctx,
		`SELECT default_minutes FROM sdst_config LIMIT 1`).Scan(&defaultMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		defaultMinutes = 0
	} else if err != nil {
		return nil, domain.NewRepositoryError("read sdst config", err)
	}

	rows, err := execer.Query(ctx,
		`SELECT from_type_id, to_type_id, minutes FROM sdst_entries`)
	if err != nil {
		return nil, domain.NewRepositoryError("query sdst entries", err)
	}
	defer rows.Close()

	var entries []domain.SDSTEntry
	for rows.Next() {
		var e domain.SDSTEntry
		if err := rows.Scan(&e.FromTypeID, &e.ToTypeID, &e.Minutes); err != nil {
			return nil, domain.NewRepositoryError("scan sdst entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewRepositoryError("iterate sdst entries", err)
	}
	return domain.NewSDSTMatrix(entries, defaultMinutes)
}

// LoadRuleSet reads the custom scheduling rules.
func (r *PostgresRepository) LoadRuleSet(ctx context.Context) ([]domain.Rule, error) {
	execer := persistence.Executor(ctx, r.pool)
	rows, err := execer.Query(ctx, `
		SELECT id, kind, severity, description, scope, params
		FROM scheduling_rules
		ORDER BY id
	`)
	if err != nil {
		return nil, domain.NewRepositoryError("query rules", err)
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		var (
			rule     domain.Rule
			severity string
			scope    []byte
			params   []byte
		)
		if err := rows.Scan(&rule.ID, &rule.Kind, &severity, &rule.Description, &scope, &params); err != nil {
			return nil, domain.NewRepositoryError("scan rule", err)
		}
		rule.Severity = domain.ParseSeverity(severity)
		if len(scope) > 0 {
			if err := json.Unmarshal(scope, &rule.Scope); err != nil {
				return nil, domain.NewRepositoryError("decode rule scope", err)
			}
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &rule.Params); err != nil {
				return nil, domain.NewRepositoryError("decode rule params", err)
			}
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// LoadStaffAndEquipment reads the staff and equipment catalogs.
func (r *PostgresRepository) LoadStaffAndEquipment(ctx context.Context) ([]domain.Staff, []domain.Equipment, error) {
	execer := persistence.Executor(ctx, r.pool)

	staffRows, err := execer.Query(ctx, `
		SELECT id, name, role, qualified_types, availability, daily_cap_minutes
		FROM staff
		ORDER BY id
	`)
	if err != nil {
		return nil, nil, domain.NewRepositoryError("query staff", err)
	}
	defer staffRows.Close()

	var staff []domain.Staff
	for staffRows.Next() {
		var (
			m          domain.Staff
			qualified  []uuid.UUID
			avail      []byte
			capMinutes int
		)
		if err := staffRows.Scan(&m.ID, &m.Name, &m.Role, &qualified, &avail, &capMinutes); err != nil {
			return nil, nil, domain.NewRepositoryError("scan staff", err)
		}
		m.QualifiedTypes = qualified
		m.DailyHourCap = time.Duration(capMinutes) * time.Minute
		if len(avail) > 0 {
			if err := json.Unmarshal(avail, &m.Availability); err != nil {
				return nil, nil, domain.NewRepositoryError("decode staff availability", err)
			}
		}
		staff = append(staff, m)
	}
	if err := staffRows.Err(); err != nil {
		return nil, nil, domain.NewRepositoryError("iterate staff", err)
	}

	equipmentRows, err := execer.Query(ctx, `
		SELECT id, type, available, maintenance, concurrency_cap, room_id
		FROM equipment
		ORDER BY id
	`)
	if err != nil {
		return nil, nil, domain.NewRepositoryError("query equipment", err)
	}
	defer equipmentRows.Close()

	var equipment []domain.Equipment
	for equipmentRows.Next() {
		var (
			e           domain.Equipment
			maintenance []byte
		)
		if err := equipmentRows.Scan(&e.ID, &e.Type, &e.Available, &maintenance, &e.ConcurrencyCap, &e.RoomID); err != nil {
			return nil, nil, domain.NewRepositoryError("scan equipment", err)
		}
		if len(maintenance) > 0 {
			if err := json.Unmarshal(maintenance, &e.Maintenance); err != nil {
				return nil, nil, domain.NewRepositoryError("decode equipment maintenance", err)
			}
		}
		equipment = append(equipment, e)
	}
	return staff, equipment, equipmentRows.Err()
}

// ListSurgeryTypes reads the surgery type catalog.
func (r *PostgresRepository) ListSurgeryTypes(ctx context.Context) ([]domain.SurgeryType, error) {
	execer := persistence.Executor(ctx, r.pool)
	rows, err := execer.Query(ctx, `SELECT id, code, name FROM surgery_types ORDER BY code`)
	if err != nil {
		return nil, domain.NewRepositoryError("query surgery types", err)
	}
	defer rows.Close()

	var types []domain.SurgeryType
	for rows.Next() {
		var t domain.SurgeryType
		if err := rows.Scan(&t.ID, &t.Code, &t.Name); err != nil {
			return nil, domain.NewRepositoryError("scan surgery type", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// ScheduleVersion returns the version token for a date, zero when the date
// has never been written.
func (r *PostgresRepository) ScheduleVersion(ctx context.Context, date time.Time) (int64, error) {
	execer := persistence.Executor(ctx, r.pool)
	var version int64
	err := execer.QueryRow(ctx,
		`SELECT version FROM schedule_versions WHERE schedule_date = $1`,
		dayKey(date)).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, domain.NewRepositoryError("read schedule version", err)
	}
	return version, nil
}

// PersistAssignments commits a change set under optimistic concurrency: the
// version row acts as the guard, and the day's assignments are replaced
// wholesale inside the caller's transaction.
func (r *PostgresRepository) PersistAssignments(ctx context.Context, changes domain.AssignmentChangeSet, version int64) (int64, error) {
	info, inTx := persistence.TxInfoFromContext(ctx)
	var tx pgx.Tx
	if inTx {
		tx = info.Tx
	} else {
		var err error
		tx, err = r.pool.Begin(ctx)
		if err != nil {
			return 0, domain.NewRepositoryError("begin persist", err)
		}
		defer tx.Rollback(ctx)
	}

	date := dayKey(changes.Date)
	newVersion := version + 1

	tag, err := tx.Exec(ctx, `
		INSERT INTO schedule_versions (schedule_date, version, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (schedule_date) DO UPDATE
		SET version = $2, updated_at = now()
		WHERE schedule_versions.version = $3
	`, date, newVersion, version)
	if err != nil {
		return 0, domain.NewRepositoryError("bump schedule version", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("%w: schedule version %d superseded", domain.ErrConflict, version)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM assignments WHERE schedule_date = $1`, date); err != nil {
		return 0, domain.NewRepositoryError("clear assignments", err)
	}

	for _, a := range changes.Upserts {
		_, err := tx.Exec(ctx, `
			INSERT INTO assignments
				(schedule_date, surgery_id, room_id, setup_start, operation_start, end_time, setup_minutes)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, date, a.SurgeryID, a.RoomID, a.SetupStart, a.OperationStart, a.End, a.AppliedSetupMinutes)
		if err != nil {
			return 0, domain.NewRepositoryError("insert assignment", err)
		}
	}

	if len(changes.Upserts) > 0 {
		ids := make([]uuid.UUID, 0, len(changes.Upserts))
		for _, a := range changes.Upserts {
			ids = append(ids, a.SurgeryID)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE surgeries SET status = 'scheduled', scheduled_date = $2 WHERE id = ANY($1)`,
			ids, date); err != nil {
			return 0, domain.NewRepositoryError("mark surgeries scheduled", err)
		}
	}
	unplaced := append(append([]uuid.UUID(nil), changes.Unplaced...), changes.RemovedIDs...)
	if len(unplaced) > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE surgeries SET status = 'pending', scheduled_date = NULL
			WHERE id = ANY($1) AND status = 'scheduled'
		`, unplaced); err != nil {
			return 0, domain.NewRepositoryError("mark surgeries pending", err)
		}
	}

	if !inTx {
		if err := tx.Commit(ctx); err != nil {
			return 0, domain.NewRepositoryError("commit persist", err)
		}
	}
	return newVersion, nil
}
