package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/laneiq/freightlens/internal/domain"
)

// SchedulesRepo persists recurring analysis schedules.
type SchedulesRepo struct {
	db *DB
}

// NewSchedulesRepo builds the schedule repository on the shared handle.
func NewSchedulesRepo(db *DB) *SchedulesRepo {
	return &SchedulesRepo{db: db}
}

const scheduleColumns = `
	id, name, saved_analysis_id, schedule_kind, schedule_spec, is_active,
	last_run_at, next_run_at, created_by, created_at, updated_at`

func (r *SchedulesRepo) Create(ctx context.Context, sc *domain.AnalysisSchedule) error {
	return r.db.do(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO analysis_schedules
				(id, name, saved_analysis_id, schedule_kind, schedule_spec,
				 is_active, next_run_at, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
			RETURNING created_at, updated_at`
		err := r.db.conn.QueryRowxContext(ctx, query,
			sc.ID, sc.Name, sc.SavedAnalysisID, sc.ScheduleKind,
			nullString(sc.ScheduleSpec), sc.IsActive, sc.NextRunAt, sc.CreatedBy).
			Scan(&sc.CreatedAt, &sc.UpdatedAt)
		return mapErr("insert schedule", err)
	})
}

func (r *SchedulesRepo) Update(ctx context.Context, sc *domain.AnalysisSchedule) error {
	return r.db.do(ctx, func(ctx context.Context) error {
		query := `
			UPDATE analysis_schedules
			SET name = $2, saved_analysis_id = $3, schedule_kind = $4,
			    schedule_spec = $5, is_active = $6, next_run_at = $7,
			    updated_at = now()
			WHERE id = $1
			RETURNING updated_at`
		err := r.db.conn.QueryRowxContext(ctx, query,
			sc.ID, sc.Name, sc.SavedAnalysisID, sc.ScheduleKind,
			nullString(sc.ScheduleSpec), sc.IsActive, sc.NextRunAt).
			Scan(&sc.UpdatedAt)
		return mapErr("update schedule", err)
	})
}

func (r *SchedulesRepo) Delete(ctx context.Context, id string) error {
	return r.db.do(ctx, func(ctx context.Context) error {
		tag, err := r.db.conn.ExecContext(ctx,
			`DELETE FROM analysis_schedules WHERE id = $1`, id)
		if err != nil {
			return mapErr("delete schedule", err)
		}
		n, err := tag.RowsAffected()
		if err != nil {
			return mapErr("delete schedule", err)
		}
		if n == 0 {
			return domain.Ef(domain.KindNotFound, "schedule %s", id)
		}
		return nil
	})
}

func (r *SchedulesRepo) Get(ctx context.Context, id string) (*domain.AnalysisSchedule, error) {
	var sc *domain.AnalysisSchedule
	err := r.db.do(ctx, func(ctx context.Context) error {
		row := r.db.conn.QueryRowxContext(ctx,
			`SELECT `+scheduleColumns+` FROM analysis_schedules WHERE id = $1`, id)
		var err error
		sc, err = scanSchedule(row)
		return mapErr("get schedule", err)
	})
	return sc, err
}

func (r *SchedulesRepo) List(ctx context.Context, createdBy string) ([]domain.AnalysisSchedule, error) {
	return r.list(ctx, "list schedules", `
		SELECT `+scheduleColumns+`
		FROM analysis_schedules
		WHERE ($1 = '' OR created_by = $1)
		ORDER BY name`, createdBy)
}

func (r *SchedulesRepo) Due(ctx context.Context, now time.Time, limit int) ([]domain.AnalysisSchedule, error) {
	return r.list(ctx, "list due schedules", `
		SELECT `+scheduleColumns+`
		FROM analysis_schedules
		WHERE is_active AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at
		LIMIT $2`, now, limit)
}

func (r *SchedulesRepo) MarkRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	return r.db.do(ctx, func(ctx context.Context) error {
		tag, err := r.db.conn.ExecContext(ctx, `
			UPDATE analysis_schedules
			SET last_run_at = $2, next_run_at = $3, updated_at = now()
			WHERE id = $1`, id, lastRun, nextRun)
		if err != nil {
			return mapErr("mark schedule run", err)
		}
		n, err := tag.RowsAffected()
		if err != nil {
			return mapErr("mark schedule run", err)
		}
		if n == 0 {
			return domain.Ef(domain.KindNotFound, "schedule %s", id)
		}
		return nil
	})
}

func (r *SchedulesRepo) Deactivate(ctx context.Context, id string) error {
	return r.db.do(ctx, func(ctx context.Context) error {
		tag, err := r.db.conn.ExecContext(ctx, `
			UPDATE analysis_schedules
			SET is_active = FALSE, updated_at = now()
			WHERE id = $1`, id)
		if err != nil {
			return mapErr("deactivate schedule", err)
		}
		n, err := tag.RowsAffected()
		if err != nil {
			return mapErr("deactivate schedule", err)
		}
		if n == 0 {
			return domain.Ef(domain.KindNotFound, "schedule %s", id)
		}
		return nil
	})
}

func (r *SchedulesRepo) CountBySavedAnalysis(ctx context.Context, savedAnalysisID string) (int, error) {
	var n int
	err := r.db.do(ctx, func(ctx context.Context) error {
		return mapErr("count schedules by saved analysis",
			r.db.conn.QueryRowxContext(ctx, `
				SELECT COUNT(*) FROM analysis_schedules WHERE saved_analysis_id = $1`,
				savedAnalysisID).Scan(&n))
	})
	return n, err
}

func (r *SchedulesRepo) list(ctx context.Context, op, query string, args ...interface{}) ([]domain.AnalysisSchedule, error) {
	var out []domain.AnalysisSchedule
	err := r.db.do(ctx, func(ctx context.Context) error {
		rows, err := r.db.conn.QueryxContext(ctx, query, args...)
		if err != nil {
			return mapErr(op, err)
		}
		defer rows.Close()

		for rows.Next() {
			sc, err := scanSchedule(rows)
			if err != nil {
				return mapErr(op, err)
			}
			out = append(out, *sc)
		}
		return mapErr(op, rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanSchedule(row rowScanner) (*domain.AnalysisSchedule, error) {
	var (
		sc                   domain.AnalysisSchedule
		spec                 sql.NullString
		lastRunAt, nextRunAt sql.NullTime
	)
	err := row.Scan(
		&sc.ID, &sc.Name, &sc.SavedAnalysisID, &sc.ScheduleKind, &spec,
		&sc.IsActive, &lastRunAt, &nextRunAt,
		&sc.CreatedBy, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sc.ScheduleSpec = spec.String
	if lastRunAt.Valid {
		t := lastRunAt.Time
		sc.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		sc.NextRunAt = &t
	}
	return &sc, nil
}
