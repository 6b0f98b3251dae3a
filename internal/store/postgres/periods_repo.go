package postgres

import (
	"context"

	"github.com/laneiq/freightlens/internal/domain"
)

// PeriodsRepo persists reusable analysis windows.
type PeriodsRepo struct {
	db *DB
}

// NewPeriodsRepo builds the time-period repository on the shared handle.
func NewPeriodsRepo(db *DB) *PeriodsRepo {
	return &PeriodsRepo{db: db}
}

func (r *PeriodsRepo) Create(ctx context.Context, tp *domain.TimePeriod) error {
	if err := tp.Validate(); err != nil {
		return err
	}
	return r.db.do(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO time_periods
				(id, name, start_date, end_date, granularity,
				 custom_interval_days, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			RETURNING created_at`
		err := r.db.conn.QueryRowxContext(ctx, query,
			tp.ID, tp.Name, tp.StartDate, tp.EndDate, tp.Granularity,
			tp.CustomIntervalDays, tp.CreatedBy).
			Scan(&tp.CreatedAt)
		return mapErr("insert time period", err)
	})
}

func (r *PeriodsRepo) Get(ctx context.Context, id string) (*domain.TimePeriod, error) {
	var tp domain.TimePeriod
	err := r.db.do(ctx, func(ctx context.Context) error {
		return mapErr("get time period", r.db.conn.GetContext(ctx, &tp, `
			SELECT id, name, start_date, end_date, granularity,
			       custom_interval_days, created_by, created_at
			FROM time_periods
			WHERE id = $1`, id))
	})
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func (r *PeriodsRepo) List(ctx context.Context, createdBy string) ([]domain.TimePeriod, error) {
	var out []domain.TimePeriod
	err := r.db.do(ctx, func(ctx context.Context) error {
		query := `
			SELECT id, name, start_date, end_date, granularity,
			       custom_interval_days, created_by, created_at
			FROM time_periods
			WHERE ($1 = '' OR created_by = $1)
			ORDER BY name`
		return mapErr("list time periods", r.db.conn.SelectContext(ctx, &out, query, createdBy))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
