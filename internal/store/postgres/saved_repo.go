package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/laneiq/freightlens/internal/domain"
)

// SavedRepo persists saved analyses. Filters live in a JSONB column; the
// (created_by, name) unique index enforces per-owner name uniqueness and
// surfaces as NAME_CONFLICT.
type SavedRepo struct {
	db *DB
}

// NewSavedRepo builds the saved-analysis repository on the shared handle.
func NewSavedRepo(db *DB) *SavedRepo {
	return &SavedRepo{db: db}
}

const savedColumns = `
	id, name, description, time_period_id, filters, output_format,
	include_visualization, last_run_at, created_by, created_at, updated_at`

func (r *SavedRepo) Create(ctx context.Context, sa *domain.SavedAnalysis) error {
	filters, err := json.Marshal(sa.Filters)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "marshal filters", err)
	}
	return r.db.do(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO saved_analyses
				(id, name, description, time_period_id, filters,
				 output_format, include_visualization, created_by,
				 created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
			RETURNING created_at, updated_at`
		err := r.db.conn.QueryRowxContext(ctx, query,
			sa.ID, sa.Name, nullString(sa.Description), nullString(sa.TimePeriodID),
			filters, sa.OutputFormat, sa.IncludeVisualization, sa.CreatedBy).
			Scan(&sa.CreatedAt, &sa.UpdatedAt)
		return mapErr("insert saved analysis", err)
	})
}

func (r *SavedRepo) Update(ctx context.Context, sa *domain.SavedAnalysis) error {
	filters, err := json.Marshal(sa.Filters)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "marshal filters", err)
	}
	return r.db.do(ctx, func(ctx context.Context) error {
		query := `
			UPDATE saved_analyses
			SET name = $2, description = $3, time_period_id = $4,
			    filters = $5, output_format = $6, include_visualization = $7,
			    updated_at = now()
			WHERE id = $1
			RETURNING updated_at`
		err := r.db.conn.QueryRowxContext(ctx, query,
			sa.ID, sa.Name, nullString(sa.Description), nullString(sa.TimePeriodID),
			filters, sa.OutputFormat, sa.IncludeVisualization).
			Scan(&sa.UpdatedAt)
		return mapErr("update saved analysis", err)
	})
}

func (r *SavedRepo) Delete(ctx context.Context, id string) error {
	return r.db.do(ctx, func(ctx context.Context) error {
		tag, err := r.db.conn.ExecContext(ctx,
			`DELETE FROM saved_analyses WHERE id = $1`, id)
		if err != nil {
			return mapErr("delete saved analysis", err)
		}
		n, err := tag.RowsAffected()
		if err != nil {
			return mapErr("delete saved analysis", err)
		}
		if n == 0 {
			return domain.Ef(domain.KindNotFound, "saved analysis %s", id)
		}
		return nil
	})
}

func (r *SavedRepo) Get(ctx context.Context, id string) (*domain.SavedAnalysis, error) {
	return r.getOne(ctx, "get saved analysis",
		`SELECT `+savedColumns+` FROM saved_analyses WHERE id = $1`, id)
}

func (r *SavedRepo) GetByName(ctx context.Context, createdBy, name string) (*domain.SavedAnalysis, error) {
	return r.getOne(ctx, "get saved analysis by name",
		`SELECT `+savedColumns+` FROM saved_analyses WHERE created_by = $1 AND name = $2`,
		createdBy, name)
}

func (r *SavedRepo) List(ctx context.Context, createdBy string) ([]domain.SavedAnalysis, error) {
	var out []domain.SavedAnalysis
	err := r.db.do(ctx, func(ctx context.Context) error {
		rows, err := r.db.conn.QueryxContext(ctx, `
			SELECT `+savedColumns+`
			FROM saved_analyses
			WHERE ($1 = '' OR created_by = $1)
			ORDER BY name`, createdBy)
		if err != nil {
			return mapErr("list saved analyses", err)
		}
		defer rows.Close()

		for rows.Next() {
			sa, err := scanSaved(rows)
			if err != nil {
				return mapErr("scan saved analysis", err)
			}
			out = append(out, *sa)
		}
		return mapErr("list saved analyses", rows.Err())
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SavedRepo) UpdateLastRun(ctx context.Context, id string, at time.Time) error {
	return r.db.do(ctx, func(ctx context.Context) error {
		tag, err := r.db.conn.ExecContext(ctx, `
			UPDATE saved_analyses
			SET last_run_at = $2, updated_at = now()
			WHERE id = $1`, id, at)
		if err != nil {
			return mapErr("update saved analysis last run", err)
		}
		n, err := tag.RowsAffected()
		if err != nil {
			return mapErr("update saved analysis last run", err)
		}
		if n == 0 {
			return domain.Ef(domain.KindNotFound, "saved analysis %s", id)
		}
		return nil
	})
}

func (r *SavedRepo) getOne(ctx context.Context, op, query string, args ...interface{}) (*domain.SavedAnalysis, error) {
	var sa *domain.SavedAnalysis
	err := r.db.do(ctx, func(ctx context.Context) error {
		row := r.db.conn.QueryRowxContext(ctx, query, args...)
		var err error
		sa, err = scanSaved(row)
		return mapErr(op, err)
	})
	return sa, err
}

func scanSaved(row rowScanner) (*domain.SavedAnalysis, error) {
	var (
		sa                    domain.SavedAnalysis
		description, periodID sql.NullString
		filtersJSON           []byte
		lastRunAt             sql.NullTime
	)
	err := row.Scan(
		&sa.ID, &sa.Name, &description, &periodID, &filtersJSON,
		&sa.OutputFormat, &sa.IncludeVisualization, &lastRunAt,
		&sa.CreatedBy, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sa.Description = description.String
	sa.TimePeriodID = periodID.String
	if lastRunAt.Valid {
		t := lastRunAt.Time
		sa.LastRunAt = &t
	}
	if len(filtersJSON) > 0 {
		if err := json.Unmarshal(filtersJSON, &sa.Filters); err != nil {
			return nil, domain.Wrap(domain.KindInternal, "unmarshal filters", err)
		}
	}
	return &sa, nil
}
