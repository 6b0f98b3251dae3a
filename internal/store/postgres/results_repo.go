package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/laneiq/freightlens/internal/domain"
)

// ResultsRepo persists analysis results. Status transitions are guarded in
// SQL: the UPDATE's WHERE clause encodes the legal source states, so an
// illegal transition affects zero rows and never commits.
type ResultsRepo struct {
	db *DB
}

// NewResultsRepo builds the result repository on the shared handle.
func NewResultsRepo(db *DB) *ResultsRepo {
	return &ResultsRepo{db: db}
}

const resultColumns = `
	id, time_period_id, fingerprint, parameters, status,
	start_value, end_value, absolute_change, percentage_change,
	change_sentinel, trend_direction, currency_code, output_format,
	results, error_message, calculated_at, is_cached, cache_expires_at,
	created_by, created_at, updated_at`

func (r *ResultsRepo) Create(ctx context.Context, res *domain.AnalysisResult) error {
	return r.db.do(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO analysis_results
				(id, time_period_id, fingerprint, parameters, status,
				 output_format, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
			RETURNING created_at, updated_at`
		err := r.db.conn.QueryRowxContext(ctx, query,
			res.ID, nullString(res.TimePeriodID), res.Fingerprint, res.Parameters,
			res.Status, res.OutputFormat, res.CreatedBy).
			Scan(&res.CreatedAt, &res.UpdatedAt)
		return mapErr("insert analysis result", err)
	})
}

func (r *ResultsRepo) Get(ctx context.Context, id string) (*domain.AnalysisResult, error) {
	var res *domain.AnalysisResult
	err := r.db.do(ctx, func(ctx context.Context) error {
		row := r.db.conn.QueryRowxContext(ctx,
			`SELECT `+resultColumns+` FROM analysis_results WHERE id = $1`, id)
		var err error
		res, err = scanResult(row)
		return mapErr("get analysis result", err)
	})
	return res, err
}

func (r *ResultsRepo) GetReadyByFingerprint(ctx context.Context, fingerprint string, now time.Time) (*domain.AnalysisResult, error) {
	var res *domain.AnalysisResult
	err := r.db.do(ctx, func(ctx context.Context) error {
		row := r.db.conn.QueryRowxContext(ctx, `
			SELECT `+resultColumns+`
			FROM analysis_results
			WHERE fingerprint = $1 AND status = $2 AND is_cached AND cache_expires_at > $3
			ORDER BY calculated_at DESC
			LIMIT 1`, fingerprint, domain.StatusCompleted, now)
		var err error
		res, err = scanResult(row)
		return mapErr("get ready result by fingerprint", err)
	})
	return res, err
}

func (r *ResultsRepo) MarkProcessing(ctx context.Context, id string) error {
	return r.transition(ctx, "mark processing", `
		UPDATE analysis_results
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, domain.StatusProcessing, domain.StatusPending)
}

func (r *ResultsRepo) Complete(ctx context.Context, res *domain.AnalysisResult) error {
	payload, err := json.Marshal(res.Results)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "marshal results payload", err)
	}
	return r.db.do(ctx, func(ctx context.Context) error {
		query := `
			UPDATE analysis_results
			SET status = $2,
			    start_value = $3, end_value = $4,
			    absolute_change = $5, percentage_change = $6,
			    change_sentinel = $7, trend_direction = $8,
			    currency_code = $9, results = $10,
			    calculated_at = $11, is_cached = $12, cache_expires_at = $13,
			    updated_at = now()
			WHERE id = $1 AND status = $14`
		tag, err := r.db.conn.ExecContext(ctx, query,
			res.ID, domain.StatusCompleted,
			nullDecimal(res.StartValue), nullDecimal(res.EndValue),
			nullDecimal(res.AbsoluteChange), nullDecimal(res.PercentageChange),
			nullString(string(res.ChangeSentinel)), nullString(string(res.TrendDirection)),
			nullString(res.CurrencyCode), payload,
			res.CalculatedAt, res.IsCached, res.CacheExpiresAt,
			domain.StatusProcessing)
		if err != nil {
			return mapErr("complete analysis result", err)
		}
		return requireTransition(tag, "complete analysis result")
	})
}

func (r *ResultsRepo) Fail(ctx context.Context, id, errorMessage string) error {
	return r.transition(ctx, "fail analysis result", `
		UPDATE analysis_results
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($4)`,
		id, domain.StatusFailed, errorMessage,
		statusArray(domain.StatusPending, domain.StatusProcessing))
}

func (r *ResultsRepo) Cancel(ctx context.Context, id string) error {
	return r.db.do(ctx, func(ctx context.Context) error {
		tag, err := r.db.conn.ExecContext(ctx, `
			UPDATE analysis_results
			SET status = $2, updated_at = now()
			WHERE id = $1 AND status = ANY($3)`,
			id, domain.StatusCancelled,
			statusArray(domain.StatusPending, domain.StatusProcessing))
		if err != nil {
			return mapErr("cancel analysis result", err)
		}
		n, err := tag.RowsAffected()
		if err != nil {
			return mapErr("cancel analysis result", err)
		}
		if n > 0 {
			return nil
		}
		// Zero rows means the row is missing or already terminal.
		var status domain.Status
		err = r.db.conn.QueryRowxContext(ctx,
			`SELECT status FROM analysis_results WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Ef(domain.KindNotFound, "analysis result %s", id)
		}
		if err != nil {
			return mapErr("cancel analysis result", err)
		}
		return domain.Ef(domain.KindNotCancellable, "analysis result %s is %s", id, status)
	})
}

func (r *ResultsRepo) transition(ctx context.Context, op, query string, args ...interface{}) error {
	return r.db.do(ctx, func(ctx context.Context) error {
		tag, err := r.db.conn.ExecContext(ctx, query, args...)
		if err != nil {
			return mapErr(op, err)
		}
		return requireTransition(tag, op)
	})
}

func requireTransition(tag sql.Result, op string) error {
	n, err := tag.RowsAffected()
	if err != nil {
		return mapErr(op, err)
	}
	if n == 0 {
		return domain.Ef(domain.KindInternal, "%s: no row in a legal source state", op)
	}
	return nil
}

func statusArray(statuses ...domain.Status) interface{} {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}

func scanResult(row rowScanner) (*domain.AnalysisResult, error) {
	var (
		res                          domain.AnalysisResult
		timePeriodID                 sql.NullString
		startValue, endValue         decimal.NullDecimal
		absoluteChange, pctChange    decimal.NullDecimal
		sentinel, trend, currency    sql.NullString
		errorMessage                 sql.NullString
		payload                      []byte
		calculatedAt, cacheExpiresAt sql.NullTime
	)
	err := row.Scan(
		&res.ID, &timePeriodID, &res.Fingerprint, &res.Parameters, &res.Status,
		&startValue, &endValue, &absoluteChange, &pctChange,
		&sentinel, &trend, &currency, &res.OutputFormat,
		&payload, &errorMessage, &calculatedAt, &res.IsCached, &cacheExpiresAt,
		&res.CreatedBy, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}

	res.TimePeriodID = timePeriodID.String
	res.StartValue = fromNullDecimal(startValue)
	res.EndValue = fromNullDecimal(endValue)
	res.AbsoluteChange = fromNullDecimal(absoluteChange)
	res.PercentageChange = fromNullDecimal(pctChange)
	res.ChangeSentinel = domain.ChangeSentinel(sentinel.String)
	res.TrendDirection = domain.TrendDirection(trend.String)
	res.CurrencyCode = currency.String
	res.ErrorMessage = errorMessage.String
	if calculatedAt.Valid {
		res.CalculatedAt = calculatedAt.Time
	}
	if cacheExpiresAt.Valid {
		res.CacheExpiresAt = cacheExpiresAt.Time
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &res.Results); err != nil {
			return nil, domain.Wrap(domain.KindInternal, "unmarshal results payload", err)
		}
	}
	return &res, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
