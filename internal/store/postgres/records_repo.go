package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"golang.org/x/time/rate"

	"github.com/laneiq/freightlens/internal/domain"
	"github.com/laneiq/freightlens/internal/store"
)

// RecordsRepo streams freight records with keyset pagination on
// (record_date, id). Soft-deleted rows never leave the database.
type RecordsRepo struct {
	db *DB
}

// NewRecordsRepo builds the record repository on the shared handle.
func NewRecordsRepo(db *DB) *RecordsRepo {
	return &RecordsRepo{db: db}
}

func (r *RecordsRepo) Fetch(ctx context.Context, q store.RecordQuery) (store.RecordCursor, error) {
	if q.End.Before(q.Start) {
		return nil, domain.E(domain.KindInvalidFilter, "record query end precedes start")
	}
	var limiter *rate.Limiter
	if r.db.cfg.FetchBatchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.db.cfg.FetchBatchRate), 1)
	}
	return &recordCursor{
		repo:    r,
		query:   q,
		limit:   r.db.cfg.FetchBatchSize,
		limiter: limiter,
	}, nil
}

type recordCursor struct {
	repo    *RecordsRepo
	query   store.RecordQuery
	limit   int
	limiter *rate.Limiter

	lastDate time.Time
	lastID   string
	started  bool
	done     bool
}

func (c *recordCursor) Next(ctx context.Context) ([]domain.FreightRecord, error) {
	if c.done {
		return nil, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, mapErr("pace record fetch", err)
		}
	}

	var batch []domain.FreightRecord
	err := c.repo.db.do(ctx, func(ctx context.Context) error {
		sqlText, args := c.buildQuery()
		rows, err := c.repo.db.conn.QueryxContext(ctx, sqlText, args...)
		if err != nil {
			return mapErr("query freight records", err)
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return mapErr("scan freight record", err)
			}
			batch = append(batch, *rec)
		}
		return mapErr("iterate freight records", rows.Err())
	})
	if err != nil {
		return nil, err
	}

	if len(batch) < c.limit {
		c.done = true
	}
	if len(batch) > 0 {
		last := batch[len(batch)-1]
		c.lastDate, c.lastID = last.RecordDate, last.ID
		c.started = true
	}
	return batch, nil
}

func (c *recordCursor) Close() error {
	c.done = true
	return nil
}

// buildQuery assembles the filtered keyset page. The window is half-open
// [start, end); the tuple comparison continues exactly where the previous
// page stopped.
func (c *recordCursor) buildQuery() (string, []interface{}) {
	var (
		conds = []string{
			"deleted_at IS NULL",
			"record_date >= $1",
			"record_date < $2",
		}
		args = []interface{}{c.query.Start, c.query.End}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if len(c.query.OriginIDs) > 0 {
		add("origin_id = ANY($%d)", pq.Array(c.query.OriginIDs))
	}
	if len(c.query.DestinationIDs) > 0 {
		add("destination_id = ANY($%d)", pq.Array(c.query.DestinationIDs))
	}
	if len(c.query.CarrierIDs) > 0 {
		add("carrier_id = ANY($%d)", pq.Array(c.query.CarrierIDs))
	}
	if len(c.query.TransportModes) > 0 {
		modes := make([]string, len(c.query.TransportModes))
		for i, m := range c.query.TransportModes {
			modes[i] = string(m)
		}
		add("transport_mode = ANY($%d)", pq.Array(modes))
	}
	if c.query.CurrencyCode != "" {
		add("currency_code = $%d", c.query.CurrencyCode)
	}
	if c.started {
		args = append(args, c.lastDate, c.lastID)
		conds = append(conds, fmt.Sprintf("(record_date, id) > ($%d, $%d)", len(args)-1, len(args)))
	}

	args = append(args, c.limit)
	query := fmt.Sprintf(`
		SELECT id, record_date, origin_id, destination_id, carrier_id,
		       transport_mode, freight_charge, currency_code, service_level,
		       additional_charges, source_system, data_quality_flag
		FROM freight_records
		WHERE %s
		ORDER BY record_date, id
		LIMIT $%d`, strings.Join(conds, " AND "), len(args))
	return query, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*domain.FreightRecord, error) {
	var (
		rec                                     domain.FreightRecord
		serviceLevel, sourceSystem, qualityFlag *string
		chargesJSON                             []byte
	)
	err := row.Scan(
		&rec.ID, &rec.RecordDate, &rec.OriginID, &rec.DestinationID,
		&rec.CarrierID, &rec.TransportMode, &rec.FreightCharge,
		&rec.CurrencyCode, &serviceLevel, &chargesJSON,
		&sourceSystem, &qualityFlag)
	if err != nil {
		return nil, err
	}
	if serviceLevel != nil {
		rec.ServiceLevel = *serviceLevel
	}
	if sourceSystem != nil {
		rec.SourceSystem = *sourceSystem
	}
	if qualityFlag != nil {
		rec.DataQualityFlag = *qualityFlag
	}
	if len(chargesJSON) > 0 {
		if err := json.Unmarshal(chargesJSON, &rec.AdditionalCharges); err != nil {
			return nil, fmt.Errorf("unmarshal additional_charges: %w", err)
		}
	}
	return &rec, nil
}
