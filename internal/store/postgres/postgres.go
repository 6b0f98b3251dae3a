// Package postgres implements the store contracts on PostgreSQL via sqlx.
// Every repository shares one DB handle wrapping the pool with a circuit
// breaker and per-call timeouts; errors surface as domain kinds.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/laneiq/freightlens/internal/domain"
)

// Config tunes the shared pool.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
	FetchBatchSize  int     // rows per record-cursor page
	FetchBatchRate  float64 // record-cursor pages per second, 0 = unpaced
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 16
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 4
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.FetchBatchSize <= 0 {
		c.FetchBatchSize = 1000
	}
	return c
}

// DB wraps the sqlx pool with the breaker and timeout every repository uses.
type DB struct {
	conn    *sqlx.DB
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	cfg     Config
	log     zerolog.Logger
}

// Open connects, verifies the connection, and returns the shared handle.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*DB, error) {
	cfg = cfg.withDefaults()

	conn, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, domain.Wrap(domain.KindStoreUnavailable, "open postgres", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, domain.Wrap(domain.KindStoreUnavailable, "ping postgres", err)
	}

	db := &DB{
		conn:    conn,
		timeout: cfg.QueryTimeout,
		cfg:     cfg,
		log:     log.With().Str("component", "postgres").Logger(),
	}
	db.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "postgres",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only transport-level failures trip the breaker; domain outcomes
		// like NOT_FOUND or NAME_CONFLICT are healthy responses.
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.Retryable(err)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			db.log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("postgres breaker state change")
		},
	})
	return db, nil
}

// Close releases the pool.
func (db *DB) Close() error { return db.conn.Close() }

// do runs fn under the breaker with the configured query timeout. fn must
// return domain-mapped errors (use mapErr).
func (db *DB) do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := db.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, db.timeout)
		defer cancel()
		return nil, fn(callCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.Wrap(domain.KindStoreUnavailable, "postgres breaker open", err)
	}
	return err
}

// mapErr translates driver errors into the domain taxonomy.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var kindErr *domain.Error
	if errors.As(err, &kindErr) {
		return err
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Wrap(domain.KindNotFound, op, err)
	case errors.Is(err, context.Canceled):
		return domain.Wrap(domain.KindCancelled, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Wrap(domain.KindStoreUnavailable, op, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return domain.Wrap(domain.KindNameConflict, op, err)
		case pqErr.Code.Class() == "22", pqErr.Code.Class() == "42":
			// Data exceptions and malformed SQL are caller problems, not
			// outages; retrying them would loop forever.
			return domain.Wrap(domain.KindInvalidFilter, op, err)
		}
	}
	return domain.Wrap(domain.KindStoreUnavailable, op, err)
}
