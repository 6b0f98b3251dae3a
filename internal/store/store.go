// Package store defines the persistence contracts the analysis core
// consumes. Postgres implementations live in store/postgres; in-memory
// equivalents for tests and single-node development live in store/memstore.
package store

import (
	"context"
	"time"

	"github.com/laneiq/freightlens/internal/domain"
)

// RecordQuery selects freight records for analysis. The window is
// half-open [Start, End); set filters are inclusion sets, empty means
// unconstrained.
type RecordQuery struct {
	Start          time.Time
	End            time.Time
	OriginIDs      []string
	DestinationIDs []string
	CarrierIDs     []string
	TransportModes []domain.TransportMode
	CurrencyCode   string
}

// RecordCursor streams matching records in (record_date, id) ascending
// order in bounded batches. Next returns an empty batch once the stream is
// exhausted. Implementations surface STORE_UNAVAILABLE for transient
// failures and INVALID_FILTER for queries the store cannot serve.
type RecordCursor interface {
	Next(ctx context.Context) ([]domain.FreightRecord, error)
	Close() error
}

// RecordStore is the read-only freight record repository (soft-deleted
// rows are never returned).
type RecordStore interface {
	Fetch(ctx context.Context, q RecordQuery) (RecordCursor, error)
}

// ResultStore persists AnalysisResult rows with guarded status
// transitions: a transition outside the state machine never commits.
type ResultStore interface {
	Create(ctx context.Context, r *domain.AnalysisResult) error

	Get(ctx context.Context, id string) (*domain.AnalysisResult, error)

	// GetReadyByFingerprint returns the newest COMPLETED result for a
	// fingerprint whose cache_expires_at is after now, for cache hydration
	// after a restart. Returns NOT_FOUND when none qualifies.
	GetReadyByFingerprint(ctx context.Context, fingerprint string, now time.Time) (*domain.AnalysisResult, error)

	// MarkProcessing transitions PENDING -> PROCESSING.
	MarkProcessing(ctx context.Context, id string) error

	// Complete transitions PROCESSING -> COMPLETED and stores the computed
	// values and payload carried on r.
	Complete(ctx context.Context, r *domain.AnalysisResult) error

	// Fail transitions PENDING|PROCESSING -> FAILED with the error message.
	Fail(ctx context.Context, id, errorMessage string) error

	// Cancel transitions PENDING|PROCESSING -> CANCELLED. A terminal row
	// yields NOT_CANCELLABLE; a missing row NOT_FOUND.
	Cancel(ctx context.Context, id string) error
}

// TimePeriodStore persists reusable analysis windows.
type TimePeriodStore interface {
	Create(ctx context.Context, tp *domain.TimePeriod) error
	Get(ctx context.Context, id string) (*domain.TimePeriod, error)
	List(ctx context.Context, createdBy string) ([]domain.TimePeriod, error)
}

// SavedAnalysisStore persists named analysis configurations. Name
// uniqueness is scoped per owner.
type SavedAnalysisStore interface {
	Create(ctx context.Context, s *domain.SavedAnalysis) error
	Update(ctx context.Context, s *domain.SavedAnalysis) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.SavedAnalysis, error)
	GetByName(ctx context.Context, createdBy, name string) (*domain.SavedAnalysis, error)
	List(ctx context.Context, createdBy string) ([]domain.SavedAnalysis, error)
	UpdateLastRun(ctx context.Context, id string, at time.Time) error
}

// ScheduleStore persists recurring analysis schedules.
type ScheduleStore interface {
	Create(ctx context.Context, s *domain.AnalysisSchedule) error
	Update(ctx context.Context, s *domain.AnalysisSchedule) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.AnalysisSchedule, error)
	List(ctx context.Context, createdBy string) ([]domain.AnalysisSchedule, error)

	// Due returns active schedules with next_run_at <= now, ordered by
	// next_run_at ascending, at most limit rows.
	Due(ctx context.Context, now time.Time, limit int) ([]domain.AnalysisSchedule, error)

	// MarkRun records a completed execution and re-arms the schedule.
	MarkRun(ctx context.Context, id string, lastRun, nextRun time.Time) error

	// Deactivate flips is_active off, used when next-fire computation fails.
	Deactivate(ctx context.Context, id string) error

	// CountBySavedAnalysis reports how many schedules reference a saved
	// analysis; the registry refuses deletion while any remain.
	CountBySavedAnalysis(ctx context.Context, savedAnalysisID string) (int, error)
}
