// Package memstore provides in-memory store implementations for tests and
// single-node development. They honour the same ordering, soft-delete, and
// status-transition contracts as the Postgres implementations.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/laneiq/freightlens/internal/clock"
	"github.com/laneiq/freightlens/internal/domain"
	"github.com/laneiq/freightlens/internal/store"
)

// DefaultBatchSize bounds cursor batches when the caller does not care.
const DefaultBatchSize = 500

// RecordStore keeps freight records in memory and serves them through a
// batching cursor in (record_date, id) order.
type RecordStore struct {
	mu         sync.RWMutex
	records    []domain.FreightRecord
	batchSize  int
	fetchCalls atomic.Int64
}

// NewRecordStore builds an empty record store.
func NewRecordStore(batchSize int) *RecordStore {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &RecordStore{batchSize: batchSize}
}

// Add inserts records (test seeding).
func (s *RecordStore) Add(records ...domain.FreightRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
}

// FetchCalls reports how many Fetch invocations happened; the single-flight
// tests use it to observe that only one caller reached the store.
func (s *RecordStore) FetchCalls() int64 { return s.fetchCalls.Load() }

func (s *RecordStore) Fetch(ctx context.Context, q store.RecordQuery) (store.RecordCursor, error) {
	s.fetchCalls.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.FreightRecord
	for _, r := range s.records {
		if r.DeletedAt != nil {
			continue
		}
		if r.RecordDate.Before(q.Start) || !r.RecordDate.Before(q.End) {
			continue
		}
		if !matchSet(q.OriginIDs, r.OriginID) ||
			!matchSet(q.DestinationIDs, r.DestinationID) ||
			!matchSet(q.CarrierIDs, r.CarrierID) {
			continue
		}
		if len(q.TransportModes) > 0 && !matchModes(q.TransportModes, r.TransportMode) {
			continue
		}
		if q.CurrencyCode != "" && !strings.EqualFold(q.CurrencyCode, r.CurrencyCode) {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].RecordDate.Equal(matched[j].RecordDate) {
			return matched[i].RecordDate.Before(matched[j].RecordDate)
		}
		return matched[i].ID < matched[j].ID
	})
	return &sliceCursor{records: matched, batchSize: s.batchSize}, nil
}

func matchSet(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func matchModes(set []domain.TransportMode, v domain.TransportMode) bool {
	for _, m := range set {
		if m == v {
			return true
		}
	}
	return false
}

type sliceCursor struct {
	records   []domain.FreightRecord
	batchSize int
	pos       int
}

func (c *sliceCursor) Next(ctx context.Context) ([]domain.FreightRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Wrap(domain.KindCancelled, "fetch aborted", err)
	}
	if c.pos >= len(c.records) {
		return nil, nil
	}
	end := c.pos + c.batchSize
	if end > len(c.records) {
		end = len(c.records)
	}
	batch := c.records[c.pos:end]
	c.pos = end
	return batch, nil
}

func (c *sliceCursor) Close() error { return nil }

// ResultStore keeps analysis results in memory with guarded status
// transitions.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]*domain.AnalysisResult
	clock   clock.Clock
}

// NewResultStore builds an empty result store on the given clock.
func NewResultStore(clk clock.Clock) *ResultStore {
	return &ResultStore{results: make(map[string]*domain.AnalysisResult), clock: clk}
}

func (s *ResultStore) Create(ctx context.Context, r *domain.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	cp := *r
	s.results[r.ID] = &cp
	return nil
}

func (s *ResultStore) Get(ctx context.Context, id string) (*domain.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return nil, domain.Ef(domain.KindNotFound, "analysis result %s", id)
	}
	cp := *r
	return &cp, nil
}

func (s *ResultStore) GetReadyByFingerprint(ctx context.Context, fingerprint string, now time.Time) (*domain.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *domain.AnalysisResult
	for _, r := range s.results {
		if r.Fingerprint != fingerprint || r.Status != domain.StatusCompleted {
			continue
		}
		if !r.CacheExpiresAt.After(now) {
			continue
		}
		if best == nil || r.CalculatedAt.After(best.CalculatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, domain.Ef(domain.KindNotFound, "no ready result for fingerprint %s", fingerprint)
	}
	cp := *best
	return &cp, nil
}

func (s *ResultStore) MarkProcessing(ctx context.Context, id string) error {
	return s.transition(id, domain.StatusProcessing, func(r *domain.AnalysisResult) {})
}

func (s *ResultStore) Complete(ctx context.Context, r *domain.AnalysisResult) error {
	return s.transition(r.ID, domain.StatusCompleted, func(dst *domain.AnalysisResult) {
		dst.StartValue = r.StartValue
		dst.EndValue = r.EndValue
		dst.AbsoluteChange = r.AbsoluteChange
		dst.PercentageChange = r.PercentageChange
		dst.ChangeSentinel = r.ChangeSentinel
		dst.TrendDirection = r.TrendDirection
		dst.CurrencyCode = r.CurrencyCode
		dst.Results = r.Results
		dst.CalculatedAt = r.CalculatedAt
		dst.IsCached = r.IsCached
		dst.CacheExpiresAt = r.CacheExpiresAt
	})
}

func (s *ResultStore) Fail(ctx context.Context, id, errorMessage string) error {
	return s.transition(id, domain.StatusFailed, func(r *domain.AnalysisResult) {
		r.ErrorMessage = errorMessage
	})
}

func (s *ResultStore) Cancel(ctx context.Context, id string) error {
	err := s.transition(id, domain.StatusCancelled, func(r *domain.AnalysisResult) {})
	if err != nil && domain.IsKind(err, domain.KindInternal) {
		return domain.Ef(domain.KindNotCancellable, "analysis result %s is terminal", id)
	}
	return err
}

func (s *ResultStore) transition(id string, to domain.Status, apply func(*domain.AnalysisResult)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	if !ok {
		return domain.Ef(domain.KindNotFound, "analysis result %s", id)
	}
	if !domain.CanTransition(r.Status, to) {
		return domain.Ef(domain.KindInternal, "illegal transition %s -> %s for result %s", r.Status, to, id)
	}
	r.Status = to
	r.UpdatedAt = s.clock.Now()
	apply(r)
	return nil
}

// TimePeriodStore keeps time periods in memory.
type TimePeriodStore struct {
	mu      sync.RWMutex
	periods map[string]domain.TimePeriod
	clock   clock.Clock
}

func NewTimePeriodStore(clk clock.Clock) *TimePeriodStore {
	return &TimePeriodStore{periods: make(map[string]domain.TimePeriod), clock: clk}
}

func (s *TimePeriodStore) Create(ctx context.Context, tp *domain.TimePeriod) error {
	if err := tp.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tp.CreatedAt = s.clock.Now()
	s.periods[tp.ID] = *tp
	return nil
}

func (s *TimePeriodStore) Get(ctx context.Context, id string) (*domain.TimePeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tp, ok := s.periods[id]
	if !ok {
		return nil, domain.Ef(domain.KindNotFound, "time period %s", id)
	}
	return &tp, nil
}

func (s *TimePeriodStore) List(ctx context.Context, createdBy string) ([]domain.TimePeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TimePeriod
	for _, tp := range s.periods {
		if createdBy == "" || tp.CreatedBy == createdBy {
			out = append(out, tp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SavedAnalysisStore keeps saved analyses in memory.
type SavedAnalysisStore struct {
	mu    sync.RWMutex
	saved map[string]domain.SavedAnalysis
	clock clock.Clock
}

func NewSavedAnalysisStore(clk clock.Clock) *SavedAnalysisStore {
	return &SavedAnalysisStore{saved: make(map[string]domain.SavedAnalysis), clock: clk}
}

func (s *SavedAnalysisStore) Create(ctx context.Context, sa *domain.SavedAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.saved {
		if existing.CreatedBy == sa.CreatedBy && existing.Name == sa.Name {
			return domain.Ef(domain.KindNameConflict, "saved analysis %q already exists", sa.Name)
		}
	}
	now := s.clock.Now()
	sa.CreatedAt, sa.UpdatedAt = now, now
	s.saved[sa.ID] = *sa
	return nil
}

func (s *SavedAnalysisStore) Update(ctx context.Context, sa *domain.SavedAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.saved[sa.ID]
	if !ok {
		return domain.Ef(domain.KindNotFound, "saved analysis %s", sa.ID)
	}
	for id, other := range s.saved {
		if id != sa.ID && other.CreatedBy == sa.CreatedBy && other.Name == sa.Name {
			return domain.Ef(domain.KindNameConflict, "saved analysis %q already exists", sa.Name)
		}
	}
	sa.CreatedAt = existing.CreatedAt
	sa.UpdatedAt = s.clock.Now()
	s.saved[sa.ID] = *sa
	return nil
}

func (s *SavedAnalysisStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.saved[id]; !ok {
		return domain.Ef(domain.KindNotFound, "saved analysis %s", id)
	}
	delete(s.saved, id)
	return nil
}

func (s *SavedAnalysisStore) Get(ctx context.Context, id string) (*domain.SavedAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sa, ok := s.saved[id]
	if !ok {
		return nil, domain.Ef(domain.KindNotFound, "saved analysis %s", id)
	}
	return &sa, nil
}

func (s *SavedAnalysisStore) GetByName(ctx context.Context, createdBy, name string) (*domain.SavedAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sa := range s.saved {
		if sa.CreatedBy == createdBy && sa.Name == name {
			cp := sa
			return &cp, nil
		}
	}
	return nil, domain.Ef(domain.KindNotFound, "saved analysis %q for %s", name, createdBy)
}

func (s *SavedAnalysisStore) List(ctx context.Context, createdBy string) ([]domain.SavedAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SavedAnalysis
	for _, sa := range s.saved {
		if createdBy == "" || sa.CreatedBy == createdBy {
			out = append(out, sa)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *SavedAnalysisStore) UpdateLastRun(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sa, ok := s.saved[id]
	if !ok {
		return domain.Ef(domain.KindNotFound, "saved analysis %s", id)
	}
	sa.LastRunAt = &at
	sa.UpdatedAt = s.clock.Now()
	s.saved[id] = sa
	return nil
}

// ScheduleStore keeps analysis schedules in memory.
type ScheduleStore struct {
	mu        sync.RWMutex
	schedules map[string]domain.AnalysisSchedule
	clock     clock.Clock
}

func NewScheduleStore(clk clock.Clock) *ScheduleStore {
	return &ScheduleStore{schedules: make(map[string]domain.AnalysisSchedule), clock: clk}
}

func (s *ScheduleStore) Create(ctx context.Context, sc *domain.AnalysisSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	sc.CreatedAt, sc.UpdatedAt = now, now
	s.schedules[sc.ID] = *sc
	return nil
}

func (s *ScheduleStore) Update(ctx context.Context, sc *domain.AnalysisSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.schedules[sc.ID]
	if !ok {
		return domain.Ef(domain.KindNotFound, "schedule %s", sc.ID)
	}
	sc.CreatedAt = existing.CreatedAt
	sc.UpdatedAt = s.clock.Now()
	s.schedules[sc.ID] = *sc
	return nil
}

func (s *ScheduleStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return domain.Ef(domain.KindNotFound, "schedule %s", id)
	}
	delete(s.schedules, id)
	return nil
}

func (s *ScheduleStore) Get(ctx context.Context, id string) (*domain.AnalysisSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, domain.Ef(domain.KindNotFound, "schedule %s", id)
	}
	return &sc, nil
}

func (s *ScheduleStore) List(ctx context.Context, createdBy string) ([]domain.AnalysisSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AnalysisSchedule
	for _, sc := range s.schedules {
		if createdBy == "" || sc.CreatedBy == createdBy {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *ScheduleStore) Due(ctx context.Context, now time.Time, limit int) ([]domain.AnalysisSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []domain.AnalysisSchedule
	for _, sc := range s.schedules {
		if !sc.IsActive || sc.NextRunAt == nil {
			continue
		}
		if !sc.NextRunAt.After(now) {
			due = append(due, sc)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRunAt.Before(*due[j].NextRunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *ScheduleStore) MarkRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return domain.Ef(domain.KindNotFound, "schedule %s", id)
	}
	sc.LastRunAt = &lastRun
	sc.NextRunAt = &nextRun
	sc.UpdatedAt = s.clock.Now()
	s.schedules[id] = sc
	return nil
}

func (s *ScheduleStore) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return domain.Ef(domain.KindNotFound, "schedule %s", id)
	}
	sc.IsActive = false
	sc.UpdatedAt = s.clock.Now()
	s.schedules[id] = sc
	return nil
}

func (s *ScheduleStore) CountBySavedAnalysis(ctx context.Context, savedAnalysisID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sc := range s.schedules {
		if sc.SavedAnalysisID == savedAnalysisID {
			n++
		}
	}
	return n, nil
}
