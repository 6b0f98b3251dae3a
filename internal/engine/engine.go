// Package engine is the analysis orchestrator: it canonicalizes requests,
// coordinates the single-flight result cache, drives fetch/aggregate/
// movement, and walks result rows through their status state machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/laneiq/freightlens/internal/aggregate"
	"github.com/laneiq/freightlens/internal/cache"
	"github.com/laneiq/freightlens/internal/clock"
	"github.com/laneiq/freightlens/internal/domain"
	"github.com/laneiq/freightlens/internal/metrics"
	"github.com/laneiq/freightlens/internal/movement"
	"github.com/laneiq/freightlens/internal/store"
	"github.com/laneiq/freightlens/internal/timeperiod"
)

// Config holds the orchestrator's tunables. Zero values fall back to the
// documented defaults.
type Config struct {
	LeaseDuration  time.Duration   // in-flight lease, default 120s
	WaitTimeout    time.Duration   // max wait on a held fingerprint, default 60s
	WaitPoll       time.Duration   // initial wait-poll interval, default 250ms
	ResultTTL      time.Duration   // ready-cache TTL, default 3600s
	RetryMax       uint64          // retryable-failure attempts, default 3
	RetryBase      time.Duration   // first retry backoff, default 1s
	TrendThreshold decimal.Decimal // STABLE band, default 1.0
}

func (c Config) withDefaults() Config {
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 120 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 60 * time.Second
	}
	if c.WaitPoll <= 0 {
		c.WaitPoll = 250 * time.Millisecond
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = time.Hour
	}
	if c.RetryMax == 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.TrendThreshold.Sign() <= 0 {
		c.TrendThreshold = movement.DefaultTrendThreshold
	}
	return c
}

// Deps are the collaborators the engine consumes.
type Deps struct {
	Records store.RecordStore
	Results store.ResultStore
	Periods store.TimePeriodStore
	Saved   store.SavedAnalysisStore
	Cache   cache.Cache
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Engine orchestrates analyses. Safe for concurrent use.
type Engine struct {
	deps    Deps
	cfg     Config
	calc    *movement.Calculator
	ownerID string

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New builds an engine. Clock and Metrics default to the real clock and a
// throwaway registry when nil.
func New(deps Deps, cfg Config) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop()
	}
	cfg = cfg.withDefaults()
	return &Engine{
		deps:    deps,
		cfg:     cfg,
		calc:    movement.NewCalculator(cfg.TrendThreshold),
		ownerID: uuid.NewString(),
		running: make(map[string]context.CancelFunc),
	}
}

// Analyze runs (or returns the cached result of) an analysis. The second
// return value reports whether the result came from the cache. Deadlines
// and cancellation ride on ctx.
func (e *Engine) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, bool, error) {
	req, err := e.resolvePeriod(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if err := req.Period.Validate(); err != nil {
		return nil, false, err
	}
	if err := req.Filters.Validate(); err != nil {
		return nil, false, err
	}

	fp, canonical, err := Fingerprint(req)
	if err != nil {
		return nil, false, domain.Wrap(domain.KindInternal, "fingerprint", err)
	}
	log := e.deps.Logger.With().Str("fingerprint", fp).Logger()

	if res, ok := e.lookupCached(ctx, fp, log); ok {
		e.deps.Metrics.CacheHits.Inc()
		return res, true, nil
	}
	e.deps.Metrics.CacheMisses.Inc()

	row := &domain.AnalysisResult{
		ID:           uuid.NewString(),
		TimePeriodID: req.TimePeriodID,
		Fingerprint:  fp,
		Parameters:   canonical,
		Status:       domain.StatusPending,
		OutputFormat: outputFormatOrDefault(req.OutputFormat),
		CreatedBy:    req.UserID,
	}
	if err := e.deps.Results.Create(ctx, row); err != nil {
		return nil, false, domain.Wrap(domain.KindInternal, "create result row", err)
	}

	claim, err := e.claimWithWait(ctx, fp, log)
	if err != nil {
		e.discardRow(ctx, row.ID)
		return nil, false, err
	}
	if claim.Outcome == cache.ReadyNow {
		// Another worker finished while we waited; our placeholder row is
		// superseded by the winner's.
		e.discardRow(ctx, row.ID)
		res, err := e.deps.Results.Get(ctx, claim.ResultID)
		if err != nil {
			return nil, false, domain.Wrap(domain.KindInternal, "ready result vanished", err)
		}
		e.deps.Metrics.CacheHits.Inc()
		return res, true, nil
	}

	return e.runClaimed(ctx, req, row, fp, log)
}

// runClaimed owns the in-flight lease: it walks the row to PROCESSING,
// computes with retries, and either publishes the result or records the
// failure, always releasing the lease.
func (e *Engine) runClaimed(ctx context.Context, req domain.AnalysisRequest, row *domain.AnalysisResult, fp string, log zerolog.Logger) (*domain.AnalysisResult, bool, error) {
	published := false
	defer func() {
		if !published {
			if err := e.deps.Cache.Release(context.WithoutCancel(ctx), fp, e.ownerID); err != nil {
				log.Warn().Err(err).Msg("lease release failed")
			}
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.track(row.ID, cancel)
	defer e.untrack(row.ID)

	if err := e.deps.Results.MarkProcessing(ctx, row.ID); err != nil {
		// A concurrent cancel can beat us here; treat it as cancellation.
		if rowCancelled(ctx, e.deps.Results, row.ID) {
			return nil, false, domain.E(domain.KindCancelled, "analysis cancelled before processing")
		}
		return nil, false, domain.Wrap(domain.KindInternal, "mark processing", err)
	}

	started := e.deps.Clock.Now()
	results, err := e.computeWithRetry(runCtx, req)
	if err != nil {
		return nil, false, e.finishFailed(ctx, row.ID, fp, err, log)
	}

	now := e.deps.Clock.Now()
	e.deps.Metrics.AnalysisDuration.Observe(now.Sub(started).Seconds())

	row.Results = results
	row.CalculatedAt = now
	row.IsCached = true
	row.CacheExpiresAt = now.Add(e.cfg.ResultTTL)
	liftDominant(row, results)

	if err := e.deps.Results.Complete(ctx, row); err != nil {
		if rowCancelled(ctx, e.deps.Results, row.ID) {
			return nil, false, domain.E(domain.KindCancelled, "analysis cancelled during processing")
		}
		return nil, false, domain.Wrap(domain.KindInternal, "persist completed result", err)
	}
	row.Status = domain.StatusCompleted

	if err := e.deps.Cache.PublishReady(ctx, fp, row.ID, e.cfg.ResultTTL); err != nil {
		// The result row is durable; a failed publish only costs a future
		// cache miss.
		log.Warn().Err(err).Msg("cache publish failed")
	} else {
		published = true
	}

	e.deps.Metrics.AnalysesTotal.WithLabelValues(string(domain.StatusCompleted)).Inc()
	log.Info().Str("result_id", row.ID).Dur("took", now.Sub(started)).Msg("analysis completed")
	return row, false, nil
}

// finishFailed records the terminal state for a failed or cancelled
// computation and maps the error for the caller.
func (e *Engine) finishFailed(ctx context.Context, id, fp string, cause error, log zerolog.Logger) error {
	base := context.WithoutCancel(ctx)
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) ||
		domain.IsKind(cause, domain.KindCancelled) {
		if err := e.deps.Results.Cancel(base, id); err != nil && !domain.IsKind(err, domain.KindNotCancellable) {
			log.Warn().Err(err).Msg("cancel transition failed")
		}
		e.deps.Metrics.AnalysesTotal.WithLabelValues(string(domain.StatusCancelled)).Inc()
		return domain.Wrap(domain.KindCancelled, "analysis aborted", cause)
	}

	if err := e.deps.Results.Fail(base, id, cause.Error()); err != nil {
		log.Warn().Err(err).Msg("fail transition did not commit")
	}
	e.deps.Metrics.AnalysesTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
	log.Warn().Err(cause).Str("result_id", id).Msg("analysis failed")
	return cause
}

// computeWithRetry runs the fetch/aggregate/movement pipeline, retrying
// collaborator outages with exponential backoff and bailing immediately on
// fatal kinds.
func (e *Engine) computeWithRetry(ctx context.Context, req domain.AnalysisRequest) (*domain.MovementResults, error) {
	var out *domain.MovementResults
	op := func() error {
		res, err := e.compute(ctx, req)
		if err != nil {
			if domain.Retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = res
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryBase
	bo.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, e.cfg.RetryMax), ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) compute(ctx context.Context, req domain.AnalysisRequest) (*domain.MovementResults, error) {
	buckets, err := timeperiod.Expand(req.Period)
	if err != nil {
		return nil, err
	}

	cur, err := e.deps.Records.Fetch(ctx, recordQuery(req, buckets))
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	opts := aggregate.Options{
		PartitionModes: len(req.Filters.TransportModes) == 0 && !req.Filters.CollapseModes,
	}
	agg, err := aggregate.Run(ctx, buckets, &countingCursor{inner: cur, metrics: e.deps.Metrics}, opts)
	if err != nil {
		return nil, err
	}
	return e.calc.Compute(agg)
}

// claimWithWait attempts the in-flight claim, backing off while another
// owner holds the lease. A READY entry appearing during the wait wins; a
// timeout surfaces IN_PROGRESS_ELSEWHERE.
func (e *Engine) claimWithWait(ctx context.Context, fp string, log zerolog.Logger) (cache.Claim, error) {
	deadline := e.deps.Clock.Now().Add(e.cfg.WaitTimeout)
	pause := e.cfg.WaitPoll

	for {
		claim, err := e.deps.Cache.TryClaim(ctx, fp, e.ownerID, e.cfg.LeaseDuration)
		if err != nil {
			return cache.Claim{}, err
		}
		if claim.Outcome != cache.HeldByOther {
			return claim, nil
		}

		e.deps.Metrics.SingleFlightWaits.Inc()
		if !e.deps.Clock.Now().Add(pause).Before(deadline) {
			log.Debug().Str("holder", claim.Owner).Msg("gave up waiting on in-flight analysis")
			return cache.Claim{}, domain.Ef(domain.KindInProgressElsewhere,
				"identical analysis is running elsewhere (owner %s)", claim.Owner)
		}
		select {
		case <-ctx.Done():
			return cache.Claim{}, domain.Wrap(domain.KindCancelled, "wait aborted", ctx.Err())
		case <-time.After(pause):
		}
		if pause *= 2; pause > 5*time.Second {
			pause = 5 * time.Second
		}
	}
}

// lookupCached serves the READY space, falling back to the result store
// for hydration after a restart. Cache read errors degrade to a miss.
func (e *Engine) lookupCached(ctx context.Context, fp string, log zerolog.Logger) (*domain.AnalysisResult, bool) {
	now := e.deps.Clock.Now()

	if id, ok, err := e.deps.Cache.LookupReady(ctx, fp); err != nil {
		log.Warn().Err(err).Msg("cache lookup degraded to miss")
	} else if ok {
		res, err := e.deps.Results.Get(ctx, id)
		if err == nil && res.CacheExpiresAt.After(now) {
			return res, true
		}
	}

	res, err := e.deps.Results.GetReadyByFingerprint(ctx, fp, now)
	if err != nil {
		return nil, false
	}
	ttl := res.CacheExpiresAt.Sub(now)
	if err := e.deps.Cache.PublishReady(ctx, fp, res.ID, ttl); err != nil {
		log.Warn().Err(err).Msg("cache hydration failed")
	}
	return res, true
}

// GetResult returns the current row as-is.
func (e *Engine) GetResult(ctx context.Context, id string) (*domain.AnalysisResult, error) {
	return e.deps.Results.Get(ctx, id)
}

// Cancel marks a result CANCELLED and interrupts its in-process worker at
// the next checkpoint. Terminal rows yield NOT_CANCELLABLE.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	if err := e.deps.Results.Cancel(ctx, id); err != nil {
		return err
	}
	e.mu.Lock()
	cancel, ok := e.running[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// RunSaved materializes a request from a saved configuration, runs it, and
// stamps last_run_at.
func (e *Engine) RunSaved(ctx context.Context, savedID, userID string) (*domain.AnalysisResult, bool, error) {
	sa, err := e.deps.Saved.Get(ctx, savedID)
	if err != nil {
		return nil, false, err
	}
	res, fromCache, err := e.Analyze(ctx, sa.Request(userID))
	if upErr := e.deps.Saved.UpdateLastRun(context.WithoutCancel(ctx), savedID, e.deps.Clock.Now()); upErr != nil {
		e.deps.Logger.Warn().Err(upErr).Str("saved_analysis_id", savedID).Msg("last_run_at update failed")
	}
	return res, fromCache, err
}

func (e *Engine) resolvePeriod(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisRequest, error) {
	if !req.Period.StartDate.IsZero() {
		return req, nil
	}
	if req.TimePeriodID == "" {
		return req, domain.E(domain.KindInvalidPeriod, "request names neither a time period nor a window")
	}
	tp, err := e.deps.Periods.Get(ctx, req.TimePeriodID)
	if err != nil {
		return req, err
	}
	req.Period = *tp
	return req, nil
}

func (e *Engine) track(id string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.running[id] = cancel
	e.mu.Unlock()
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}

// discardRow cancels a placeholder row that lost the single-flight race or
// never got to run.
func (e *Engine) discardRow(ctx context.Context, id string) {
	if err := e.deps.Results.Cancel(context.WithoutCancel(ctx), id); err != nil {
		e.deps.Logger.Debug().Err(err).Str("result_id", id).Msg("placeholder discard")
	}
}

func rowCancelled(ctx context.Context, results store.ResultStore, id string) bool {
	res, err := results.Get(context.WithoutCancel(ctx), id)
	return err == nil && res.Status == domain.StatusCancelled
}

// liftDominant copies the dominant partition's movement values onto the
// result's top-level columns.
func liftDominant(row *domain.AnalysisResult, results *domain.MovementResults) {
	p := results.Dominant()
	if p == nil {
		return
	}
	row.StartValue = p.StartValue
	row.EndValue = p.EndValue
	row.AbsoluteChange = p.AbsoluteChange
	row.PercentageChange = p.PercentageChange
	row.ChangeSentinel = p.Sentinel
	row.TrendDirection = p.TrendDirection
	row.CurrencyCode = p.CurrencyCode
}

func recordQuery(req domain.AnalysisRequest, buckets []timeperiod.Bucket) store.RecordQuery {
	return store.RecordQuery{
		Start:          buckets[0].Start,
		End:            buckets[len(buckets)-1].End,
		OriginIDs:      req.Filters.OriginIDs,
		DestinationIDs: req.Filters.DestinationIDs,
		CarrierIDs:     req.Filters.CarrierIDs,
		TransportModes: req.Filters.TransportModes,
		CurrencyCode:   req.Filters.CurrencyCode,
	}
}

func outputFormatOrDefault(f domain.OutputFormat) domain.OutputFormat {
	if f == "" {
		return domain.DefaultOutputFormat
	}
	return f
}

// countingCursor feeds the records-fetched counter without the aggregation
// engine knowing about metrics.
type countingCursor struct {
	inner   store.RecordCursor
	metrics *metrics.Metrics
}

func (c *countingCursor) Next(ctx context.Context) ([]domain.FreightRecord, error) {
	batch, err := c.inner.Next(ctx)
	if len(batch) > 0 {
		c.metrics.RecordsFetched.Add(float64(len(batch)))
	}
	return batch, err
}

func (c *countingCursor) Close() error { return c.inner.Close() }

// String renders the effective configuration for startup logging.
func (c Config) String() string {
	return fmt.Sprintf("lease=%s wait=%s ttl=%s retries=%d threshold=%s",
		c.LeaseDuration, c.WaitTimeout, c.ResultTTL, c.RetryMax, c.TrendThreshold)
}
