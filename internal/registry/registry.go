// Package registry manages saved analyses, time periods, and the schedules
// that reference them.
package registry

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/laneiq/freightlens/internal/clock"
	"github.com/laneiq/freightlens/internal/domain"
	"github.com/laneiq/freightlens/internal/schedule"
	"github.com/laneiq/freightlens/internal/store"
)

// Service is the write path for analysis configuration. The orchestrator
// and executor only read what this service maintains.
type Service struct {
	periods   store.TimePeriodStore
	saved     store.SavedAnalysisStore
	schedules store.ScheduleStore
	clk       clock.Clock
	log       zerolog.Logger
}

// New builds the registry service.
func New(periods store.TimePeriodStore, saved store.SavedAnalysisStore, schedules store.ScheduleStore, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		periods:   periods,
		saved:     saved,
		schedules: schedules,
		clk:       clk,
		log:       log.With().Str("component", "registry").Logger(),
	}
}

// CreatePeriod validates and persists a time period definition.
func (s *Service) CreatePeriod(ctx context.Context, tp *domain.TimePeriod) error {
	if err := tp.Validate(); err != nil {
		return err
	}
	if tp.ID == "" {
		tp.ID = uuid.NewString()
	}
	if err := s.periods.Create(ctx, tp); err != nil {
		return err
	}
	s.log.Info().Str("time_period_id", tp.ID).Str("name", tp.Name).Msg("time period created")
	return nil
}

// GetPeriod returns a period by id.
func (s *Service) GetPeriod(ctx context.Context, id string) (*domain.TimePeriod, error) {
	return s.periods.Get(ctx, id)
}

// ListPeriods returns the caller's periods.
func (s *Service) ListPeriods(ctx context.Context, createdBy string) ([]domain.TimePeriod, error) {
	return s.periods.List(ctx, createdBy)
}

// CreateSaved validates and persists a saved analysis. Names are unique per
// owner; the store reports NAME_CONFLICT on collisions.
func (s *Service) CreateSaved(ctx context.Context, sa *domain.SavedAnalysis) error {
	if err := s.validateSaved(ctx, sa); err != nil {
		return err
	}
	if sa.ID == "" {
		sa.ID = uuid.NewString()
	}
	if err := s.saved.Create(ctx, sa); err != nil {
		return err
	}
	s.log.Info().Str("saved_analysis_id", sa.ID).Str("name", sa.Name).Msg("saved analysis created")
	return nil
}

// UpdateSaved revalidates and persists changes to a saved analysis.
func (s *Service) UpdateSaved(ctx context.Context, sa *domain.SavedAnalysis) error {
	if err := s.validateSaved(ctx, sa); err != nil {
		return err
	}
	return s.saved.Update(ctx, sa)
}

// GetSaved returns a saved analysis by id.
func (s *Service) GetSaved(ctx context.Context, id string) (*domain.SavedAnalysis, error) {
	return s.saved.Get(ctx, id)
}

// GetSavedByName resolves a saved analysis by its per-owner unique name.
func (s *Service) GetSavedByName(ctx context.Context, createdBy, name string) (*domain.SavedAnalysis, error) {
	return s.saved.GetByName(ctx, createdBy, name)
}

// ListSaved returns the caller's saved analyses.
func (s *Service) ListSaved(ctx context.Context, createdBy string) ([]domain.SavedAnalysis, error) {
	return s.saved.List(ctx, createdBy)
}

// DeleteSaved removes a saved analysis. Deletion is refused with IN_USE
// while any schedule still references it.
func (s *Service) DeleteSaved(ctx context.Context, id string) error {
	n, err := s.schedules.CountBySavedAnalysis(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return domain.Ef(domain.KindInUse, "saved analysis %s is referenced by %d schedule(s)", id, n)
	}
	if err := s.saved.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("saved_analysis_id", id).Msg("saved analysis deleted")
	return nil
}

func (s *Service) validateSaved(ctx context.Context, sa *domain.SavedAnalysis) error {
	if strings.TrimSpace(sa.Name) == "" {
		return domain.E(domain.KindInvalidFilter, "saved analysis name is required")
	}
	if err := sa.Filters.Validate(); err != nil {
		return err
	}
	switch sa.OutputFormat {
	case "", domain.FormatJSON, domain.FormatCSV, domain.FormatText:
	default:
		return domain.Ef(domain.KindInvalidFilter, "unknown output_format %q", sa.OutputFormat)
	}
	if sa.TimePeriodID != "" {
		if _, err := s.periods.Get(ctx, sa.TimePeriodID); err != nil {
			return err
		}
	}
	return nil
}

// CreateSchedule validates the recurrence, arms next_run_at, and persists
// the schedule. The referenced saved analysis must exist.
func (s *Service) CreateSchedule(ctx context.Context, sched *domain.AnalysisSchedule) error {
	if strings.TrimSpace(sched.Name) == "" {
		return domain.E(domain.KindInvalidScheduleSpec, "schedule name is required")
	}
	if _, err := s.saved.Get(ctx, sched.SavedAnalysisID); err != nil {
		return err
	}
	if err := schedule.ValidateSpec(sched.ScheduleKind, sched.ScheduleSpec); err != nil {
		return err
	}
	next, err := schedule.ComputeNext(sched.ScheduleKind, sched.ScheduleSpec, s.clk.Now())
	if err != nil {
		return err
	}
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	sched.NextRunAt = &next
	sched.IsActive = true
	if err := s.schedules.Create(ctx, sched); err != nil {
		return err
	}
	s.log.Info().
		Str("schedule_id", sched.ID).
		Str("saved_analysis_id", sched.SavedAnalysisID).
		Time("next_run_at", next).
		Msg("schedule created")
	return nil
}

// UpdateSchedule revalidates the recurrence and re-arms next_run_at from now.
func (s *Service) UpdateSchedule(ctx context.Context, sched *domain.AnalysisSchedule) error {
	if err := schedule.ValidateSpec(sched.ScheduleKind, sched.ScheduleSpec); err != nil {
		return err
	}
	next, err := schedule.ComputeNext(sched.ScheduleKind, sched.ScheduleSpec, s.clk.Now())
	if err != nil {
		return err
	}
	sched.NextRunAt = &next
	return s.schedules.Update(ctx, sched)
}

// GetSchedule returns a schedule by id.
func (s *Service) GetSchedule(ctx context.Context, id string) (*domain.AnalysisSchedule, error) {
	return s.schedules.Get(ctx, id)
}

// ListSchedules returns the caller's schedules.
func (s *Service) ListSchedules(ctx context.Context, createdBy string) ([]domain.AnalysisSchedule, error) {
	return s.schedules.List(ctx, createdBy)
}

// DeleteSchedule removes a schedule.
func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	return s.schedules.Delete(ctx, id)
}
