package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransportMode identifies the carriage mode of a freight record.
type TransportMode string

const (
	ModeOcean TransportMode = "OCEAN"
	ModeAir   TransportMode = "AIR"
	ModeRoad  TransportMode = "ROAD"
	ModeRail  TransportMode = "RAIL"
)

// KnownMode reports whether m is one of the supported transport modes.
func KnownMode(m TransportMode) bool {
	switch m {
	case ModeOcean, ModeAir, ModeRoad, ModeRail:
		return true
	}
	return false
}

// Granularity is the bucket width of a time-period expansion.
type Granularity string

const (
	GranularityDaily     Granularity = "DAILY"
	GranularityWeekly    Granularity = "WEEKLY"
	GranularityMonthly   Granularity = "MONTHLY"
	GranularityQuarterly Granularity = "QUARTERLY"
	GranularityCustom    Granularity = "CUSTOM"
)

// OutputFormat selects the rendering the external layer applies to a result.
type OutputFormat string

const (
	FormatJSON OutputFormat = "JSON"
	FormatCSV  OutputFormat = "CSV"
	FormatText OutputFormat = "TEXT"
)

// DefaultOutputFormat is elided from fingerprints.
const DefaultOutputFormat = FormatJSON

// FreightRecord is a single immutable freight price observation. The core
// only ever reads these; ingestion (out of scope here) creates them.
type FreightRecord struct {
	ID                string                     `json:"id" db:"id"`
	RecordDate        time.Time                  `json:"record_date" db:"record_date"`
	OriginID          string                     `json:"origin_id" db:"origin_id"`
	DestinationID     string                     `json:"destination_id" db:"destination_id"`
	CarrierID         string                     `json:"carrier_id" db:"carrier_id"`
	TransportMode     TransportMode              `json:"transport_mode" db:"transport_mode"`
	FreightCharge     decimal.Decimal            `json:"freight_charge" db:"freight_charge"`
	CurrencyCode      string                     `json:"currency_code" db:"currency_code"`
	ServiceLevel      string                     `json:"service_level,omitempty" db:"service_level"`
	AdditionalCharges map[string]decimal.Decimal `json:"additional_charges,omitempty" db:"additional_charges"`
	SourceSystem      string                     `json:"source_system,omitempty" db:"source_system"`
	DataQualityFlag   string                     `json:"data_quality_flag,omitempty" db:"data_quality_flag"`
	DeletedAt         *time.Time                 `json:"deleted_at,omitempty" db:"deleted_at"`
}

// TimePeriod is a user-defined analysis window.
type TimePeriod struct {
	ID                 string      `json:"id" db:"id"`
	Name               string      `json:"name" db:"name"`
	StartDate          time.Time   `json:"start_date" db:"start_date"`
	EndDate            time.Time   `json:"end_date" db:"end_date"`
	Granularity        Granularity `json:"granularity" db:"granularity"`
	CustomIntervalDays int         `json:"custom_interval_days,omitempty" db:"custom_interval_days"`
	CreatedBy          string      `json:"created_by" db:"created_by"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at"`
}

// Validate checks the window invariants shared by every granularity.
func (tp TimePeriod) Validate() error {
	if tp.StartDate.IsZero() || tp.EndDate.IsZero() {
		return E(KindInvalidPeriod, "start_date and end_date are required")
	}
	if !tp.EndDate.After(tp.StartDate) {
		return E(KindInvalidPeriod, fmt.Sprintf("end_date %s must be after start_date %s",
			tp.EndDate.Format(time.RFC3339), tp.StartDate.Format(time.RFC3339)))
	}
	switch tp.Granularity {
	case GranularityDaily, GranularityWeekly, GranularityMonthly, GranularityQuarterly:
		if tp.CustomIntervalDays != 0 {
			return E(KindInvalidPeriod, "custom_interval_days is only valid with CUSTOM granularity")
		}
	case GranularityCustom:
		if tp.CustomIntervalDays <= 0 {
			return E(KindInvalidPeriod, "CUSTOM granularity requires a positive custom_interval_days")
		}
	default:
		return E(KindInvalidPeriod, fmt.Sprintf("unknown granularity %q", tp.Granularity))
	}
	return nil
}

// Filters narrows the record stream an analysis runs over. Set filters are
// inclusion sets; an empty slice means no constraint on that column.
type Filters struct {
	OriginIDs      []string        `json:"origin_ids,omitempty"`
	DestinationIDs []string        `json:"destination_ids,omitempty"`
	CarrierIDs     []string        `json:"carrier_ids,omitempty"`
	TransportModes []TransportMode `json:"transport_modes,omitempty"`
	CurrencyCode   string          `json:"currency_code,omitempty"`
	CollapseModes  bool            `json:"collapse_modes,omitempty"`
}

// Validate rejects malformed filter values before any I/O happens.
func (f Filters) Validate() error {
	if f.CurrencyCode != "" && !validCurrency(f.CurrencyCode) {
		return E(KindInvalidFilter, fmt.Sprintf("currency_code %q is not a 3-letter ISO-4217 code", f.CurrencyCode))
	}
	for _, m := range f.TransportModes {
		if !KnownMode(m) {
			return E(KindInvalidFilter, fmt.Sprintf("unknown transport_mode %q", m))
		}
	}
	return nil
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// AnalysisRequest is the logical input to an analysis run. Period is a
// snapshot of the referenced time period; the orchestrator resolves it from
// TimePeriodID when the caller leaves it empty.
type AnalysisRequest struct {
	TimePeriodID         string       `json:"time_period_id"`
	Period               TimePeriod   `json:"period"`
	Filters              Filters      `json:"filters"`
	OutputFormat         OutputFormat `json:"output_format,omitempty"`
	IncludeVisualization bool         `json:"include_visualization,omitempty"`
	UserID               string       `json:"user_id"`
}

// TrendDirection classifies percentage change against the trend threshold.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "INCREASING"
	TrendDecreasing TrendDirection = "DECREASING"
	TrendStable     TrendDirection = "STABLE"
)

// ChangeSentinel marks percentage changes that are undefined as a ratio:
// a price appearing from a zero start, or (symmetrically) vanishing to one.
type ChangeSentinel string

const (
	SentinelNone        ChangeSentinel = ""
	SentinelNewPrice    ChangeSentinel = "NEW_PRICE"
	SentinelNewDiscount ChangeSentinel = "NEW_DISCOUNT"
)

// AnalysisResult is the persisted outcome of an analysis run.
type AnalysisResult struct {
	ID               string           `json:"id" db:"id"`
	TimePeriodID     string           `json:"time_period_id" db:"time_period_id"`
	Fingerprint      string           `json:"fingerprint" db:"fingerprint"`
	Parameters       string           `json:"parameters" db:"parameters"` // canonical JSON
	Status           Status           `json:"status" db:"status"`
	StartValue       *decimal.Decimal `json:"start_value,omitempty" db:"start_value"`
	EndValue         *decimal.Decimal `json:"end_value,omitempty" db:"end_value"`
	AbsoluteChange   *decimal.Decimal `json:"absolute_change,omitempty" db:"absolute_change"`
	PercentageChange *decimal.Decimal `json:"percentage_change,omitempty" db:"percentage_change"`
	ChangeSentinel   ChangeSentinel   `json:"change_sentinel,omitempty" db:"change_sentinel"`
	TrendDirection   TrendDirection   `json:"trend_direction,omitempty" db:"trend_direction"`
	CurrencyCode     string           `json:"currency_code,omitempty" db:"currency_code"`
	OutputFormat     OutputFormat     `json:"output_format" db:"output_format"`
	Results          *MovementResults `json:"results,omitempty" db:"results"`
	ErrorMessage     string           `json:"error_message,omitempty" db:"error_message"`
	CalculatedAt     time.Time        `json:"calculated_at,omitempty" db:"calculated_at"`
	IsCached         bool             `json:"is_cached" db:"is_cached"`
	CacheExpiresAt   time.Time        `json:"cache_expires_at,omitempty" db:"cache_expires_at"`
	CreatedBy        string           `json:"created_by" db:"created_by"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// SavedAnalysis is a named, reusable analysis configuration.
type SavedAnalysis struct {
	ID                   string       `json:"id" db:"id"`
	Name                 string       `json:"name" db:"name"`
	Description          string       `json:"description,omitempty" db:"description"`
	TimePeriodID         string       `json:"time_period_id,omitempty" db:"time_period_id"`
	Filters              Filters      `json:"filters" db:"filters"`
	OutputFormat         OutputFormat `json:"output_format" db:"output_format"`
	IncludeVisualization bool         `json:"include_visualization" db:"include_visualization"`
	LastRunAt            *time.Time   `json:"last_run_at,omitempty" db:"last_run_at"`
	CreatedBy            string       `json:"created_by" db:"created_by"`
	CreatedAt            time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at" db:"updated_at"`
}

// Request materializes a fresh AnalysisRequest from the saved configuration.
func (s SavedAnalysis) Request(userID string) AnalysisRequest {
	if userID == "" {
		userID = s.CreatedBy
	}
	return AnalysisRequest{
		TimePeriodID:         s.TimePeriodID,
		Filters:              s.Filters,
		OutputFormat:         s.OutputFormat,
		IncludeVisualization: s.IncludeVisualization,
		UserID:               userID,
	}
}

// ScheduleKind selects how next_run_at advances for a schedule.
type ScheduleKind string

const (
	ScheduleDaily   ScheduleKind = "DAILY"
	ScheduleWeekly  ScheduleKind = "WEEKLY"
	ScheduleMonthly ScheduleKind = "MONTHLY"
	ScheduleCron    ScheduleKind = "CRON"
)

// AnalysisSchedule is a recurrence wrapper around a SavedAnalysis.
type AnalysisSchedule struct {
	ID              string       `json:"id" db:"id"`
	Name            string       `json:"name" db:"name"`
	SavedAnalysisID string       `json:"saved_analysis_id" db:"saved_analysis_id"`
	ScheduleKind    ScheduleKind `json:"schedule_kind" db:"schedule_kind"`
	ScheduleSpec    string       `json:"schedule_spec,omitempty" db:"schedule_spec"`
	IsActive        bool         `json:"is_active" db:"is_active"`
	LastRunAt       *time.Time   `json:"last_run_at,omitempty" db:"last_run_at"`
	NextRunAt       *time.Time   `json:"next_run_at,omitempty" db:"next_run_at"`
	CreatedBy       string       `json:"created_by" db:"created_by"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}
