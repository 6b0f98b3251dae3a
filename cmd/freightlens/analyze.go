package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/laneiq/freightlens/internal/domain"
)

func analyzeCmd(configPath *string) *cobra.Command {
	var (
		periodID     string
		startDate    string
		endDate      string
		granularity  string
		intervalDays int

		origins      []string
		destinations []string
		carriers     []string
		modes        []string
		currency     string
		collapse     bool
		user         string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run a one-shot price movement analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			req := domain.AnalysisRequest{
				TimePeriodID: periodID,
				UserID:       user,
				Filters: domain.Filters{
					OriginIDs:      origins,
					DestinationIDs: destinations,
					CarrierIDs:     carriers,
					TransportModes: parseModes(modes),
					CurrencyCode:   strings.ToUpper(currency),
					CollapseModes:  collapse,
				},
			}

			// An inline window takes the place of a stored period.
			if periodID == "" {
				period, err := parsePeriod(startDate, endDate, granularity, intervalDays)
				if err != nil {
					return err
				}
				req.Period = *period
			}

			res, cached, err := a.engine.Analyze(ctx, req)
			if err != nil {
				return err
			}
			if cached {
				fmt.Fprintln(os.Stderr, "(served from cache)")
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVar(&periodID, "period-id", "", "stored time period id")
	cmd.Flags().StringVar(&startDate, "start", "", "window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "window end (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&granularity, "granularity", "DAILY", "DAILY|WEEKLY|MONTHLY|QUARTERLY|CUSTOM")
	cmd.Flags().IntVar(&intervalDays, "interval-days", 0, "bucket width for CUSTOM granularity")
	cmd.Flags().StringSliceVar(&origins, "origin", nil, "origin location ids")
	cmd.Flags().StringSliceVar(&destinations, "destination", nil, "destination location ids")
	cmd.Flags().StringSliceVar(&carriers, "carrier", nil, "carrier ids")
	cmd.Flags().StringSliceVar(&modes, "mode", nil, "transport modes (OCEAN|AIR|ROAD|RAIL)")
	cmd.Flags().StringVar(&currency, "currency", "", "ISO-4217 currency filter")
	cmd.Flags().BoolVar(&collapse, "collapse-modes", false, "aggregate across transport modes")
	cmd.Flags().StringVar(&user, "user", "cli", "requesting user id")
	return cmd
}

func parsePeriod(start, end, granularity string, intervalDays int) (*domain.TimePeriod, error) {
	if start == "" || end == "" {
		return nil, fmt.Errorf("either --period-id or both --start and --end are required")
	}
	startDate, err := time.ParseInLocation("2006-01-02", start, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse --start: %w", err)
	}
	endDate, err := time.ParseInLocation("2006-01-02", end, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse --end: %w", err)
	}
	return &domain.TimePeriod{
		Name:               "cli",
		StartDate:          startDate,
		EndDate:            endDate,
		Granularity:        domain.Granularity(strings.ToUpper(granularity)),
		CustomIntervalDays: intervalDays,
	}, nil
}

func parseModes(modes []string) []domain.TransportMode {
	out := make([]domain.TransportMode, 0, len(modes))
	for _, m := range modes {
		out = append(out, domain.TransportMode(strings.ToUpper(m)))
	}
	return out
}
