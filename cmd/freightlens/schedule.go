package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func scheduleCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect analysis schedules",
	}
	cmd.AddCommand(scheduleListCmd(configPath))
	return cmd
}

func scheduleListCmd(configPath *string) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			scheds, err := a.registry.ListSchedules(ctx, user)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKIND\tSPEC\tACTIVE\tNEXT RUN")
			for _, s := range scheds {
				next := "-"
				if s.NextRunAt != nil {
					next = s.NextRunAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
					s.ID, s.Name, s.ScheduleKind, s.ScheduleSpec, s.IsActive, next)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "filter by owner (empty = all)")
	return cmd
}
