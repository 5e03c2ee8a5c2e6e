package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskpulse/internal/model"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the task and event schema",
		Long: `Apply schema migrations to DATABASE_URL and, when ANALYTICS_DSN is set,
to the dedicated analytics database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", a.Cfg.DatabaseDriver)
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	var userID uint
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run a detection pass for one user and print the alerts",
		Long: `Evaluate every open task of the user. Alerts are recorded and published
exactly as the API check does.

Examples:
  pulsectl check --user 42
  pulsectl check --user 42 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Services.Procrastination.CheckAlerts(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			return writeAlerts(cmd.OutOrStdout(), res.Alerts)
		},
	}
	cmd.Flags().UintVarP(&userID, "user", "u", 0, "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func eventsCmd() *cobra.Command {
	var (
		userID uint
		taskID uint
		kinds  []string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded analytics events",
		Long: `List events of one task, or of a whole user filtered by kind.

Examples:
  pulsectl events --user 42 --task 7
  pulsectl events --user 42 --kind alert_generated --kind feedback_received`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var events []model.AnalyticsEvent
			if taskID != 0 {
				events, err = a.Store.ListByTask(cmd.Context(), userID, taskID)
			} else {
				filter := make([]model.EventKind, 0, len(kinds))
				for _, k := range kinds {
					filter = append(filter, model.EventKind(k))
				}
				events, err = a.Store.ListByUser(cmd.Context(), userID, filter...)
			}
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return writeJSON(cmd.OutOrStdout(), events)
			}
			return writeEvents(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().UintVarP(&userID, "user", "u", 0, "user id")
	cmd.Flags().UintVarP(&taskID, "task", "t", 0, "task id")
	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", nil, "event kinds (user listing only)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream alerts published on the redis channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Publisher == nil {
				return fmt.Errorf("watch needs REDIS_ADDR")
			}

			out := cmd.OutOrStdout()
			jsonOut := asJSON(cmd)
			return a.Publisher.Subscribe(cmd.Context(), func(alert model.Alert) {
				if jsonOut {
					_ = writeJSON(out, alert)
					return
				}
				fmt.Fprintf(out, "%s  %-8s  user=%d task=%d  %s  %s\n",
					alert.GeneratedAt.Format(time.RFC3339), alert.Severity, alert.UserID, alert.TaskID, alert.RuleID, alert.Message)
			})
		},
	}
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeAlerts(w io.Writer, alerts []model.Alert) error {
	if len(alerts) == 0 {
		_, err := fmt.Fprintln(w, "no alerts")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tRULE\tTASK\tTITLE\tMESSAGE")
	for _, a := range alerts {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", a.Severity, a.RuleID, a.TaskID, a.TaskTitle, a.Message)
	}
	return tw.Flush()
}

func writeEvents(w io.Writer, events []model.AnalyticsEvent) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OCCURRED\tKIND\tTASK\tINTERVENTION\tPAYLOAD")
	for _, ev := range events {
		intervention := "-"
		if ev.InterventionID != nil {
			intervention = *ev.InterventionID
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", ev.OccurredAt.Format(time.RFC3339), ev.Kind, ev.TaskID, intervention, string(ev.Payload))
	}
	return tw.Flush()
}
