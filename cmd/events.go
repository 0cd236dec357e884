package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/database"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect and sync admitted attendance events",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events in a time range",
	Long: `List admitted events between --from and --to (RFC 3339). Without flags
the last 24 hours are shown.

Examples:
  facegate events list
  facegate events list --since 168h
  facegate events list --from 2026-10-01T00:00:00Z --to 2026-10-02T00:00:00Z --json`,
	Args: cobra.NoArgs,
	RunE: runEventsList,
}

var eventsLastCmd = &cobra.Command{
	Use:   "last <owner-id>",
	Short: "Show the latest event of an owner",
	Args:  cobra.ExactArgs(1),
	RunE:  runEventsLast,
}

var eventsSyncCmd = &cobra.Command{
	Use:   "mark-synced <event-id>...",
	Short: "Flag events as exported to the upstream system",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEventsSync,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd, eventsLastCmd, eventsSyncCmd)

	eventsListCmd.Flags().String("from", "", "Range start (RFC 3339)")
	eventsListCmd.Flags().String("to", "", "Range end (RFC 3339)")
	eventsListCmd.Flags().Duration("since", 24*time.Hour, "Range length when --from is not set")
	eventsListCmd.Flags().Bool("json", false, "Output as JSON")
	eventsLastCmd.Flags().Bool("json", false, "Output as JSON")
}

func parseRange(from, to string, since time.Duration, now time.Time) (time.Time, time.Time, error) {
	end := now
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		end = t
	}
	start := end.Add(-since)
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		start = t
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("range start %s is after end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}

func printEvent(e database.AttendanceEvent) {
	flags := ""
	if e.IsLate {
		flags += " late"
	}
	if e.IsEarlyDeparture {
		flags += " early"
	}
	if e.PairID != "" {
		flags += " paired"
	}
	if e.Synced {
		flags += " synced"
	}
	fmt.Printf("%s  %-9s  %-24s  %.3f  %-10s %s%s\n",
		e.Timestamp.Local().Format(time.DateTime), e.Kind, e.OwnerID, e.Confidence, e.DeviceID, e.ID, flags)
}

func runEventsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	start, end, err := parseRange(mustGetString(cmd, "from"), mustGetString(cmd, "to"), mustGetDuration(cmd, "since"), time.Now())
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	events, err := a.ledger.EventsBetween(ctx, start, end)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(events)
	}

	fmt.Printf("Events %s .. %s (%s)\n\n", start.Local().Format(time.DateTime), end.Local().Format(time.DateTime), formatDuration(end.Sub(start)))
	for _, e := range events {
		printEvent(e)
	}
	fmt.Printf("\n%d events\n", len(events))
	return nil
}

func runEventsLast(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	e, err := a.ledger.LastEventForOwner(ctx, args[0])
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("no events for owner %s", args[0])
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(e)
	}
	printEvent(*e)
	return nil
}

func runEventsSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.ledger.MarkSynced(ctx, args)
	if err != nil {
		return err
	}
	fmt.Printf("Marked %d of %d events as synced\n", n, len(args))
	return nil
}
