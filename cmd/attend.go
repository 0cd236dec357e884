package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/attendance"
	"github.com/kozaktomas/facegate/internal/database"
)

var attendCmd = &cobra.Command{
	Use:   "attend",
	Short: "Run one attendance attempt from the command line",
	Long: `Match a live embedding against the enrolled population and record the
outcome in the ledger, exactly as the HTTP endpoint would.

The embedding file is a JSON array of floats. The captured frame can be
passed with --image (only its SHA-256 is kept) or as a precomputed hash.

Examples:
  facegate attend --embedding probe.json --image frame.jpg
  facegate attend --embedding probe.json --image-hash 3f7a... --kind out
  facegate attend --embedding probe.json --owner jiri-novak --device gate-2`,
	Args: cobra.NoArgs,
	RunE: runAttend,
}

func init() {
	rootCmd.AddCommand(attendCmd)

	attendCmd.Flags().String("embedding", "", "Path to the embedding JSON file")
	attendCmd.Flags().String("image", "", "Path to the captured frame")
	attendCmd.Flags().String("image-hash", "", "Hex SHA-256 of the captured frame")
	attendCmd.Flags().String("kind", "check_in", "Event kind: check_in or check_out")
	attendCmd.Flags().String("device", "cli", "Device identifier recorded in the ledger")
	attendCmd.Flags().String("owner", "", "Claimed owner; restricts matching to them")
	attendCmd.Flags().Bool("json", false, "Output as JSON")
	_ = attendCmd.MarkFlagRequired("embedding")
	attendCmd.MarkFlagsMutuallyExclusive("image", "image-hash")
}

// AttendResult is the JSON form of one CLI attempt.
type AttendResult struct {
	Outcome    string  `json:"outcome"`
	OwnerID    string  `json:"owner_id,omitempty"`
	Confidence float64 `json:"confidence"`
	EventID    string  `json:"event_id,omitempty"`
	Late       bool    `json:"late,omitempty"`
	Early      bool    `json:"early_departure,omitempty"`
	Message    string  `json:"message,omitempty"`
	Alert      string  `json:"alert,omitempty"`
	Attempt    int     `json:"attempt"`
}

func runAttend(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	kind, err := database.ParseEventKind(mustGetString(cmd, "kind"))
	if err != nil {
		return err
	}
	var embedding []float32
	if err := readJSONFile(mustGetString(cmd, "embedding"), &embedding); err != nil {
		return err
	}
	req := attendance.AttendRequest{
		Embedding:      embedding,
		ImageHash:      mustGetString(cmd, "image-hash"),
		Kind:           kind,
		DeviceID:       mustGetString(cmd, "device"),
		ClaimedOwnerID: mustGetString(cmd, "owner"),
		At:             time.Now(),
	}
	if path := mustGetString(cmd, "image"); path != "" {
		if req.Image, err = os.ReadFile(path); err != nil {
			return err
		}
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.withService(ctx); err != nil {
		return err
	}

	out, err := a.service.AttendAsync(ctx, req).Wait(ctx)
	if err != nil {
		return err
	}

	audit := out.AuditRecord()
	res := AttendResult{
		Outcome:    attendance.OutcomeLabel(out),
		OwnerID:    audit.OwnerID,
		Confidence: audit.Confidence,
		Attempt:    audit.AttemptNumber,
	}
	var failure error
	switch o := out.(type) {
	case attendance.Admitted:
		res.EventID = o.Event.ID
		res.Late = o.Event.IsLate
		res.Early = o.Event.IsEarlyDeparture
		res.Alert = o.Alert
	case attendance.Rejected:
		res.Message = o.Message
	case attendance.Failed:
		res.Message = o.Err.Error()
		failure = o.Err
	}

	if mustGetBool(cmd, "json") {
		if err := outputJSON(res); err != nil {
			return err
		}
		return failure
	}
	if failure != nil {
		return failure
	}

	switch out.(type) {
	case attendance.Admitted:
		fmt.Printf("Admitted %s (%s, confidence %.3f, attempt %d)\n", res.OwnerID, kind, res.Confidence, res.Attempt)
		if res.Late {
			fmt.Println("  late arrival")
		}
		if res.Early {
			fmt.Println("  early departure")
		}
		if res.Alert != "" {
			fmt.Printf("  %s\n", res.Alert)
		}
	case attendance.Rejected:
		fmt.Printf("Rejected: %s (attempt %d)\n", res.Message, res.Attempt)
		return errors.New("attempt rejected")
	}
	return nil
}
