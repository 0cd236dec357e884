package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the forensic audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent match attempts",
	Args:  cobra.NoArgs,
	RunE:  runAuditList,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)

	auditListCmd.Flags().Int("limit", 20, "Number of records to show")
	auditListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runAuditList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	limit := mustGetInt(cmd, "limit")
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	records, err := a.ledger.RecentAudits(ctx, limit)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(records)
	}

	if len(records) == 0 {
		fmt.Println("No audit records")
		return nil
	}
	for _, r := range records {
		status := "ok  "
		if !r.Success {
			status = "FAIL"
		}
		owner := r.OwnerID
		if owner == "" {
			owner = "-"
		}
		fmt.Printf("%s  %s  %-9s  %-24s  %.3f  #%d  %s\n",
			r.Timestamp.Local().Format(time.DateTime), status, r.Kind, owner, r.Confidence, r.AttemptNumber, r.DeviceID)
		if r.ErrorMessage != "" {
			fmt.Printf("      %s\n", r.ErrorMessage)
		}
	}
	return nil
}
