package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/attendance"
	"github.com/kozaktomas/facegate/internal/worker"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Manage enrolled owners",
}

var enrollAddCmd = &cobra.Command{
	Use:   "add <owner-id>",
	Short: "Enroll an owner from a samples file",
	Long: `Enroll an owner from a JSON file holding the captured samples:

  [{"vector": [0.01, ...], "quality": 87.5}, ...]

Re-enrolling an existing owner replaces their templates.

Examples:
  facegate enroll add "Jiří Novák" --samples jiri.json`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollAdd,
}

var enrollImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Bulk-enroll owners from a directory of JSON files",
	Long: `Bulk-enroll every *.json file in a directory. Each file holds one owner:

  {"ownerId": "jiri-novak", "samples": [{"vector": [...], "quality": 90}]}

Files are processed on the worker pool.

Examples:
  facegate enroll import ./enrollments
  facegate enroll import ./enrollments --json`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollImport,
}

var enrollRemoveCmd = &cobra.Command{
	Use:   "remove <owner-id>",
	Short: "Delete an owner's templates (ledger history is kept)",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnrollRemove,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.AddCommand(enrollAddCmd, enrollImportCmd, enrollRemoveCmd)

	enrollAddCmd.Flags().String("samples", "", "Path to the samples JSON file")
	_ = enrollAddCmd.MarkFlagRequired("samples")
	enrollImportCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

type sampleFile struct {
	Vector  []float32 `json:"vector"`
	Quality float64   `json:"quality"`
}

type ownerFile struct {
	OwnerID string       `json:"ownerId"`
	Samples []sampleFile `json:"samples"`
}

func toSamples(in []sampleFile) []attendance.Sample {
	out := make([]attendance.Sample, len(in))
	for i, s := range in {
		out[i] = attendance.Sample{Vector: s.Vector, Quality: s.Quality}
	}
	return out
}

func readJSONFile(path string, dst any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// describeEnrollment renders an outcome for terminal output.
func describeEnrollment(out attendance.EnrollmentOutcome) string {
	switch o := out.(type) {
	case attendance.Enrolled:
		verb := "enrolled"
		if o.Replaced {
			verb = "re-enrolled"
		}
		s := fmt.Sprintf("%s %s with %d samples", o.OwnerID, verb, o.Samples)
		if o.Alert != "" {
			s += "\n  " + o.Alert
		}
		return s
	case attendance.EnrollmentRejected:
		return fmt.Sprintf("%s rejected (%s): %s", o.OwnerID, o.Reason, o.Message)
	}
	return fmt.Sprintf("unexpected outcome %T", out)
}

func runEnrollAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var samples []sampleFile
	if err := readJSONFile(mustGetString(cmd, "samples"), &samples); err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.withService(ctx); err != nil {
		return err
	}

	out, err := a.service.EnrollAsync(ctx, args[0], toSamples(samples)).Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Println(describeEnrollment(out))
	if _, ok := out.(attendance.EnrollmentRejected); ok {
		return errors.New("enrollment rejected")
	}
	return nil
}

// ImportResult summarizes a bulk enrollment.
type ImportResult struct {
	Files      int               `json:"files"`
	Enrolled   int               `json:"enrolled"`
	Rejected   map[string]string `json:"rejected,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

func runEnrollImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput := mustGetBool(cmd, "json")
	startTime := time.Now()

	files, err := filepath.Glob(filepath.Join(args[0], "*.json"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	if len(files) == 0 {
		return fmt.Errorf("no *.json files in %s", args[0])
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.withService(ctx); err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		fmt.Printf("Found %d enrollment files\n\n", len(files))
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Enrolling"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("owners"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	result := ImportResult{Files: len(files), Rejected: map[string]string{}, Errors: map[string]string{}}
	futures := make(map[string]*worker.Future[attendance.EnrollmentOutcome], len(files))
	for _, path := range files {
		var f ownerFile
		if err := readJSONFile(path, &f); err != nil {
			result.Errors[filepath.Base(path)] = err.Error()
			continue
		}
		owner := f.OwnerID
		if owner == "" {
			owner = strings.TrimSuffix(filepath.Base(path), ".json")
		}
		futures[path] = a.service.EnrollAsync(ctx, owner, toSamples(f.Samples))
	}

	// Sequential collection keeps the map writes single-threaded.
	for _, path := range files {
		fut, ok := futures[path]
		if !ok {
			if bar != nil {
				bar.Add(1)
			}
			continue
		}
		out, err := fut.Wait(ctx)
		name := filepath.Base(path)
		switch o := out.(type) {
		case nil:
			if err == nil {
				err = context.Canceled
			}
			result.Errors[name] = err.Error()
		case attendance.Enrolled:
			result.Enrolled++
		case attendance.EnrollmentRejected:
			result.Rejected[name] = fmt.Sprintf("%s: %s", o.Reason, o.Message)
		}
		if err != nil && out != nil {
			result.Errors[name] = err.Error()
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	result.DurationMs = time.Since(startTime).Milliseconds()

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Println("\n\nImport complete!")
	fmt.Printf("  Files:     %d\n", result.Files)
	fmt.Printf("  Enrolled:  %d\n", result.Enrolled)
	for _, name := range sortedKeys(result.Rejected) {
		fmt.Printf("  Rejected:  %s (%s)\n", name, result.Rejected[name])
	}
	for _, name := range sortedKeys(result.Errors) {
		fmt.Printf("  Error:     %s (%s)\n", name, result.Errors[name])
	}
	fmt.Printf("  Duration:  %s\n", formatDuration(time.Since(startTime)))
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func runEnrollRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.withService(ctx); err != nil {
		return err
	}

	n, err := a.service.RemoveOwner(ctx, args[0])
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("owner %s has no templates", args[0])
	}
	fmt.Printf("Removed %d templates\n", n)
	return nil
}
