package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/grad-gate/internal/config"
	"github.com/kozaktomas/grad-gate/internal/database/postgres"
	"github.com/kozaktomas/grad-gate/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the attendance report",
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("since", "", "Report start time (RFC 3339, defaults to start of today UTC)")
	reportCmd.Flags().Bool("json", false, "Print the report as JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.Connect(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	since := time.Now().UTC().Truncate(24 * time.Hour)
	if raw := mustGetString(cmd, "since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("--since must be RFC 3339: %w", err)
		}
		since = parsed
	}

	generator := report.New(postgres.NewStudentRepository(pool), postgres.NewAttendanceRepository(pool, cfg.Verify.DuplicateWindow))
	summary, err := generator.Generate(cmd.Context(), since)
	if err != nil {
		return fmt.Errorf("generating report: %w", err)
	}

	if mustGetBool(cmd, "json") {
		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Attendance since %s\n", since.Format(time.RFC3339))
	fmt.Printf("  Checked in: %d / %d registered\n", summary.CheckedIn, summary.Registered)
	for method, count := range summary.ByMethod {
		fmt.Printf("  %-13s %d\n", method+":", count)
	}
	if summary.MeanConfidence > 0 {
		fmt.Printf("  Mean confidence: %.1f%%\n", summary.MeanConfidence)
	}
	if len(summary.Overrides) > 0 {
		fmt.Printf("  Manual overrides:\n")
		for _, o := range summary.Overrides {
			fmt.Printf("    %s  %s (%s)\n", o.Timestamp.Format("15:04:05"), o.StudentName, o.StudentID)
		}
	}
	return nil
}
