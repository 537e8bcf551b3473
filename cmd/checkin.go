package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/grad-gate/internal/checkin"
	"github.com/kozaktomas/grad-gate/internal/config"
	"github.com/kozaktomas/grad-gate/internal/consensus"
	"github.com/kozaktomas/grad-gate/internal/database/postgres"
	"github.com/kozaktomas/grad-gate/internal/embedding"
	"github.com/kozaktomas/grad-gate/internal/imaging"
	"github.com/kozaktomas/grad-gate/internal/ledger"
	"github.com/kozaktomas/grad-gate/internal/token"
)

var checkinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Run a single check-in attempt from the command line",
	Long: `Run one check-in attempt without the web server. Useful for testing a
station setup: supply the scanned token and a probe photo, and the gate
prints the verification outcome. Manual override escalation is not
available from the CLI; escalated attempts are reported as rejected when
the wait deadline passes.`,
	RunE: runCheckin,
}

func init() {
	rootCmd.AddCommand(checkinCmd)

	checkinCmd.Flags().String("token", "", "Scanned QR payload or bare student ID (required)")
	checkinCmd.Flags().String("probe", "", "Path to the probe photo")
	checkinCmd.Flags().Float64("threshold", 0, "Override the primary face distance threshold")
	checkinCmd.Flags().Int("wait", 10, "Seconds to wait before giving up on escalated attempts")
}

func runCheckin(cmd *cobra.Command, args []string) error {
	rawToken := mustGetString(cmd, "token")
	if rawToken == "" {
		return errors.New("--token is required")
	}

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.Connect(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	var probe []byte
	if path := mustGetString(cmd, "probe"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading probe photo: %w", err)
		}
		probe, err = imaging.Normalize(data, imaging.MaxDimension)
		if err != nil {
			return fmt.Errorf("probe photo: %w", err)
		}
	}

	threshold := cfg.Verify.FaceThreshold
	if t := mustGetFloat64(cmd, "threshold"); t > 0 {
		threshold = t
	}

	students := postgres.NewStudentRepository(pool)
	attendance := postgres.NewAttendanceRepository(pool, cfg.Verify.DuplicateWindow)
	extractor := embedding.NewClient(cfg.Embedding.URL)
	led := ledger.New(attendance)

	orchestrator := checkin.New(checkin.Options{
		Resolver:  token.NewResolver(students),
		Extractor: extractor,
		Consensus: consensus.New(
			extractor,
			students,
			cfg.Models.ModelNames(),
			cfg.ModelThreshold,
			cfg.Verify.ConsensusThreshold,
			cfg.Verify.CaptureTimeout,
		),
		Ledger:         led,
		Guard:          ledger.NewGuard(led, cfg.Verify.DuplicateWindow),
		Overrides:      checkin.NewOverrideManager(),
		FaceThreshold:  threshold,
		CaptureTimeout: cfg.Verify.CaptureTimeout,
	})

	wait := time.Duration(mustGetInt(cmd, "wait")) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	outcome, err := orchestrator.Process(ctx, checkin.Request{RawToken: rawToken, ProbeImage: probe})
	if err != nil {
		return fmt.Errorf("check-in failed: %w", err)
	}

	out, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
