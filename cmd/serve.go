package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/grad-gate/internal/announce"
	"github.com/kozaktomas/grad-gate/internal/checkin"
	"github.com/kozaktomas/grad-gate/internal/config"
	"github.com/kozaktomas/grad-gate/internal/consensus"
	"github.com/kozaktomas/grad-gate/internal/database"
	"github.com/kozaktomas/grad-gate/internal/database/postgres"
	"github.com/kozaktomas/grad-gate/internal/embedding"
	"github.com/kozaktomas/grad-gate/internal/ledger"
	"github.com/kozaktomas/grad-gate/internal/report"
	"github.com/kozaktomas/grad-gate/internal/token"
	"github.com/kozaktomas/grad-gate/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the check-in gate server",
	Long: `Start the Grad Gate server.
The server accepts check-in attempts from stations, exposes pending manual
overrides and attendance reports to staff, and handles student registration.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// initFaceIndex builds or loads the student face index for lookup-by-face.
func initFaceIndex(ctx context.Context, students *postgres.StudentRepository, indexPath string) *database.FaceIndex {
	index := database.NewFaceIndex()

	if indexPath != "" {
		if err := index.Load(indexPath); err != nil {
			fmt.Printf("Warning: %v, rebuilding\n", err)
		}
		if index.Loaded() {
			all, lerr := students.List(ctx)
			if lerr == nil {
				index.RebuildNames(all)
			}
			fmt.Printf("Face index loaded from %s (%d students)\n", indexPath, index.Count())
			return index
		}
	}

	all, err := students.List(ctx)
	if err != nil {
		fmt.Printf("Warning: failed to list students for the face index: %v\n", err)
		fmt.Printf("Lookup-by-face will be unavailable\n")
		return index
	}
	if err := index.Build(all); err != nil {
		fmt.Printf("Warning: failed to build face index: %v\n", err)
		return index
	}
	fmt.Printf("Face index built with %d students\n", index.Count())
	return index
}

// buildAnnouncer wires the configured TTS provider, or returns nil when
// announcements are disabled.
func buildAnnouncer(ctx context.Context, cfg *config.Config) *announce.Announcer {
	var provider announce.Provider
	switch cfg.Announce.Provider {
	case "gemini":
		p, err := announce.NewGeminiProvider(ctx, cfg.Announce.GeminiKey)
		if err != nil {
			fmt.Printf("Warning: failed to initialize Gemini TTS: %v\n", err)
			return nil
		}
		provider = p
	case "openai":
		provider = announce.NewOpenAIProvider(cfg.Announce.OpenAIToken)
	case "":
		return nil
	default:
		fmt.Printf("Warning: unknown announce provider %q, announcements disabled\n", cfg.Announce.Provider)
		return nil
	}

	sink, err := announce.NewFileSink(cfg.Announce.SpoolDir)
	if err != nil {
		fmt.Printf("Warning: %v, announcements disabled\n", err)
		return nil
	}
	fmt.Printf("Announcements enabled (%s)\n", cfg.Announce.Provider)
	return announce.New(provider, sink, cfg.Announce.Template)
}

func resolveServeHostPort(cmd *cobra.Command) (string, int) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return host, port
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, err := postgres.Connect(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	students := postgres.NewStudentRepository(pool)
	attendance := postgres.NewAttendanceRepository(pool, cfg.Verify.DuplicateWindow)
	ctx := context.Background()

	index := initFaceIndex(ctx, students, cfg.Database.HNSWIndexPath)

	extractor := embedding.NewClient(cfg.Embedding.URL)
	led := ledger.New(attendance)
	guard := ledger.NewGuard(led, cfg.Verify.DuplicateWindow)
	overrides := checkin.NewOverrideManager()

	verifier := consensus.New(
		extractor,
		students,
		cfg.Models.ModelNames(),
		cfg.ModelThreshold,
		cfg.Verify.ConsensusThreshold,
		cfg.Verify.CaptureTimeout,
	)

	orchestrator := checkin.New(checkin.Options{
		Resolver:       token.NewResolver(students),
		Extractor:      extractor,
		Consensus:      verifier,
		Ledger:         led,
		Guard:          guard,
		Overrides:      overrides,
		Announcer:      buildAnnouncer(ctx, cfg),
		Index:          index,
		FaceThreshold:  cfg.Verify.FaceThreshold,
		CaptureTimeout: cfg.Verify.CaptureTimeout,
	})

	host, port := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, web.Deps{
		Orchestrator: orchestrator,
		Overrides:    overrides,
		Students:     students,
		Attendance:   attendance,
		Extractor:    extractor,
		Index:        index,
		Reports:      report.New(students, attendance),
		PrimaryModel: "facenet",
	}, host, port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		if cfg.Database.HNSWIndexPath != "" {
			if err := index.Save(); err != nil {
				fmt.Printf("Warning: failed to save face index: %v\n", err)
			} else {
				fmt.Println("Face index saved to disk")
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Grad Gate on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
