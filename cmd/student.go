package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/grad-gate/internal/config"
	"github.com/kozaktomas/grad-gate/internal/database"
	"github.com/kozaktomas/grad-gate/internal/database/postgres"
	"github.com/kozaktomas/grad-gate/internal/embedding"
	"github.com/kozaktomas/grad-gate/internal/imaging"
	"github.com/kozaktomas/grad-gate/internal/register"
	"github.com/kozaktomas/grad-gate/internal/token"
)

var studentCmd = &cobra.Command{
	Use:   "student",
	Short: "Manage registered students",
}

var studentRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a student with a reference portrait and identity card",
	Long: `Register a student for ceremony check-in. The portrait is embedded with
the primary face model; the identity card, when given, is embedded once per
consensus model so the fallback verification has votes to cast.`,
	RunE: runStudentRegister,
}

var studentImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk register students from a directory of portraits",
	Long: `Register a whole roster at once. The directory holds one portrait per
student, named "<id>__<name>.<ext>" with underscores for spaces in the
name, e.g. "s-1042__Ada_Lovelace.jpg". Portraits are embedded concurrently.`,
	RunE: runStudentImport,
}

var studentTokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Write QR token payloads for all students",
	Long: `Write one QR payload file per registered student into the output
directory. A badge printing pipeline turns the payloads into QR codes.`,
	RunE: runStudentTokens,
}

func init() {
	rootCmd.AddCommand(studentCmd)
	studentCmd.AddCommand(studentRegisterCmd)
	studentCmd.AddCommand(studentImportCmd)
	studentCmd.AddCommand(studentTokensCmd)

	studentRegisterCmd.Flags().String("id", "", "Student ID (required)")
	studentRegisterCmd.Flags().String("name", "", "Student name (required)")
	studentRegisterCmd.Flags().String("email", "", "Student email")
	studentRegisterCmd.Flags().String("portrait", "", "Path to the reference portrait")
	studentRegisterCmd.Flags().String("card", "", "Path to the identity card photo")
	studentRegisterCmd.Flags().StringSlice("models", nil, "Consensus models to embed the card with (defaults to all configured)")
	studentRegisterCmd.Flags().Bool("eligible", true, "Whether the student is eligible to walk")

	studentImportCmd.Flags().String("dir", "", "Directory of portrait files (required)")
	studentImportCmd.Flags().Int("concurrency", 5, "Number of parallel embedding workers")

	studentTokensCmd.Flags().String("out", "tokens", "Output directory for token payload files")
}

func runStudentImport(cmd *cobra.Command, args []string) error {
	dir := mustGetString(cmd, "dir")
	if dir == "" {
		return errors.New("--dir is required")
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

	students := postgres.NewStudentRepository(pool)
	importer := register.New(students, embedding.NewClient(cfg.Embedding.URL), nil)

	result, err := importer.ImportDir(cmd.Context(), dir, register.Options{
		Concurrency: mustGetInt(cmd, "concurrency"),
		Progress:    true,
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nImported %d students", result.Imported)
	if result.Failed > 0 {
		fmt.Printf(", %d failed:\n", result.Failed)
		for _, e := range result.Errors {
			fmt.Printf("  %s\n", e)
		}
	} else {
		fmt.Println()
	}
	return nil
}

func loadImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	normalized, err := imaging.Normalize(data, imaging.MaxDimension)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return normalized, nil
}

func runStudentRegister(cmd *cobra.Command, args []string) error {
	id := mustGetString(cmd, "id")
	name := mustGetString(cmd, "name")
	if id == "" || name == "" {
		return errors.New("--id and --name are required")
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

	students := postgres.NewStudentRepository(pool)
	extractor := embedding.NewClient(cfg.Embedding.URL)
	ctx := cmd.Context()

	student := database.Student{
		ID:       id,
		Name:     name,
		Email:    mustGetString(cmd, "email"),
		Eligible: mustGetBool(cmd, "eligible"),
	}

	if path := mustGetString(cmd, "portrait"); path != "" {
		portrait, err := loadImage(path)
		if err != nil {
			return err
		}
		vec, err := extractor.ExtractFace(ctx, "facenet", portrait)
		if err != nil {
			return fmt.Errorf("embedding portrait: %w", err)
		}
		student.PrimaryEmbedding = vec
		student.Dim = len(vec)
		fmt.Printf("Portrait embedded (%d dimensions)\n", len(vec))
	}

	if err := students.Save(ctx, student); err != nil {
		return fmt.Errorf("saving student: %w", err)
	}
	fmt.Printf("Registered %s (%s)\n", name, id)

	cardPath := mustGetString(cmd, "card")
	if cardPath == "" {
		return nil
	}
	card, err := loadImage(cardPath)
	if err != nil {
		return err
	}

	models := mustGetStringSlice(cmd, "models")
	if len(models) == 0 {
		models = cfg.Models.ModelNames()
	}

	bar := progressbar.NewOptions(len(models),
		progressbar.OptionSetDescription("Embedding identity card"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("models"),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)

	var failed int
	for _, model := range models {
		vec, err := extractor.ExtractFace(ctx, model, card)
		if err != nil {
			fmt.Printf("\nWarning: %s: %v\n", model, err)
			failed++
			bar.Add(1)
			continue
		}
		emb := database.CardEmbedding{
			StudentID: id,
			Model:     model,
			Embedding: vec,
			Dim:       len(vec),
		}
		if err := students.SaveCardEmbedding(ctx, emb); err != nil {
			return fmt.Errorf("saving %s card embedding: %w", model, err)
		}
		bar.Add(1)
	}
	fmt.Println()
	if failed > 0 {
		fmt.Printf("Card embedded with %d/%d models\n", len(models)-failed, len(models))
	} else {
		fmt.Printf("Card embedded with all %d models\n", len(models))
	}
	return nil
}

func runStudentTokens(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.Connect(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	outDir := mustGetString(cmd, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	students := postgres.NewStudentRepository(pool)
	all, err := students.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing students: %w", err)
	}
	if len(all) == 0 {
		fmt.Println("No students registered")
		return nil
	}

	bar := progressbar.NewOptions(len(all),
		progressbar.OptionSetDescription("Writing token payloads"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("students"),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)

	start := time.Now()
	for _, student := range all {
		payload, err := token.Encode(student.ID, student.Name)
		if err != nil {
			return fmt.Errorf("encoding token for %s: %w", student.ID, err)
		}
		path := filepath.Join(outDir, student.ID+".json")
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		bar.Add(1)
	}
	fmt.Printf("\nWrote %d token payloads to %s in %s\n", len(all), outDir, time.Since(start).Round(time.Millisecond))
	return nil
}
