package cmd

import (
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/grad-gate/internal/config"
	"github.com/kozaktomas/grad-gate/internal/database"
	"github.com/kozaktomas/grad-gate/internal/database/postgres"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the student face index",
	Long: `Rebuild the lookup-by-face index from the stored reference embeddings
and persist it to disk. The serve command loads the persisted index at
startup instead of rebuilding it.`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().String("out", "", "Index file path (defaults to HNSW_INDEX_PATH)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	pool, err := postgres.Connect(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	path := mustGetString(cmd, "out")
	if path == "" {
		path = cfg.Database.HNSWIndexPath
	}
	if path == "" {
		return errors.New("--out or HNSW_INDEX_PATH is required")
	}

	students := postgres.NewStudentRepository(pool)
	all, err := students.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing students: %w", err)
	}

	bar := progressbar.NewOptions(len(all),
		progressbar.OptionSetDescription("Indexing students"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("students"),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)

	index := database.NewFaceIndex()
	var indexed int
	for i := range all {
		if len(all[i].PrimaryEmbedding) > 0 {
			if err := index.Add(&all[i]); err != nil {
				return fmt.Errorf("indexing %s: %w", all[i].ID, err)
			}
			indexed++
		}
		bar.Add(1)
	}

	index.SetPath(path)
	if err := index.Save(); err != nil {
		return fmt.Errorf("saving index: %w", err)
	}
	fmt.Printf("\nIndexed %d of %d students to %s\n", indexed, len(all), path)
	return nil
}
