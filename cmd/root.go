package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "grad-gate",
	Short: "Ceremonial check-in verification for graduation ceremonies",
	Long: `Grad Gate verifies graduates at the ceremony entrance. Students scan a
QR badge, a camera captures a probe photo, and the gate confirms identity
with a primary face match, a multi-model identity-card consensus fallback,
and a staff-decided manual override as the last resort. Accepted check-ins
land in an append-only attendance ledger.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
