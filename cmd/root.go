package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

// Set with -ldflags "-X github.com/kozaktomas/facegate/cmd.version=...".
var (
	version   = "dev"
	commitSHA = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "facegate",
	Short: "Face-match attendance and audit engine",
	Long: `facegate authenticates people from live face embeddings against a small
enrolled population, keeps an append-only audit ledger of every attempt and
turns admissible matches into check-in / check-out events.

Configuration comes from FACEGATE_* environment variables, optionally loaded
from a .env file, layered over the built-in policy.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("facegate {{.Version}} (commit %s, built %s)\n", commitSHA, buildDate))
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file to load before reading configuration")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load(envFile)
}
