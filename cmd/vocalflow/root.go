package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vocalflow",
		Short: "Streaming breath and voice phase classifier",
		Long: `vocalflow classifies a stream of audio frames into idle, rising,
sustained and falling phases, estimates pitch, and scores how regular the
cycles are. Detectors are declared in a YAML config file.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadEnvFile,
	}
	root.PersistentFlags().StringP("config", "c", "config.yaml", "path to the YAML configuration file")
	root.PersistentFlags().String("env-file", "", "dotenv file to load before starting (OTEL_* resource settings and the like)")

	root.AddCommand(newServeCmd(), newAnalyzeCmd(), newSegmentsCmd(), newVersionCmd())
	return root
}

// loadEnvFile loads --env-file into the process environment. Variables that
// are already set win.
func loadEnvFile(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", titleStyle.Render("vocalflow"), valueStyle.Render(version))
		},
	}
}
