package cmd

import (
	"fmt"
	"os"

	"github.com/goosewin/cappair/internal/config"
	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "cappair",
	Short:   "Batch-caption images with correct and subtly wrong captions",
	Long:    "Cappair sends every image in a folder to a multimodal model and writes one JSON line per image\nholding an accurate caption and a caption with one or two details changed.",
	Version: Version,
	Args:    cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve current directory: %w", err)
		}
		return config.LoadDotEnv(cwd)
	},
	RunE:          runCaption,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	bindRunFlags(rootCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
