package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information variables set via ldflags during build.
//
//nolint:gochecknoglobals // Required for build-time injection.
var (
	// Version is the application version (e.g., v1.0.0).
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "none"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// newVersionCmd creates and returns the version command.
func newVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if short {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), Version)
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "quizgen %s (commit %s, built %s)\n", Version, Commit, BuildTime)
			return err
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Show only version number")
	return cmd
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newVersionCmd())
}
