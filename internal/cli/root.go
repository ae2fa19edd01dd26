// Package cli implements the labelfusion command-line interface.
//
// Commands:
//   - run: fuse an atlas segmentation into a cohort of target images
//   - warp: deform a single image with a deformation field
//   - config init: write a default YAML configuration
//
// Loggers are passed to commands through the context. --verbose (-v) enables
// debug output; from eleven repetitions on, intermediate images are written
// as well.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the labelfusion CLI.
func Execute(ctx context.Context) error {
	return newRootCmd(os.Stderr).ExecuteContext(ctx)
}

// newRootCmd builds the command tree logging to logOut.
func newRootCmd(logOut io.Writer) *cobra.Command {
	var verbose int

	root := &cobra.Command{
		Use:           "labelfusion",
		Short:         "Graph-cut multi-atlas label fusion",
		Long:          `labelfusion propagates an atlas segmentation to a cohort of images through pairwise deformation fields and segments all of them jointly with a single max-flow/min-cut.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ctx := withLogger(cmd.Context(), newLogger(logOut, levelFor(verbose)))
			cmd.SetContext(ctx)
		},
	}
	root.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase verbosity (repeatable; >10 writes intermediate images)")

	root.AddCommand(newRunCmd(&verbose))
	root.AddCommand(newWarpCmd())
	root.AddCommand(newConfigCmd())

	return root
}
