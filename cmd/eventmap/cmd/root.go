// Package cmd implements the eventmap command line tool.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"eventmap/internal/logging"
)

type rootOptions struct {
	logLevel  string
	logFormat string
	output    string
	logger    zerolog.Logger
}

// NewRootCommand builds the command tree. Results go to out and logs to errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "eventmap",
		Short: "Filter and cluster community events for a map",
		Long: `eventmap runs the map engine over a YAML fixture of events.

It filters events around a search center, clusters nearby ones into
markers and formats distances and drive-time estimates the same way
the map screen does.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "yaml", "text":
			default:
				return fmt.Errorf("unknown output format %q", opts.output)
			}
			opts.logger = logging.New(logging.Config{
				Level:  opts.logLevel,
				Format: opts.logFormat,
				Output: errOut,
			})
			return nil
		},
	}

	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (json or console)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format (text or yaml)")

	root.AddCommand(
		newMarkersCommand(opts),
		newDistanceCommand(opts),
		newEtaCommand(opts),
	)

	return root
}

// Execute runs the CLI and exits non-zero on error
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
