package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"suitebuild/internal/app"
)

func newBuildCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "build [units...]",
		Short:        "Build the suite closure, or the closure of the named units",
		RunE:         func(cmd *cobra.Command, args []string) error { return runBuild(o, cmd, args) },
		SilenceUsage: true,
	}
	cmd.Flags().Bool("force", false, "rebuild units even when their inputs are unchanged")
	return cmd
}

func runBuild(o *options, cmd *cobra.Command, args []string) error {
	cfg, err := o.config(cmd, args)
	if err != nil {
		return err
	}
	a := app.New(o.outW, cfg)

	// A first interrupt stops dispatching new units and lets in-flight
	// compilations finish; a second one kills the process.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := a.Build(ctx)
	if err != nil {
		return err
	}
	if summary.Failed() {
		return &ExitError{Code: 1, Message: fmt.Sprintf("build failed: %s", summary)}
	}
	return nil
}
