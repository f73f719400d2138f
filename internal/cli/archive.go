package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"suitebuild/internal/app"
)

func newArchiveCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:          "archive @<distribution>",
		Short:        "Reassemble one distribution, rebuilding stale prerequisites",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.config(cmd, nil)
			if err != nil {
				return err
			}
			a := app.New(o.outW, cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := a.Archive(ctx, strings.TrimPrefix(args[0], "@"))
			if err != nil {
				return err
			}
			if summary.Failed() {
				return &ExitError{Code: 1, Message: fmt.Sprintf("archive failed: %s", summary)}
			}
			return nil
		},
	}
}
