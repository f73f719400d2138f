package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"suitebuild/internal/app"
)

func newScloneCmd(o *options) *cobra.Command {
	var (
		source string
		dest   string
		subdir string
		rev    string
	)
	cmd := &cobra.Command{
		Use:          "sclone [suite]",
		Short:        "Materialize a suite checkout",
		Long:         "Fetch the pinned checkout of an imported suite by name, or clone one directly with --source and --dest, bypassing import resolution.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.config(cmd, nil)
			if err != nil {
				return err
			}
			a := app.New(o.outW, cfg)

			var root string
			switch {
			case source != "":
				if dest == "" {
					return fmt.Errorf("--source requires --dest")
				}
				if len(args) > 0 {
					return fmt.Errorf("--source and a suite name are mutually exclusive")
				}
				root, err = a.DirectClone(cmd.Context(), source, dest, subdir, rev)
			case len(args) == 1:
				root, err = a.SuiteClone(cmd.Context(), args[0])
			default:
				return fmt.Errorf("either a suite name or --source is required")
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(o.outW, root)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "repository URL to clone directly")
	cmd.Flags().StringVar(&dest, "dest", "", "destination directory for --source")
	cmd.Flags().StringVar(&subdir, "subdir", "", "suite subdirectory inside the checkout")
	cmd.Flags().StringVar(&rev, "rev", "", "revision to check out")
	return cmd
}
