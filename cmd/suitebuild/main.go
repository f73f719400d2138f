package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"suitebuild/internal/cli"
)

func main() {
	if err := run(context.Background(), os.Stdout, os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run keeps the command wiring testable and the exit handling in one place.
func run(ctx context.Context, outW io.Writer, args []string) error {
	root := cli.New(outW)
	root.SetArgs(args)
	root.SetOut(outW)
	return root.ExecuteContext(ctx)
}
