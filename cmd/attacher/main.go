package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	attachin "attacher/internal/modules/attach/adapter/in"
	"attacher/internal/bootstrap"
	"attacher/internal/platform/config"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

// run never writes to stdout or stderr; the exit status is the whole result.
func run(ctx context.Context, args []string) (code int) {
	defer func() {
		if recover() != nil {
			code = attachin.ExitFailure
		}
	}()
	code = attachin.ExitFailure
	root := newRootCmd(&code)
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	if err := root.ExecuteContext(ctx); err != nil {
		return attachin.ExitFailure
	}
	return code
}

func newRootCmd(code *int) *cobra.Command {
	return &cobra.Command{
		Use:                "attacher <controller> <pid> <agent> <native> [argument...]",
		Short:              "Attach to a running process, load an agent and detach",
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgErr := config.LoadOrDefault()
			app, err := bootstrap.New("attacher", cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			if cfgErr != nil {
				app.Logger.Warn("using default configuration", "error", cfgErr)
			}
			*code = app.AttachCLI.Run(cmd.Context(), args)
			return nil
		},
	}
}
