package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"attacher/internal/bootstrap"
	"attacher/internal/platform/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var homePath string

	root := &cobra.Command{
		Use:           "attachctl",
		Short:         "Inspect and exercise attacher controllers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&homePath, "home", "", "attacher home directory (defaults to $"+config.EnvHome+")")

	root.AddCommand(newControllersCmd(&homePath))
	root.AddCommand(newHistoryCmd(&homePath))
	root.AddCommand(newDecodeCmd(&homePath))
	root.AddCommand(newAttachCmd(&homePath))
	return root
}

func loadApp(homePath string) (*bootstrap.App, error) {
	var (
		cfg config.Config
		err error
	)
	if strings.TrimSpace(homePath) != "" {
		cfg, err = config.New(homePath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	app, err := bootstrap.New("attachctl", cfg)
	if err != nil {
		return nil, err
	}
	for _, degraded := range app.Degraded {
		_, _ = fmt.Fprintln(os.Stderr, "warning:", degraded)
	}
	return app, nil
}

func newControllersCmd(homePath *string) *cobra.Command {
	controllers := &cobra.Command{Use: "controllers", Short: "Controller registry commands"}

	controllers.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List controllers that can be resolved by name",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(*homePath)
			if err != nil {
				return err
			}
			defer app.Close()
			infos, err := app.AttachCLI.ListControllers(context.Background())
			if err != nil {
				return err
			}
			for _, info := range infos {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", info.Name, info.Source, info.Detail)
			}
			return nil
		},
	})

	controllers.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Validate controller plugin checksums and lifecycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(*homePath)
			if err != nil {
				return err
			}
			defer app.Close()
			results, err := app.AttachCLI.Doctor(context.Background())
			if err != nil {
				return err
			}
			if len(results) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no controller plugins configured")
				return nil
			}
			for _, r := range results {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s checksum=%t binary=%t lifecycle=%t capabilities=%s", r.Name, r.ChecksumValid, r.BinaryReachable, r.LifecycleOK, strings.Join(r.Capabilities, ","))
				if r.Error != "" {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), " error=%q", r.Error)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	})
	return controllers
}

func newHistoryCmd(homePath *string) *cobra.Command {
	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "Show recent attach runs from the journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(*homePath)
			if err != nil {
				return err
			}
			defer app.Close()
			runs, err := app.AttachCLI.History(context.Background(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			for _, r := range runs {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s controller=%s pid=%s mode=%s state=%s failure=%s took=%s\n",
					r.StartedAt.Format(time.RFC3339), r.ID, r.ControllerType, r.ProcessID, r.Mode, r.State, r.Failure, r.FinishedAt.Sub(r.StartedAt))
				if r.Error != "" {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  error=%q\n", r.Error)
				}
			}
			return nil
		},
	}
	history.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return history
}

func newDecodeCmd(homePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "decode -- <controller> <pid> <agent> <native> [argument...]",
		Short: "Print how positional attacher arguments decode",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(*homePath)
			if err != nil {
				return err
			}
			defer app.Close()
			req, err := app.AttachCLI.Decode(context.Background(), args)
			if err != nil {
				return err
			}
			argument := "<absent>"
			if req.HasArgument {
				argument = fmt.Sprintf("%q", req.Argument)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "controller=%q pid=%q agent=%q native=%t argument=%s\n", req.ControllerType, req.ProcessID, req.ExtensionPath, req.Native, argument)
			return nil
		},
	}
}

func newAttachCmd(homePath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "attach -- <controller> <pid> <agent> <native> [argument...]",
		Short: "Run one attach and report the failure, if any",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(*homePath)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.AttachCLI.Attach(context.Background(), args); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "agent loaded and detached")
			return nil
		},
	}
}
