package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"patchwatch/internal/app"
	"patchwatch/internal/config"
	logx "patchwatch/pkg/logx"
)

type rootFlags struct {
	config  string
	envFile string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "patchwatch",
		Short:         "Watch a forum for new patch notes and post them to Telegram chats",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv(f.envFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error { return runBot(cmd.Context(), f) },
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "./config.yaml", "path to config file (yaml or json)")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "dotenv file with PATCHWATCH_* overrides")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bot (default)",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return runBot(cmd.Context(), f) },
		},
		newCheckCmd(f),
		newDestinationsCmd(f),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "patchwatch %s\n", Version)
			},
		},
	)
	return root
}

func runBot(parent context.Context, f *rootFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Options{ConfigPath: f.config, Version: Version})
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
		defer c()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}
	stopCtx, c := context.WithTimeout(context.Background(), 15*time.Second)
	defer c()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func newCheckCmd(f *rootFlags) *cobra.Command {
	var opts app.CheckOptions
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Fetch the latest post once and print the chunks that would be sent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.ConfigPath = f.config
			if opts.Credential == "" {
				opts.Credential = os.Getenv(config.EnvPrefix + "_CHECK_CREDENTIAL")
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()
			return app.Check(ctx, opts, cmd.OutOrStdout(), logx.NewConsole("warn"))
		},
	}
	cmd.Flags().StringVar(&opts.Credential, "credential", "", "generation API key; without it the raw page text is printed")
	cmd.Flags().IntVar(&opts.MaxChunkLen, "max-chunk-len", 0, "override delivery.max_chunk_len")
	return cmd
}

func newDestinationsCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "destinations",
		Aliases: []string{"dest"},
		Short:   "Inspect or edit stored destinations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored destinations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRegistry(cmd.Context(), f, func(reg registryView) error {
					all := reg.All()
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tTARGET\tTAG")
					for _, d := range all {
						fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Target, d.Tag)
					}
					return tw.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Remove a destination (stop the bot first)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRegistry(cmd.Context(), f, func(reg registryView) error {
					if _, ok := reg.Get(args[0]); !ok {
						return fmt.Errorf("destination %q not found", args[0])
					}
					if err := reg.Remove(cmd.Context(), args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}
