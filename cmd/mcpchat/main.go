package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mcpchat/internal/app"
)

type rootOptions struct {
	configPath string
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	opts := rootOptions{
		configPath: "mcpchat.yaml",
	}

	root := &cobra.Command{
		Use:   "mcpchat",
		Short: "LLM chat over on-demand MCP tool servers",
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to config file")

	root.AddCommand(
		newChatCmd(logger, &opts),
		newAskCmd(logger, &opts),
		newToolsCmd(logger, &opts),
		newStatusCmd(logger, &opts),
		newValidateCmd(logger, &opts),
	)

	return root
}

func newChatCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			err := app.New(logger).RunChat(ctx, opts.configPath, cmd.InOrStdin(), cmd.OutOrStdout())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	return cmd
}

func newAskCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Answer a single query and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			return app.New(logger).Ask(ctx, opts.configPath, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}

	return cmd
}

func newToolsCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List tools exposed by all configured providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			return app.New(logger).Tools(ctx, opts.configPath, cmd.OutOrStdout())
		},
	}

	return cmd
}

func newStatusCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-provider process state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			return app.New(logger).Status(ctx, opts.configPath, cmd.OutOrStdout())
		},
	}

	return cmd
}

func newValidateCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration without starting providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.New(logger).Validate(cmd.Context(), opts.configPath, cmd.OutOrStdout())
		},
	}

	return cmd
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
