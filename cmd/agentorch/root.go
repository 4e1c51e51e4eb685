package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"agentorch/internal/observability"
	"agentorch/internal/shared/config"
	"agentorch/internal/shared/logging"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "agentorch",
		Short:         "Plan, execute and verify tool workflows for operational requests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(newServeCommand(opts), newRunCommand(opts), newToolsCommand(opts))
	return cmd
}

// loadSettings resolves Settings with flag overrides applied on top.
func (o *rootOptions) loadSettings(overrides map[string]any) (config.Settings, error) {
	if overrides == nil {
		overrides = map[string]any{}
	}
	if level := strings.TrimSpace(o.logLevel); level != "" {
		overrides["log_level"] = strings.ToLower(level)
	}
	loadOpts := []config.Option{config.WithOverrides(overrides)}
	if path := strings.TrimSpace(o.configPath); path != "" {
		loadOpts = append(loadOpts, config.WithConfigPath(path))
	}
	return config.Load(loadOpts...)
}

// setupLogging routes component loggers through a structured slog handler on
// stderr.
func setupLogging(settings config.Settings, output io.Writer) *observability.Logger {
	if output == nil {
		output = os.Stderr
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
		Output: output,
	})
	logging.SetBase(logger.Slog())
	return logger
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newServeCommand(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides := map[string]any{}
			if addr != "" {
				overrides["http_addr"] = addr
			}
			settings, err := root.loadSettings(overrides)
			if err != nil {
				return err
			}
			logger := setupLogging(settings, cmd.ErrOrStderr())
			logger.Info("starting server",
				"app", settings.AppName,
				"planner_mode", settings.PlannerMode,
				"executor_mode", settings.ExecutorMode,
				"api_key", observability.SanitizeAPIKey(settings.OpenAIAPIKey),
				"postgres", settings.DatabaseURL != "",
			)
			return runServer(cmd.Context(), settings, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from http_addr)")
	return cmd
}

func newToolsCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List registered tool names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := root.loadSettings(nil)
			if err != nil {
				return err
			}
			setupLogging(settings, cmd.ErrOrStderr())
			names, err := toolNames(cmd.Context(), settings)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
