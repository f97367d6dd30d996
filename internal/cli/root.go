package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/miguelmartens/opgecanceld-blocklist/internal/blocklist"
	"github.com/miguelmartens/opgecanceld-blocklist/internal/config"
	"github.com/miguelmartens/opgecanceld-blocklist/internal/discover"
)

// finder is the part of discover.Client the discover command drives.
type finder interface {
	Run(ctx context.Context) ([]string, error)
	Findings() map[string]string
}

type app struct {
	configPath string
	root       string
	debug      bool

	cfg    config.Config
	logger *slog.Logger

	newFinder func(cfg discover.Config, existing blocklist.Set, logger *slog.Logger) finder
}

func newApp() *app {
	return &app{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		newFinder: func(cfg discover.Config, existing blocklist.Set, logger *slog.Logger) finder {
			return discover.NewClient(cfg, existing, logger)
		},
	}
}

// Execute runs the command line with args taken from os.Args.
func Execute(ctx context.Context) error {
	return newRootCmd(newApp()).ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "opgecanceld",
		Short:         "Build and maintain the Opgecanceld AdGuard / uBlock Origin filter list",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.root, a.configPath)
			if err != nil {
				return err
			}
			if a.debug {
				cfg.Debug = true
			}
			a.cfg = cfg
			a.logger = newLogger(cmd.ErrOrStderr(), cfg.Debug)
			a.logger.Debug("config loaded",
				slog.String("root", cfg.Root),
				slog.String("blocklist", cfg.Blocklist),
				slog.String("output", cfg.Output),
			)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default <root>/"+config.DefaultConfigFile+" if present)")
	cmd.PersistentFlags().StringVar(&a.root, "root", "", "project root (default: nearest directory above the working directory holding the blocklist)")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		buildCmd(a),
		discoverCmd(a),
		importCmd(a),
		checkCmd(a),
		historyCmd(a),
		versionCmd(),
	)
	return cmd
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
}
