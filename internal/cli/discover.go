package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/miguelmartens/opgecanceld-blocklist/internal/blocklist"
	"github.com/miguelmartens/opgecanceld-blocklist/internal/store"
)

func discoverCmd(a *app) *cobra.Command {
	var duration time.Duration
	var outputPath string
	var doAppend bool
	var dsn string
	var noHistory bool

	c := &cobra.Command{
		Use:   "discover",
		Short: "Capture YouTube traffic in a headless browser and report new ad domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			existing, err := blocklist.LoadSet(a.cfg.Blocklist)
			if err != nil {
				return err
			}

			var repo *store.Repository
			if !noHistory {
				repo, err = store.Open(pick(dsn, a.cfg.Database), a.logger)
				if err != nil {
					return fmt.Errorf("opening history: %w", err)
				}
				defer repo.Close()
			}

			cfg := a.cfg.Discover
			if duration > 0 {
				cfg.DurationPerVideo = duration
			}

			a.logger.Info("starting discovery",
				slog.Int("known", len(existing)),
				slog.Duration("per_video", cfg.DurationPerVideo),
			)
			f := a.newFinder(cfg, existing, a.logger)
			domains, err := f.Run(ctx)
			if err != nil {
				return fmt.Errorf("discovery failed: %w", err)
			}

			if repo != nil {
				recordFindings(context.WithoutCancel(ctx), repo, f.Findings(), a.logger)
			}

			out := cmd.OutOrStdout()
			if len(domains) == 0 {
				fmt.Fprintln(out, "No new ad-related domains discovered.")
				return nil
			}
			return emitDomains(out, domains, outputPath, doAppend, a.cfg.Blocklist, a.logger)
		},
	}

	c.Flags().DurationVarP(&duration, "duration-per-video", "d", 0, "how long to capture traffic per video (default from config, 1m)")
	c.Flags().StringVarP(&outputPath, "output", "o", "", "write new domains to this file instead of stdout")
	c.Flags().BoolVar(&doAppend, "append", false, "append new domains to the blocklist")
	c.Flags().StringVar(&dsn, "db", "", "discovery history database (default from config)")
	c.Flags().BoolVar(&noHistory, "no-history", false, "do not record findings in the history database")
	c.MarkFlagsMutuallyExclusive("output", "append")
	return c
}

func recordFindings(ctx context.Context, repo *store.Repository, findings map[string]string, logger *slog.Logger) {
	names := make([]string, 0, len(findings))
	for name := range findings {
		names = append(names, name)
	}
	sort.Strings(names)

	fresh := 0
	for _, name := range names {
		isNew, err := repo.Record(ctx, name, findings[name])
		if err != nil {
			logger.Warn("failed to record finding", slog.String("domain", name), slog.String("error", err.Error()))
			continue
		}
		if isNew {
			fresh++
		}
	}
	logger.Info("history updated", slog.Int("recorded", len(names)), slog.Int("first_seen", fresh))
}

// emitDomains appends domains to the blocklist, writes them to outputPath, or
// prints them, in that order of preference.
func emitDomains(out io.Writer, domains []string, outputPath string, doAppend bool, blocklistPath string, logger *slog.Logger) error {
	switch {
	case doAppend:
		if err := blocklist.Append(blocklistPath, domains); err != nil {
			return err
		}
		logger.Info("appended domains", slog.String("blocklist", blocklistPath), slog.Int("domains", len(domains)))
		fmt.Fprintf(out, "Appended %d domains to %s\n", len(domains), blocklistPath)
	case outputPath != "":
		if err := blocklist.Write(outputPath, domains); err != nil {
			return err
		}
		logger.Info("wrote domains", slog.String("output", outputPath), slog.Int("domains", len(domains)))
		fmt.Fprintf(out, "Wrote %d domains to %s\n", len(domains), outputPath)
	default:
		fmt.Fprintln(out, "# New domains to add:")
		for _, d := range domains {
			fmt.Fprintln(out, d)
		}
	}
	return nil
}
