package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/miguelmartens/opgecanceld-blocklist/internal/blocklist"
)

func importCmd(a *app) *cobra.Command {
	var outputPath string
	var doAppend bool

	c := &cobra.Command{
		Use:   "import <filter-list>",
		Short: "Extract ||domain^ rules from an AdGuard / uBlock Origin filter list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domains, err := blocklist.ImportFile(args[0])
			if err != nil {
				return err
			}
			a.logger.Info("parsed filter list", slog.String("file", args[0]), slog.Int("domains", len(domains)))

			existing, err := blocklist.LoadSet(a.cfg.Blocklist)
			if err != nil {
				return err
			}
			fresh := domains[:0]
			for _, d := range domains {
				if !existing.Contains(d) {
					fresh = append(fresh, d)
				}
			}
			a.logger.Debug("filtered known domains", slog.Int("skipped", len(domains)-len(fresh)))

			out := cmd.OutOrStdout()
			if len(fresh) == 0 {
				fmt.Fprintln(out, "No new domains to import.")
				return nil
			}
			return emitDomains(out, fresh, outputPath, doAppend, a.cfg.Blocklist, a.logger)
		},
	}

	c.Flags().StringVarP(&outputPath, "output", "o", "", "write domains to this file instead of stdout")
	c.Flags().BoolVar(&doAppend, "append", false, "append domains to the blocklist")
	c.MarkFlagsMutuallyExclusive("output", "append")
	return c
}
