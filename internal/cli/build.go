package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/miguelmartens/opgecanceld-blocklist/internal/filters"
)

func buildCmd(a *app) *cobra.Command {
	var blocklistPath string
	var outputPath string

	c := &cobra.Command{
		Use:   "build",
		Short: "Generate the filter list from the blocklist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := pick(blocklistPath, a.cfg.Blocklist)
			out := pick(outputPath, a.cfg.Output)

			n, err := filters.Build(in, out, a.cfg.Header)
			if err != nil {
				return err
			}

			a.logger.Debug("filter list written", slog.String("blocklist", in), slog.String("output", out), slog.Int("rules", n))
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s with %d filter rules\n", out, n)
			return nil
		},
	}

	c.Flags().StringVarP(&blocklistPath, "blocklist", "b", "", "blocklist to read (default from config)")
	c.Flags().StringVarP(&outputPath, "output", "o", "", "filter list to write (default from config)")
	return c
}

// pick returns flag when set, otherwise the configured value.
func pick(flag, configured string) string {
	if flag != "" {
		return flag
	}
	return configured
}
