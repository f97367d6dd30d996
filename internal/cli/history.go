package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/miguelmartens/opgecanceld-blocklist/internal/buildinfo"
	"github.com/miguelmartens/opgecanceld-blocklist/internal/store"
)

func historyCmd(a *app) *cobra.Command {
	var dsn string

	c := &cobra.Command{
		Use:   "history",
		Short: "List domains recorded by previous discover runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := store.Open(pick(dsn, a.cfg.Database), a.logger)
			if err != nil {
				return fmt.Errorf("opening history: %w", err)
			}
			defer repo.Close()

			if err := repo.Ping(); err != nil {
				return fmt.Errorf("opening history: %w", err)
			}

			domains, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(domains) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No domains recorded yet.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOMAIN\tHITS\tFIRST SEEN\tLAST SEEN\tSOURCE")
			for _, d := range domains {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
					d.Name, d.Hits,
					d.FirstSeen.UTC().Format(time.RFC3339),
					d.LastSeen.UTC().Format(time.RFC3339),
					d.Source,
				)
			}
			return tw.Flush()
		},
	}

	c.Flags().StringVar(&dsn, "db", "", "discovery history database (default from config)")
	return c
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// no config needed
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
}
