package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/miguelmartens/opgecanceld-blocklist/internal/blocklist"
	"github.com/miguelmartens/opgecanceld-blocklist/internal/filters"
	"github.com/miguelmartens/opgecanceld-blocklist/internal/lint"
)

var (
	errUnblocked = errors.New("filter list does not block every blocklist domain")
	errStale     = errors.New("filter list is out of date, run build")
)

func checkCmd(a *app) *cobra.Command {
	var blocklistPath string
	var filtersPath string

	c := &cobra.Command{
		Use:   "check",
		Short: "Lint the blocklist and verify the generated filter list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := pick(blocklistPath, a.cfg.Blocklist)
			out := pick(filtersPath, a.cfg.Output)
			w := cmd.OutOrStdout()

			rep, err := lint.Blocklist(in)
			if err != nil {
				return err
			}
			for _, is := range rep.Issues {
				fmt.Fprintf(w, "warning: %s\n", is)
			}

			domains, err := blocklist.Load(in)
			if err != nil {
				return err
			}

			missing, err := lint.VerifyFilters(out, domains)
			if err != nil {
				return err
			}
			for _, d := range missing {
				fmt.Fprintf(w, "unblocked: %s\n", d)
			}
			if len(missing) > 0 {
				return fmt.Errorf("%w: %d of %d", errUnblocked, len(missing), len(domains))
			}

			current, err := os.ReadFile(out)
			if err != nil {
				return &blocklist.FileAccessError{Op: "read", Path: out, Err: err}
			}
			if !bytes.Equal(current, filters.Render(domains, a.cfg.Header)) {
				return errStale
			}

			fmt.Fprintf(w, "OK: %d domains blocked by %s (%d warnings)\n", len(domains), out, len(rep.Issues))
			return nil
		},
	}

	c.Flags().StringVarP(&blocklistPath, "blocklist", "b", "", "blocklist to check (default from config)")
	c.Flags().StringVarP(&filtersPath, "filters", "f", "", "filter list to verify (default from config)")
	return c
}
