package main

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"wrdspanel/internal/wrds"
)

// Libraries the pipeline reads from.
var requiredLibraries = []string{"comp", "crsp"}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the WRDS connection and library access",
		Long: `Connects to WRDS, lists the libraries visible to the account and
runs a small test query against comp.company.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(opts, true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer env.Close(ctx)
			out := cmd.OutOrStdout()

			client, err := wrds.Connect(ctx, env.cfg.WRDS, env.logger.Logger)
			if err != nil {
				return err
			}
			defer client.Close()
			fmt.Fprintf(out, "connected to %s as %s\n", env.cfg.WRDS.Host, env.cfg.WRDS.Username)

			libs, err := client.Libraries(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d libraries available\n", len(libs))
			var missing []string
			for _, lib := range requiredLibraries {
				if !slices.Contains(libs, lib) {
					missing = append(missing, lib)
				}
			}
			if len(missing) > 0 {
				return fmt.Errorf("no access to librar(ies) %s", strings.Join(missing, ", "))
			}

			f, err := client.Query(ctx, "SELECT gvkey, conm FROM "+wrds.Table("comp", "company")+" LIMIT 5")
			if err != nil {
				return fmt.Errorf("test query: %w", err)
			}
			env.logger.Info("test query succeeded", slog.Int("rows", f.Len()))
			fmt.Fprintf(out, "test query returned %d rows\n", f.Len())
			return nil
		},
	}
}
