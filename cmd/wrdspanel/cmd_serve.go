package main

import (
	"context"

	"github.com/spf13/cobra"

	"wrdspanel/internal/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline and panel API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv(opts, true)
			if err != nil {
				return err
			}
			defer env.Close(context.WithoutCancel(cmd.Context()))
			if port != 0 {
				env.cfg.Server.Port = port
			}

			mgr, err := env.manager()
			if err != nil {
				return err
			}
			a, err := app.NewApplication(env.cfg, env.logger.Logger, env.otel, mgr)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	return cmd
}
