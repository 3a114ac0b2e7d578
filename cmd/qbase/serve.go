package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"qbase/internal/api"
	"qbase/internal/migrate"
	"qbase/internal/schema"
)

func newServeCmd(a *app) *cobra.Command {
	var schemaPath, port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with a background migration worker",
		Long: "Starts the HTTP API. When the schema from --schema (or the default schema) is newer\n" +
			"than the one the store holds, a migration to it is queued on startup.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("schema") {
				a.cfg.SchemaFile = schemaPath
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Port = port
			}

			b, err := openBackend(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer b.close()

			current, err := b.schema(ctx)
			if err != nil {
				return err
			}
			srv := api.NewServer(current, migrate.New(a.logger.Named("migrate")), b.store, api.Options{
				Worker:  migrate.WorkerOptions{Timeout: a.cfg.Timeout()},
				History: b.history,
			}, a.logger.Named("api"))

			if err := a.bootstrap(srv, current); err != nil {
				return err
			}
			return api.RunServer(ctx, ":"+a.cfg.Port, srv)
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "", "schema file or DSL directory to serve (default schema when empty)")
	cmd.Flags().StringVar(&port, "port", "", "HTTP port (overrides config)")
	return cmd
}

// bootstrap ставит в очередь миграцию к желаемой схеме, если хранилище отстаёт.
func (a *app) bootstrap(srv *api.Server, current *schema.Schema) error {
	desired := schema.Default()
	if a.cfg.SchemaFile != "" {
		var err error
		if desired, err = loadSchema(a.cfg.SchemaFile); err != nil {
			return err
		}
	}
	if !desired.Version().GreaterThan(current.Version()) {
		a.logger.Info("store schema is current",
			zap.String("store", current.Version().String()),
			zap.String("desired", desired.Version().String()))
		return nil
	}
	p, err := migrate.NewPlan(current, desired)
	if err != nil {
		return fmt.Errorf("plan startup migration: %w", err)
	}
	job, err := srv.Worker().Submit(p, migrate.Options{AllowDestructive: a.cfg.AllowDestructive})
	if err != nil {
		return fmt.Errorf("startup migration: %w", err)
	}
	a.logger.Info("startup migration queued", zap.String("job", job.ID), zap.String("to", job.To))
	return nil
}

