package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"qbase/internal/migrate"
)

func newMigrateCmd(a *app) *cobra.Command {
	var allowDestructive bool
	cmd := &cobra.Command{
		Use:   "migrate [OLD] NEW",
		Short: "Plan and apply schema changes to the configured store",
		Long: "Compares OLD with NEW, orders the changes and applies them in one transaction.\n" +
			"Without OLD the plan starts from the schema the store currently holds.",
		Example: "qbase migrate --driver sqlite --db qbase.db schema/v2.yaml\n" +
			"qbase migrate schema/v1.yaml schema/v2.yaml --allow-destructive",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("allow-destructive") {
				allowDestructive = a.cfg.AllowDestructive
			}

			b, err := openBackend(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer b.close()

			var p migrate.Plan
			if len(args) == 2 {
				p, err = planFiles(args[0], args[1])
			} else {
				p, err = planFromStore(ctx, b, args[0])
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printPlan(out, p)

			if a.cfg.Timeout() > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout())
				defer cancel()
			}
			err = migrate.New(a.logger.Named("migrate")).Run(ctx, b.store, p, migrate.Options{AllowDestructive: allowDestructive})
			var ae *migrate.ApplyError
			switch {
			case errors.Is(err, migrate.ErrDestructiveChangeRejected):
				return fmt.Errorf("%w (pass --allow-destructive to apply)", err)
			case errors.As(err, &ae):
				a.logger.Error("migration rolled back", zap.Int("index", ae.Index), zap.Stringer("change", ae.Change))
				return err
			case err != nil:
				return err
			}
			fmt.Fprintf(out, "%s store is at %s\n", paintSafe("ok"), p.To)
			return nil
		},
	}
	cmd.Flags().BoolVar(&allowDestructive, "allow-destructive", false, "apply changes that may lose data (remove entity/field, change type)")
	return cmd
}

func planFromStore(ctx context.Context, b *backend, newPath string) (migrate.Plan, error) {
	current, err := b.schema(ctx)
	if err != nil {
		return migrate.Plan{}, err
	}
	next, err := loadSchema(newPath)
	if err != nil {
		return migrate.Plan{}, err
	}
	return migrate.NewPlan(current, next)
}
