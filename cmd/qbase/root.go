package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"qbase/internal/config"
	"qbase/internal/logging"
)

// app: общее состояние команд: конфиг после наложения флагов и логгер.
type app struct {
	configPath string
	driver     string
	dbURL      string
	logLevel   string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:           "qbase",
		Short:         "Schema evolution engine: compare, order and apply schema changes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "qbase.json", "path to JSON config file")
	pf.StringVar(&a.driver, "driver", "", "store driver: memory|postgres|sqlite")
	pf.StringVar(&a.dbURL, "db", "", "database URL (postgres) or file (sqlite)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug|info|warn|error")

	root.AddCommand(
		newServeCmd(a),
		newPlanCmd(a),
		newMigrateCmd(a),
		newHistoryCmd(a),
		newInitCmd(a),
	)
	return root
}

// setup: конфиг (defaults -> JSON -> env), поверх явно заданные флаги.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Driver = a.driver
	}
	if flags.Changed("db") {
		cfg.DBURL = a.dbURL
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}
