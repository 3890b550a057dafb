package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scrape/internal/config"
)

// app is the state shared by subcommands after the persistent pre-run.
type app struct {
	deps *deps
	cfg  *config.Config

	configPath string
	logLevel   string
	logFormat  string
	outDir     string
}

func newRootCmd(d *deps) *cobra.Command {
	a := &app{deps: d}

	root := &cobra.Command{
		Use:           "scrape",
		Short:         "Declarative record extraction from web pages and feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = zap.L().Sync()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./scrape.yaml when present)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: console or json")
	pf.StringVar(&a.outDir, "out-dir", "", "directory for result files (overrides output.dir)")

	root.AddCommand(newRunCmd(a), newTasksCmd(a), newInspectCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return usagef("load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("out-dir") {
		cfg.Output.Dir = a.outDir
	}
	if err := cfg.Validate(); err != nil {
		return usageError{err: err}
	}
	if err := config.InitLogger(cfg.Log); err != nil {
		return usagef("init logger: %w", err)
	}
	a.cfg = cfg
	return nil
}
