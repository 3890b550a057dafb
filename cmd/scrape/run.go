package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scrape/internal/fetch"
	"scrape/internal/pipeline"
	"scrape/internal/report"
	"scrape/internal/storage"
	"scrape/internal/task"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		file string
		url  string
	)
	cmd := &cobra.Command{
		Use:   "run [task|group...]",
		Short: "Run built-in tasks or groups, or the tasks of a file",
		Long: "Run built-in tasks or groups, or the tasks of a file.\n\n" +
			"With no arguments and no --file every built-in group runs in order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := selectTasks(args, file, url)
			if err != nil {
				return err
			}
			return a.runTasks(cmd.Context(), cmd, tasks)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML or JSON task file")
	cmd.Flags().StringVar(&url, "url", "", "override the URL of the (single) selected task")
	return cmd
}

func selectTasks(args []string, file, url string) ([]task.Task, error) {
	var (
		tasks []task.Task
		err   error
	)
	switch {
	case file != "" && len(args) > 0:
		return nil, usagef("pass either task names or --file, not both")
	case file != "":
		tasks, err = task.LoadFile(file)
	default:
		tasks, err = task.Resolve(args)
	}
	if err != nil {
		return nil, usageError{err: err}
	}

	if url != "" {
		if len(tasks) != 1 {
			return nil, usagef("--url needs exactly one task, got %d", len(tasks))
		}
		tasks[0].URL = url
	}
	return tasks, nil
}

func (a *app) runTasks(ctx context.Context, cmd *cobra.Command, tasks []task.Task) error {
	cfg := a.cfg

	f, err := fetch.New(fetch.Options{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.HTTP.Timeout,
		RateLimit: cfg.HTTP.RateLimit,
	})
	if err != nil {
		return usagef("http client: %w", err)
	}

	closeMetrics, err := setupMetrics(ctx, cfg.Metrics)
	if err != nil {
		return usagef("metrics: %w", err)
	}
	defer func() {
		if err := closeMetrics(); err != nil {
			zap.L().Warn("metrics flush failed", zap.Error(err))
		}
	}()

	r := &pipeline.Runner{
		Fetcher: f,
		OutDir:  cfg.Output.Dir,
		Report:  cmd.OutOrStdout(),
		Pause:   cfg.Run.PauseBetweenTasks,
		Sleep:   a.deps.sleep,
	}
	if cfg.Storage.Kind != "" {
		repo, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer repo.Close()
		r.Repo = repo
	}

	sum, err := r.Run(ctx, tasks)
	printSummary(cmd, sum)
	return err
}

func printSummary(cmd *cobra.Command, sum pipeline.Summary) {
	t := report.NewTable(cmd.OutOrStdout())
	t.SetTitle("Run " + sum.RunID)
	t.AppendHeader(table.Row{"Task", "Status", "Records", "Skipped", "Files", "Note"})
	for _, r := range sum.Tasks {
		note := ""
		if r.Err != nil {
			note = r.Err.Error()
		}
		t.AppendRow(table.Row{r.Task, r.Status, r.Records, r.Skipped, len(r.Files), note})
	}
	t.AppendFooter(table.Row{"Total", "", sum.Records(), "", "", fmt.Sprintf("%d failed", sum.Failed())})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 6, WidthMax: 60}})
	t.Render()
}
