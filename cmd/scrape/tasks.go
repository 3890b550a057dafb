package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scrape/internal/report"
	"scrape/internal/storage"
	"scrape/internal/task"
)

func newTasksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List built-in tasks and groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			history, closeRepo, err := a.runHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer closeRepo()

			t := report.NewTable(out)
			t.SetTitle("Tasks")
			header := table.Row{"Name", "Mode", "URL", "Container", "Fields", "Outputs"}
			if history != nil {
				header = append(header, "Last run")
			}
			t.AppendHeader(header)
			for _, tk := range task.Builtin() {
				mode := tk.Mode
				if mode == "" {
					mode = "html"
				}
				outs := []string{}
				for _, f := range []string{tk.Output.JSON, tk.Output.CSV} {
					if f != "" {
						outs = append(outs, f)
					}
				}
				row := table.Row{tk.Name, mode, tk.URL, tk.Container, strings.Join(tk.FieldNames(), ", "), strings.Join(outs, ", ")}
				if history != nil {
					row = append(row, lastRun(cmd.Context(), history, tk))
				}
				t.AppendRow(row)
			}
			t.SetColumnConfigs([]table.ColumnConfig{{Number: 5, WidthMax: 40}})
			t.Render()

			g := report.NewTable(out)
			g.SetTitle("Groups")
			g.AppendHeader(table.Row{"Group", "Tasks"})
			for _, grp := range task.Groups() {
				g.AppendRow(table.Row{grp.Name, strings.Join(grp.Tasks, ", ")})
			}
			g.Render()
			return nil
		},
	}
}

// runHistory opens the configured sink when it can report past runs. Without
// a sink, or with one that keeps no history, it returns nil.
func (a *app) runHistory(ctx context.Context) (storage.RunHistory, func(), error) {
	noop := func() {}
	if a.cfg.Storage.Kind == "" {
		return nil, noop, nil
	}
	repo, err := storage.New(ctx, storage.Config{Kind: a.cfg.Storage.Kind, DSN: a.cfg.Storage.DSN})
	if err != nil {
		return nil, noop, fmt.Errorf("open storage: %w", err)
	}
	h, ok := repo.(storage.RunHistory)
	if !ok {
		repo.Close()
		return nil, noop, nil
	}
	return h, repo.Close, nil
}

func lastRun(ctx context.Context, h storage.RunHistory, tk task.Task) string {
	runID, at, err := h.LastRun(ctx, tk.TableName(), tk.Name)
	if err != nil {
		zap.L().Warn("last run lookup failed", zap.String("task", tk.Name), zap.Error(err))
		return "?"
	}
	if runID == "" {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", runID, at.Format(time.RFC3339))
}
