package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/activitylog-backend/internal/app"
	"github.com/yungbote/activitylog-backend/internal/data/repos/backlog"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
)

func NewBacklogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Seed, inspect and repair backlog queues",
	}
	cmd.AddCommand(newBacklogSeedCommand(rootOpts))
	cmd.AddCommand(newBacklogResetCommand(rootOpts))
	cmd.AddCommand(newBacklogStatusCommand(rootOpts))
	return cmd
}

type SeedResult struct {
	Queue string `json:"queue"`
	Added int64  `json:"added"`
}

func newBacklogSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var queue string
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Queue every known person, or the identifiers read from stdin",
		Long: `Add subjects to a backlog queue. Subjects already queued are left untouched,
so seeding is safe to repeat.

Examples:
  activitylog backlog seed --queue reindex
  cut -f1 persons.tsv | activitylog backlog seed --queue replay --stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var subjects []string
			if fromStdin {
				var err error
				if subjects, err = readLines(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			return withApp(ctx, rootOpts, func(a *app.App) error {
				dbc := dbctx.Context{Ctx: ctx}
				var added int64
				var err error
				if fromStdin {
					added, err = a.Repos.Backlog.Seed(dbc, queue, subjects)
				} else {
					added, err = a.Repos.Backlog.SeedFromPersons(dbc, queue)
				}
				if err != nil {
					return err
				}
				res := SeedResult{Queue: queue, Added: added}
				return printResult(cmd.OutOrStdout(), rootOpts, res, func(w io.Writer) {
					fmt.Fprintf(w, "queue %s: %d subjects added\n", res.Queue, res.Added)
				})
			})
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "", "queue to seed")
	_ = cmd.MarkFlagRequired("queue")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read one subject per line from stdin")
	return cmd
}

func newBacklogResetCommand(rootOpts *RootOptions) *cobra.Command {
	var queue string
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return unfinished claims older than --older-than to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, rootOpts, func(a *app.App) error {
				n, err := a.Repos.Backlog.ResetStuck(dbctx.Context{Ctx: ctx}, queue, olderThan)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), rootOpts, map[string]any{"queue": queue, "reset": n}, func(w io.Writer) {
					fmt.Fprintf(w, "queue %s: %d items reset\n", queue, n)
				})
			})
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "", "queue to repair")
	_ = cmd.MarkFlagRequired("queue")
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "minimum claim age")
	return cmd
}

func newBacklogStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var queues []string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pending, claimed and finished counts per queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(queues) == 0 {
				queues = app.Queues
			}
			return withApp(ctx, rootOpts, func(a *app.App) error {
				var all []backlog.Stats
				for _, q := range queues {
					s, err := a.Repos.Backlog.Stats(dbctx.Context{Ctx: ctx}, q, a.Cfg.ClaimPolicy())
					if err != nil {
						return fmt.Errorf("stats %s: %w", q, err)
					}
					all = append(all, s)
				}
				return printResult(cmd.OutOrStdout(), rootOpts, all, func(w io.Writer) {
					for _, s := range all {
						fmt.Fprintf(w, "%-10s pending=%d claimed=%d finished=%d failed=%d exhausted=%d\n",
							s.Queue, s.Pending, s.Claimed, s.Finished, s.Failed, s.Exhausted)
					}
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&queues, "queue", nil, "queues to show (default all)")
	return cmd
}

func withApp(ctx context.Context, opts *RootOptions, fn func(a *app.App) error) error {
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(a)
}

// readLines returns the trimmed non-empty lines of r.
func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}
