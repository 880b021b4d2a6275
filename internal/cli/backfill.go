package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yungbote/activitylog-backend/internal/app"
	"github.com/yungbote/activitylog-backend/internal/dispatch"
)

type BackfillOptions struct {
	*RootOptions
	Queue       string
	Concurrency int
}

type BackfillResult struct {
	Queue   string `json:"queue"`
	Claimed int64  `json:"claimed"`
	Done    int64  `json:"done"`
	Failed  int64  `json:"failed"`
	Gated   bool   `json:"gated"`
}

func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Work through a seeded backlog queue",
		Long: `Claim and process items of a backlog queue until it is drained, the quiet-hours
gate closes, or the process is interrupted. Any number of processes may run the same queue.

Queues:
  replay   re-run the write engine over every stored source event of a person
  reindex  rebuild a person's documents in the search index

Examples:
  activitylog backlog seed --queue replay
  activitylog backfill --queue replay --concurrency 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBackfill(ctx, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.Queue, "queue", "", fmt.Sprintf("queue to work (%v)", app.Queues))
	_ = cmd.MarkFlagRequired("queue")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "workers (default BACKFILL_CONCURRENCY)")
	return cmd
}

func runBackfill(ctx context.Context, opts *BackfillOptions, out io.Writer) error {
	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	handler, err := a.BackfillHandler(opts.Queue)
	if err != nil {
		return err
	}
	d, err := a.Dispatcher(opts.Queue)
	if err != nil {
		return err
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = a.Cfg.Backfill.Concurrency
	}

	stats, err := d.Run(ctx, concurrency, handler)
	res := BackfillResult{
		Queue:   opts.Queue,
		Claimed: stats.Claimed,
		Done:    stats.Done,
		Failed:  stats.Failed,
		Gated:   errors.Is(err, dispatch.ErrGateClosed),
	}
	if err != nil && !res.Gated && !errors.Is(err, context.Canceled) {
		return err
	}
	return printResult(out, opts.RootOptions, res, func(w io.Writer) {
		fmt.Fprintf(w, "queue %s: claimed=%d done=%d failed=%d\n", res.Queue, res.Claimed, res.Done, res.Failed)
		if res.Gated {
			fmt.Fprintln(w, "stopped: inside quiet hours, run again later")
		}
	})
}
