package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/activitylog-backend/internal/ingestion"
	"github.com/yungbote/activitylog-backend/internal/platform/ctxutil"
	"github.com/yungbote/activitylog-backend/internal/platform/redisstream"
)

func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	var noHTTP bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Consume activity events from the Redis stream",
		Long: `Consume activity and person deletion events from the configured Redis stream
consumer group, store them, and mirror new activities to the search index.
The ops server (health, metrics, read-only query) runs alongside unless --no-http is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIngest(ctx, rootOpts, !noHTTP)
		},
	}
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "do not start the ops server")
	return cmd
}

func runIngest(ctx context.Context, opts *RootOptions, withHTTP bool) error {
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	consumer, err := redisstream.NewConsumer(a.Log, a.Cfg.StreamConfig())
	if err != nil {
		return err
	}
	defer consumer.Close()

	svc := a.Services.Ingestion
	handle := func(ctx context.Context, id string, payload []byte) error {
		ctx = ctxutil.WithTraceData(ctx, &ctxutil.TraceData{EntryID: id})
		return svc.Handle(ctx, payload)
	}
	permanent := func(err error) bool { return errors.Is(err, ingestion.ErrInvalidEvent) }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx, handle, permanent) })
	if a.Services.Mirror != nil {
		g.Go(func() error { return a.Services.Mirror.Run(gctx) })
	}
	if withHTTP {
		g.Go(func() error { return a.RunOpsServer(gctx) })
	}
	err = g.Wait()
	a.Log.Info("Ingest stopped")
	return err
}
