package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yungbote/activitylog-backend/internal/platform/redisstream"
)

func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish [FILE]",
		Short: "Append JSON events (one per line) to the Redis stream",
		Long: `Publish newline-delimited JSON events from FILE, or stdin when FILE is omitted or "-".
Lines that are not JSON are rejected before anything is sent.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			events, err := readEvents(in)
			if err != nil {
				return err
			}

			cfg, log, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			defer log.Sync()
			producer, err := redisstream.NewConsumer(log, cfg.StreamConfig())
			if err != nil {
				return err
			}
			defer producer.Close()

			ids := make([]string, 0, len(events))
			for _, ev := range events {
				id, err := producer.Publish(cmd.Context(), ev)
				if err != nil {
					return fmt.Errorf("publish: %w", err)
				}
				ids = append(ids, id)
			}
			return printResult(cmd.OutOrStdout(), rootOpts, map[string]any{"published": ids}, func(w io.Writer) {
				fmt.Fprintf(w, "%d events published\n", len(ids))
			})
		},
	}
}

func readEvents(r io.Reader) ([][]byte, error) {
	var out [][]byte
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("line %d: not valid JSON", line)
		}
		out = append(out, append([]byte(nil), raw...))
	}
	return out, sc.Err()
}
