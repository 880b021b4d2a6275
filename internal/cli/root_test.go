package cli

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"ingest"},
		{"backfill"},
		{"backlog", "seed"},
		{"backlog", "reset"},
		{"backlog", "status"},
		{"cleanup"},
		{"migrate"},
		{"publish"},
	} {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestInvalidFormatIsRejected(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"backlog", "status", "--format", "xml"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestBackfillRequiresQueue(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"backfill"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue")
}

func TestPublishRejectsNonJSONBeforeConnecting(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"publish"})
	cmd.SetIn(strings.NewReader("{\"@event_name\":\"x\"}\nnot json\n"))
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadLines(t *testing.T) {
	got, err := readLines(strings.NewReader(" a \n\nb\n  \nc"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestReadEventsSkipsBlankLines(t *testing.T) {
	got, err := readEvents(strings.NewReader("{\"a\":1}\n\n[1]\n"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"a":1}`, string(got[0]))
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	res := SeedResult{Queue: "replay", Added: 3}
	require.NoError(t, printResult(&buf, &RootOptions{Format: "json"}, res, nil))
	assert.JSONEq(t, `{"queue":"replay","added":3}`, buf.String())

	buf.Reset()
	require.NoError(t, printResult(&buf, &RootOptions{Format: "text"}, res, func(w io.Writer) {
		fmt.Fprintf(w, "%s %d", res.Queue, res.Added)
	}))
	assert.Equal(t, "replay 3", buf.String())
}
