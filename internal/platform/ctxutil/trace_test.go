package ctxutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogFields(t *testing.T) {
	assert.Nil(t, LogFields(context.Background()))

	ctx := WithTraceData(context.Background(), &TraceData{TraceID: "t", EntryID: "1-0"})
	assert.Equal(t, []interface{}{"trace_id", "t", "entry_id", "1-0"}, LogFields(ctx))
	assert.Equal(t, "t", GetTraceData(ctx).TraceID)
}
