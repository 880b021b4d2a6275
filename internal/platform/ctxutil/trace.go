package ctxutil

import "context"

type traceDataKey struct{}

// TraceData correlates log lines of one unit of work: an HTTP request or a stream entry.
type TraceData struct {
	TraceID   string
	RequestID string
	EntryID   string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}

// LogFields returns the non-empty correlation ids of ctx as logger key/value pairs.
func LogFields(ctx context.Context) []interface{} {
	td := GetTraceData(ctx)
	if td == nil {
		return nil
	}
	var out []interface{}
	if td.TraceID != "" {
		out = append(out, "trace_id", td.TraceID)
	}
	if td.RequestID != "" {
		out = append(out, "request_id", td.RequestID)
	}
	if td.EntryID != "" {
		out = append(out, "entry_id", td.EntryID)
	}
	return out
}
