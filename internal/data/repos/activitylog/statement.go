package activitylog

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/activitylog-backend/internal/data/aggregates"
	"github.com/yungbote/activitylog-backend/internal/observability"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

const (
	// DefaultRowsPerStatement bounds the VALUES list of one insert. The widest
	// row (activity, 6 params) stays under postgres' 65535 bind parameter limit.
	DefaultRowsPerStatement = 10000
	// DefaultMaxDeadlockRetries is how many times one statement is re-run after a deadlock.
	DefaultMaxDeadlockRetries = 30

	savepointName = "activitylog_stmt"
)

// Options tunes statement shaping. Zero values fall back to the defaults.
type Options struct {
	RowsPerStatement   int
	MaxDeadlockRetries int
}

func (o Options) withDefaults() Options {
	if o.RowsPerStatement <= 0 {
		o.RowsPerStatement = DefaultRowsPerStatement
	}
	if o.MaxDeadlockRetries <= 0 {
		o.MaxDeadlockRetries = DefaultMaxDeadlockRetries
	}
	return o
}

// executor runs single statements inside the caller's transaction. Each attempt
// is fenced by a savepoint so a deadlock victim can be rolled back and re-run
// without aborting the surrounding transaction.
type executor struct {
	log  *logger.Logger
	opts Options
}

func newExecutor(log *logger.Logger, opts Options) *executor {
	return &executor{log: log, opts: opts.withDefaults()}
}

func (e *executor) run(tx *gorm.DB, statement string, fn func(tx *gorm.DB) error) error {
	for attempt := 0; ; attempt++ {
		if err := tx.SavePoint(savepointName).Error; err != nil {
			return fmt.Errorf("%s: savepoint: %w", statement, err)
		}
		err := fn(tx)
		if err == nil {
			if relErr := tx.Exec("RELEASE SAVEPOINT " + savepointName).Error; relErr != nil {
				return fmt.Errorf("%s: release savepoint: %w", statement, relErr)
			}
			return nil
		}
		if !aggregates.IsDeadlock(err) || attempt >= e.opts.MaxDeadlockRetries {
			return fmt.Errorf("%s: %w", statement, err)
		}
		if rbErr := tx.RollbackTo(savepointName).Error; rbErr != nil {
			return fmt.Errorf("%s: rollback to savepoint: %w", statement, errors.Join(err, rbErr))
		}
		observability.DeadlockRetries.WithLabelValues(statement).Inc()
		e.log.Info("Retrying statement after deadlock", "statement", statement, "attempt", attempt+1)
	}
}

// placeholders renders n copies of group separated by commas. An empty group
// defaults to a tuple of width bind vars: "(?, ?), (?, ?)".
func placeholders(n, width int, group string) string {
	if group == "" {
		group = "(" + strings.TrimSuffix(strings.Repeat("?, ", width), ", ") + ")"
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(group)
	}
	return b.String()
}

// chunk splits items into consecutive slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
