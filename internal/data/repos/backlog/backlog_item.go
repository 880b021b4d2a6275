package backlog

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/activitylog-backend/internal/domain"
	"github.com/yungbote/activitylog-backend/internal/observability"
	"github.com/yungbote/activitylog-backend/internal/platform/dbctx"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

const seedChunk = 5000

// ClaimPolicy decides which claimed-but-unfinished items may be taken again.
type ClaimPolicy struct {
	// ClaimTTL makes a claim older than this re-claimable. Zero keeps claims forever.
	ClaimTTL time.Duration
	// MaxAttempts stops re-claiming an item once it has been claimed this many times. Zero is unlimited.
	MaxAttempts int
}

// Stats is a snapshot of one queue.
type Stats struct {
	Queue     string `json:"queue"`
	Pending   int64  `json:"pending"`
	Claimed   int64  `json:"claimed"`
	Finished  int64  `json:"finished"`
	Failed    int64  `json:"failed"`
	Exhausted int64  `json:"exhausted"`
}

type BacklogItemRepo interface {
	// Claim takes one eligible item of queue for the caller and commits at once.
	// It returns nil when there is no work, including when a competing worker won the row.
	Claim(dbc dbctx.Context, queue string, policy ClaimPolicy) (*types.BacklogItem, error)
	Finish(dbc dbctx.Context, id int64) error
	// Fail records cause on a claimed item. The item stays claimed.
	Fail(dbc dbctx.Context, id int64, cause string) error
	Seed(dbc dbctx.Context, queue string, subjects []string) (int64, error)
	// SeedFromPersons queues every known person ident.
	SeedFromPersons(dbc dbctx.Context, queue string) (int64, error)
	// ResetStuck returns unfinished claims older than olderThan to pending and clears their attempts.
	ResetStuck(dbc dbctx.Context, queue string, olderThan time.Duration) (int64, error)
	Stats(dbc dbctx.Context, queue string, policy ClaimPolicy) (Stats, error)
}

type backlogItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewBacklogItemRepo(db *gorm.DB, baseLog *logger.Logger) BacklogItemRepo {
	return &backlogItemRepo{
		db:  db,
		log: baseLog.With("repo", "BacklogItemRepo"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *backlogItemRepo) Claim(dbc dbctx.Context, queue string, policy ClaimPolicy) (*types.BacklogItem, error) {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, errors.New("queue required")
	}
	now := r.now()
	var claimed *types.BacklogItem
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ? AND finished_at IS NULL", queue)
		if policy.ClaimTTL > 0 {
			q = q.Where("(started_at IS NULL OR started_at < ?)", now.Add(-policy.ClaimTTL))
		} else {
			q = q.Where("started_at IS NULL")
		}
		if policy.MaxAttempts > 0 {
			q = q.Where("attempts < ?", policy.MaxAttempts)
		}
		var item types.BacklogItem
		qErr := q.Order("id ASC").First(&item).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		// The guard on the observed started_at makes a lost race visible as zero rows.
		res := txx.Model(&types.BacklogItem{}).
			Where("id = ? AND finished_at IS NULL AND started_at IS NOT DISTINCT FROM ?", item.ID, item.StartedAt).
			Updates(map[string]interface{}{
				"started_at": now,
				"attempts":   gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			observability.BacklogClaims.WithLabelValues(queue, "lost").Inc()
			r.log.Debug("Claim lost to a concurrent worker", "queue", queue, "item_id", item.ID)
			return nil
		}
		if item.StartedAt != nil {
			observability.BacklogClaims.WithLabelValues(queue, "reclaimed").Inc()
			r.log.Warn("Re-claiming expired claim",
				"queue", queue,
				"item_id", item.ID,
				"subject_key", item.SubjectKey,
				"previous_claim", *item.StartedAt,
				"attempts", item.Attempts,
			)
		} else {
			observability.BacklogClaims.WithLabelValues(queue, "claimed").Inc()
		}
		item.StartedAt = &now
		item.Attempts++
		claimed = &item
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		observability.BacklogClaims.WithLabelValues(queue, "empty").Inc()
	}
	return claimed, nil
}

func (r *backlogItemRepo) Finish(dbc dbctx.Context, id int64) error {
	if id <= 0 {
		return nil
	}
	return dbc.DB(r.db).Model(&types.BacklogItem{}).
		Where("id = ? AND finished_at IS NULL", id).
		Updates(map[string]interface{}{
			"finished_at": r.now(),
			"last_error":  "",
		}).Error
}

func (r *backlogItemRepo) Fail(dbc dbctx.Context, id int64, cause string) error {
	if id <= 0 {
		return nil
	}
	return dbc.DB(r.db).Model(&types.BacklogItem{}).
		Where("id = ? AND finished_at IS NULL", id).
		Update("last_error", cause).Error
}

func (r *backlogItemRepo) Seed(dbc dbctx.Context, queue string, subjects []string) (int64, error) {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return 0, errors.New("queue required")
	}
	rows := make([]types.BacklogItem, 0, len(subjects))
	seen := map[string]struct{}{}
	for _, s := range subjects {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		rows = append(rows, types.BacklogItem{Queue: queue, SubjectKey: s})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "queue"}, {Name: "subject_key"}},
			DoNothing: true,
		}).
		CreateInBatches(&rows, seedChunk)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *backlogItemRepo) SeedFromPersons(dbc dbctx.Context, queue string) (int64, error) {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return 0, errors.New("queue required")
	}
	res := dbc.DB(r.db).Exec(`
INSERT INTO backlog_item (queue, subject_key, attempts, created_at)
SELECT ?, ident, 0, ? FROM person
ON CONFLICT (queue, subject_key) DO NOTHING`, queue, r.now())
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *backlogItemRepo) ResetStuck(dbc dbctx.Context, queue string, olderThan time.Duration) (int64, error) {
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return 0, errors.New("queue required")
	}
	res := dbc.DB(r.db).Model(&types.BacklogItem{}).
		Where("queue = ? AND finished_at IS NULL AND started_at IS NOT NULL AND started_at <= ?", queue, r.now().Add(-olderThan)).
		Updates(map[string]interface{}{
			"started_at": nil,
			"attempts":   0,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Info("Reset stuck backlog items", "queue", queue, "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}

func (r *backlogItemRepo) Stats(dbc dbctx.Context, queue string, policy ClaimPolicy) (Stats, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = int(^uint32(0) >> 1)
	}
	var out Stats
	err := dbc.DB(r.db).Raw(`
SELECT
	count(*) FILTER (WHERE started_at IS NULL AND finished_at IS NULL) AS pending,
	count(*) FILTER (WHERE started_at IS NOT NULL AND finished_at IS NULL) AS claimed,
	count(*) FILTER (WHERE finished_at IS NOT NULL) AS finished,
	count(*) FILTER (WHERE finished_at IS NULL AND last_error <> '') AS failed,
	count(*) FILTER (WHERE finished_at IS NULL AND attempts >= ?) AS exhausted
FROM backlog_item
WHERE queue = ?`, maxAttempts, queue).Scan(&out).Error
	if err != nil {
		return Stats{}, err
	}
	out.Queue = queue
	return out, nil
}
