package backlog

import "time"

// BacklogItem is one unit of deferred batch work.
// Pending: StartedAt nil. Claimed: StartedAt set, FinishedAt nil. Done: FinishedAt set.
type BacklogItem struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Queue      string     `gorm:"column:queue;type:varchar(64);not null;uniqueIndex:ux_backlog_item_queue_subject,priority:1" json:"queue"`
	SubjectKey string     `gorm:"column:subject_key;type:text;not null;uniqueIndex:ux_backlog_item_queue_subject,priority:2" json:"subject_key"`
	Attempts   int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	StartedAt  *time.Time `gorm:"column:started_at;index" json:"started_at,omitempty"`
	FinishedAt *time.Time `gorm:"column:finished_at;index" json:"finished_at,omitempty"`
	LastError  string     `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;default:now()" json:"created_at"`
}

func (BacklogItem) TableName() string { return "backlog_item" }

func (b *BacklogItem) Pending() bool  { return b.StartedAt == nil && b.FinishedAt == nil }
func (b *BacklogItem) Finished() bool { return b.FinishedAt != nil }
