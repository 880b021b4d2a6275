package activitylog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Person struct {
	ID    int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Ident string `gorm:"column:ident;type:varchar(64);not null;uniqueIndex:ux_person_ident" json:"ident"`
}

func (Person) TableName() string { return "person" }

// SourceEvent is the raw inbound message, stored once per event id.
type SourceEvent struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID    uuid.UUID      `gorm:"type:uuid;column:event_id;not null;uniqueIndex:ux_source_event_event_id" json:"event_id"`
	PersonID   int64          `gorm:"column:person_id;not null;index" json:"person_id"`
	Payload    datatypes.JSON `gorm:"column:payload;type:jsonb;not null" json:"payload"`
	OccurredAt time.Time      `gorm:"column:occurred_at;not null" json:"occurred_at"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (SourceEvent) TableName() string { return "source_event" }

type Message struct {
	ID   int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Text string `gorm:"column:text;type:text;not null;uniqueIndex:ux_message_text" json:"text"`
}

func (Message) TableName() string { return "message" }

type ContextType struct {
	ID   int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Type string `gorm:"column:type;type:text;not null;uniqueIndex:ux_context_type_type" json:"type"`
}

func (ContextType) TableName() string { return "context_type" }

type ContextName struct {
	ID   int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"column:name;type:text;not null;uniqueIndex:ux_context_name_name" json:"name"`
}

func (ContextName) TableName() string { return "context_name" }

type ContextValue struct {
	ID    int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Value string `gorm:"column:value;type:text;not null;uniqueIndex:ux_context_value_value" json:"value"`
}

func (ContextValue) TableName() string { return "context_value" }

// Activity rows are append-only; NaturalID is the caller-supplied activity uuid.
type Activity struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	NaturalID     uuid.UUID `gorm:"type:uuid;column:natural_id;not null;uniqueIndex:ux_activity_natural_id" json:"natural_id"`
	MessageID     int64     `gorm:"column:message_id;not null;index" json:"message_id"`
	PersonID      int64     `gorm:"column:person_id;not null;index" json:"person_id"`
	SourceEventID *int64    `gorm:"column:source_event_id;index" json:"source_event_id,omitempty"`
	Level         Level     `gorm:"column:level;type:varchar(20);not null;check:chk_activity_level,level IN ('INFO','BEHOV','VARSEL','FUNKSJONELL_FEIL','LOGISK_FEIL')" json:"level"`
	OccurredAt    time.Time `gorm:"column:occurred_at;not null" json:"occurred_at"`
}

func (Activity) TableName() string { return "activity" }

// ContextLink attaches one interned (type, name, value) triple to an activity.
// The composite primary key makes the 4-tuple unique.
type ContextLink struct {
	ActivityID     int64 `gorm:"column:activity_id;primaryKey;autoIncrement:false" json:"activity_id"`
	ContextTypeID  int64 `gorm:"column:context_type_id;primaryKey;autoIncrement:false" json:"context_type_id"`
	ContextNameID  int64 `gorm:"column:context_name_id;primaryKey;autoIncrement:false" json:"context_name_id"`
	ContextValueID int64 `gorm:"column:context_value_id;primaryKey;autoIncrement:false;index" json:"context_value_id"`
}

func (ContextLink) TableName() string { return "context_link" }
