package domain

import (
	"github.com/yungbote/activitylog-backend/internal/domain/activitylog"
	"github.com/yungbote/activitylog-backend/internal/domain/backlog"
)

type (
	Level        = activitylog.Level
	Person       = activitylog.Person
	SourceEvent  = activitylog.SourceEvent
	Message      = activitylog.Message
	ContextType  = activitylog.ContextType
	ContextName  = activitylog.ContextName
	ContextValue = activitylog.ContextValue
	Activity     = activitylog.Activity
	ContextLink  = activitylog.ContextLink
	BacklogItem  = backlog.BacklogItem
)

const (
	LevelInfo            = activitylog.LevelInfo
	LevelBehov           = activitylog.LevelBehov
	LevelVarsel          = activitylog.LevelVarsel
	LevelFunksjonellFeil = activitylog.LevelFunksjonellFeil
	LevelLogiskFeil      = activitylog.LevelLogiskFeil
)

// Models lists every persisted row type in migration order.
func Models() []interface{} {
	return []interface{}{
		&activitylog.Person{},
		&activitylog.SourceEvent{},
		&activitylog.Message{},
		&activitylog.ContextType{},
		&activitylog.ContextName{},
		&activitylog.ContextValue{},
		&activitylog.Activity{},
		&activitylog.ContextLink{},
		&backlog.BacklogItem{},
	}
}
