package activitylog

import (
	"fmt"
	"strings"
)

// Level is the severity of one activity log entry.
type Level string

const (
	LevelInfo            Level = "INFO"
	LevelBehov           Level = "BEHOV"
	LevelVarsel          Level = "VARSEL"
	LevelFunksjonellFeil Level = "FUNKSJONELL_FEIL"
	LevelLogiskFeil      Level = "LOGISK_FEIL"
)

var Levels = []Level{LevelInfo, LevelBehov, LevelVarsel, LevelFunksjonellFeil, LevelLogiskFeil}

func (l Level) Valid() bool {
	for _, known := range Levels {
		if l == known {
			return true
		}
	}
	return false
}

func ParseLevel(raw string) (Level, error) {
	l := Level(strings.TrimSpace(raw))
	if !l.Valid() {
		return "", fmt.Errorf("unknown level %q", raw)
	}
	return l, nil
}

func (l Level) String() string { return string(l) }
