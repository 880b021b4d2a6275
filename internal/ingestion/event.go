package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/yungbote/activitylog-backend/internal/activity"
	"github.com/yungbote/activitylog-backend/internal/domain"
)

const (
	EventNewActivity  = "aktivitetslogg_ny_aktivitet"
	EventDeletePerson = "slett_person"
)

// ErrInvalidEvent marks a message that can never be stored, however often it is redelivered.
var ErrInvalidEvent = errors.New("invalid event")

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("eventtime", func(fl validator.FieldLevel) bool {
		_, err := ParseTimestamp(fl.Field().String(), time.UTC)
		return err == nil
	})
	// The builtin uuid rule only takes lowercase hex.
	_ = validate.RegisterValidation("anyuuid", func(fl validator.FieldLevel) bool {
		_, err := uuid.Parse(fl.Field().String())
		return err == nil
	})
}

type envelope struct {
	Name string `json:"@event_name"`
}

type rawEvent struct {
	Name       string        `json:"@event_name" validate:"required,eq=aktivitetslogg_ny_aktivitet"`
	ID         string        `json:"@id" validate:"required,anyuuid"`
	Created    string        `json:"@opprettet" validate:"required,eventtime"`
	Ident      string        `json:"fødselsnummer" validate:"required"`
	Activities []rawActivity `json:"aktiviteter" validate:"required,dive"`
}

type rawActivity struct {
	ID        string       `json:"id" validate:"required,anyuuid"`
	Level     *string      `json:"nivå" validate:"required"`
	Message   *string      `json:"melding" validate:"required"`
	Timestamp string       `json:"tidsstempel" validate:"required,eventtime"`
	Contexts  []rawContext `json:"kontekster" validate:"required,dive"`
}

type rawContext struct {
	Type    *string                    `json:"konteksttype" validate:"required"`
	Details map[string]json.RawMessage `json:"kontekstmap" validate:"required"`
}

type rawDeletion struct {
	Name  string `json:"@event_name" validate:"required,eq=slett_person"`
	ID    string `json:"@id" validate:"required,anyuuid"`
	Ident string `json:"fødselsnummer" validate:"required"`
}

// Event is a decoded activity message.
type Event struct {
	ID         uuid.UUID
	Ident      string
	Created    time.Time
	Activities []activity.Activity
	// Skipped lists natural ids of activities whose level is unknown.
	Skipped []string
	Raw     []byte
}

// Deletion asks for everything stored about one person to be removed.
type Deletion struct {
	ID    uuid.UUID
	Ident string
}

// EventName returns the @event_name of raw without validating the rest.
func EventName(raw []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return env.Name, nil
}

// Decode validates an activity message and converts it. Local timestamps are read in zone.
// Activities with an unknown level are left out and reported in Skipped; any other
// structural problem rejects the whole message.
func Decode(raw []byte, zone *time.Location) (*Event, error) {
	if zone == nil {
		zone = time.UTC
	}
	var in rawEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	ev := &Event{
		ID:    uuid.MustParse(in.ID),
		Ident: strings.TrimSpace(in.Ident),
		Raw:   raw,
	}
	if ev.Ident == "" {
		return nil, fmt.Errorf("%w: blank fødselsnummer", ErrInvalidEvent)
	}
	created, err := ParseTimestamp(in.Created, zone)
	if err != nil {
		return nil, fmt.Errorf("%w: @opprettet: %v", ErrInvalidEvent, err)
	}
	ev.Created = created

	for _, a := range in.Activities {
		level := domain.Level(strings.TrimSpace(*a.Level))
		if !level.Valid() {
			ev.Skipped = append(ev.Skipped, uuid.MustParse(a.ID).String())
			continue
		}
		ts, err := ParseTimestamp(a.Timestamp, zone)
		if err != nil {
			return nil, fmt.Errorf("%w: activity %s: %v", ErrInvalidEvent, a.ID, err)
		}
		out := activity.Activity{
			ID:        uuid.MustParse(a.ID),
			Level:     level,
			Message:   *a.Message,
			Timestamp: ts,
		}
		for _, c := range a.Contexts {
			ctx := activity.Context{Type: *c.Type}
			for _, name := range sortedKeys(c.Details) {
				ctx.Details = append(ctx.Details, activity.Detail{Name: name, Value: asText(c.Details[name])})
			}
			out.Contexts = append(out.Contexts, ctx)
		}
		ev.Activities = append(ev.Activities, out)
	}
	return ev, nil
}

func DecodeDeletion(raw []byte) (*Deletion, error) {
	var in rawDeletion
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	ident := strings.TrimSpace(in.Ident)
	if ident == "" {
		return nil, fmt.Errorf("%w: blank fødselsnummer", ErrInvalidEvent)
	}
	return &Deletion{ID: uuid.MustParse(in.ID), Ident: ident}, nil
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseTimestamp accepts RFC 3339 or a zone-less local date-time, which is read in zone.
func ParseTimestamp(s string, zone *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if zone == nil {
		zone = time.UTC
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, zone); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// asText renders a JSON scalar the way it reads: strings unquoted, everything else verbatim.
func asText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if bytes.Equal(raw, []byte("null")) {
		return ""
	}
	return string(raw)
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
