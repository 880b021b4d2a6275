package search

import (
	"encoding/json"
	"time"

	"github.com/yungbote/activitylog-backend/internal/activity"
)

const contextTypeKey = "konteksttype"

// Document is one activity as stored in the search index. Every context detail
// is also lifted onto the top level so it can be queried without nesting.
type Document struct {
	ID        string              `json:"id"`
	Ident     string              `json:"fødselsnummer"`
	Level     string              `json:"nivå"`
	Message   string              `json:"melding"`
	Timestamp time.Time           `json:"tidsstempel"`
	Contexts  []map[string]string `json:"kontekster"`
	Values    map[string]string   `json:"-"`
}

var reservedKeys = map[string]struct{}{
	"id": {}, "fødselsnummer": {}, "nivå": {}, "melding": {}, "tidsstempel": {}, "kontekster": {},
}

func FromActivity(ident string, a activity.Activity) Document {
	doc := Document{
		ID:        a.ID.String(),
		Ident:     ident,
		Level:     a.Level.String(),
		Message:   a.Message,
		Timestamp: a.Timestamp,
		Contexts:  make([]map[string]string, 0, len(a.Contexts)),
		Values:    map[string]string{},
	}
	for _, c := range a.Contexts {
		m := make(map[string]string, len(c.Details)+1)
		for _, d := range c.Details {
			m[d.Name] = d.Value
			doc.Values[d.Name] = d.Value
		}
		m[contextTypeKey] = c.Type
		doc.Contexts = append(doc.Contexts, m)
	}
	return doc
}

func FromActivities(ident string, acts []activity.Activity) []Document {
	out := make([]Document, 0, len(acts))
	for _, a := range acts {
		out = append(out, FromActivity(ident, a))
	}
	return out
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Values)+6)
	for k, v := range d.Values {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		out[k] = v
	}
	contexts := d.Contexts
	if contexts == nil {
		contexts = []map[string]string{}
	}
	out["id"] = d.ID
	out["fødselsnummer"] = d.Ident
	out["nivå"] = d.Level
	out["melding"] = d.Message
	out["tidsstempel"] = d.Timestamp
	out["kontekster"] = contexts
	return json.Marshal(out)
}
