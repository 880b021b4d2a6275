package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/yungbote/activitylog-backend/internal/platform/envutil"
)

// A field whose lowercased key contains one of a rule's fragments is rewritten by it.
type redactRule struct {
	fragments []string
	apply     func(r redactor, v interface{}) interface{}
}

var redactRules = []redactRule{
	{
		fragments: []string{"password", "secret", "token", "authorization", "payload"},
		apply:     func(redactor, interface{}) interface{} { return "[REDACTED]" },
	},
	{
		// Personal identifiers are hashed so log lines for the same person still correlate.
		fragments: []string{"ident", "fodselsnummer", "fødselsnummer", "fnr", "aktorid", "aktørid", "subject"},
		apply:     func(r redactor, v interface{}) interface{} { return r.hash(v) },
	},
}

type redactor struct {
	enabled bool
	salt    string
}

var (
	redactOnce sync.Once
	active     redactor
)

func currentRedactor() redactor {
	redactOnce.Do(func() {
		active = redactor{
			enabled: envutil.Bool("LOG_REDACTION_ENABLED", true),
			salt:    envutil.String("LOG_HASH_SALT", ""),
		}
	})
	return active
}

// sanitizeKVs returns a copy of a zap key/value list with sensitive values rewritten.
// A trailing key without a value is kept as is.
func sanitizeKVs(kv []interface{}) []interface{} {
	r := currentRedactor()
	if !r.enabled || len(kv) < 2 {
		return kv
	}
	out := make([]interface{}, len(kv))
	copy(out, kv)
	for i := 0; i+1 < len(out); i += 2 {
		out[i+1] = r.field(fmt.Sprint(out[i]), out[i+1])
	}
	return out
}

func (r redactor) field(key string, val interface{}) interface{} {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, rule := range redactRules {
		for _, f := range rule.fragments {
			if strings.Contains(key, f) {
				return rule.apply(r, val)
			}
		}
	}
	return val
}

func (r redactor) hash(val interface{}) string {
	var raw string
	switch v := val.(type) {
	case nil:
	case []byte:
		raw = string(v)
	default:
		raw = strings.TrimSpace(fmt.Sprint(v))
	}
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(r.salt + raw))
	return "hash:" + hex.EncodeToString(sum[:6])
}
