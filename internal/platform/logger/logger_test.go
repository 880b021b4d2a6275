package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeKVsHashesPersonalIdentifiers(t *testing.T) {
	t.Setenv("LOG_REDACTION_ENABLED", "true")

	out := sanitizeKVs([]interface{}{
		"person_ident", "12345678910",
		"event_id", "3f1c",
		"db_password", "hunter2",
	})
	require.Len(t, out, 6)

	hashed, ok := out[1].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(hashed, "hash:"))
	assert.NotContains(t, hashed, "12345678910")
	assert.Equal(t, "3f1c", out[3])
	assert.Equal(t, "[REDACTED]", out[5])

	again := sanitizeKVs([]interface{}{"person_ident", "12345678910"})
	assert.Equal(t, hashed, again[1], "same identifier must hash the same way")
}

func TestSanitizeKVsKeepsDanglingKey(t *testing.T) {
	out := sanitizeKVs([]interface{}{"queue", "replay", "orphan"})
	assert.Equal(t, []interface{}{"queue", "replay", "orphan"}, out)
}

func TestSanitizeKVsHashesAcrossValueTypes(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"fødselsnummer", []byte("12345678910"),
		"aktørId", int64(1234567891011),
		"subject", nil,
		"access_token", "abc",
	})
	require.Len(t, out, 8)

	fromString := sanitizeKVs([]interface{}{"fnr", "12345678910"})
	assert.Equal(t, fromString[1], out[1])
	assert.Equal(t, sanitizeKVs([]interface{}{"aktorid", "1234567891011"})[1], out[3])
	assert.Equal(t, "", out[5])
	assert.Equal(t, "[REDACTED]", out[7])
}

func TestSanitizeKVsDoesNotMutateInput(t *testing.T) {
	in := []interface{}{"person_ident", "12345678910"}
	_ = sanitizeKVs(in)
	assert.Equal(t, "12345678910", in[1])
}
