package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuietHoursBusinessDay(t *testing.T) {
	oslo, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)
	q, err := ParseQuietHours("05:00", "18:00", oslo)
	require.NoError(t, err)
	assert.Equal(t, "05:00-18:00", q.String())

	at := func(h, m int) time.Time { return time.Date(2024, 6, 3, h, m, 0, 0, oslo) }
	assert.True(t, q.Allow(at(4, 59)))
	assert.False(t, q.Allow(at(5, 0)))
	assert.False(t, q.Allow(at(12, 0)))
	assert.False(t, q.Allow(at(17, 59)))
	assert.True(t, q.Allow(at(18, 0)))
	assert.True(t, q.Allow(at(23, 30)))

	// Evaluated in the gate's zone, not the caller's.
	assert.False(t, q.Allow(time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)))
}

func TestQuietHoursWrapsMidnight(t *testing.T) {
	q, err := ParseQuietHours("22:00", "02:00", time.UTC)
	require.NoError(t, err)
	at := func(h int) time.Time { return time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC) }
	assert.False(t, q.Allow(at(23)))
	assert.False(t, q.Allow(at(1)))
	assert.True(t, q.Allow(at(2)))
	assert.True(t, q.Allow(at(12)))
}

func TestQuietHoursDisabled(t *testing.T) {
	q, err := ParseQuietHours("", "18:00", time.UTC)
	require.NoError(t, err)
	assert.True(t, q.Allow(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "disabled", q.String())

	_, err = ParseQuietHours("25:00", "18:00", time.UTC)
	assert.Error(t, err)
}
