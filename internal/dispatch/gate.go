package dispatch

import (
	"fmt"
	"strings"
	"time"
)

// Gate decides whether new work may be claimed at a given instant.
type Gate interface {
	Allow(now time.Time) bool
}

type GateFunc func(now time.Time) bool

func (f GateFunc) Allow(now time.Time) bool { return f(now) }

// Always never refuses.
var Always Gate = GateFunc(func(time.Time) bool { return true })

// QuietHours refuses claims inside a daily local-time window [From, Until).
// A window where Until is before From wraps past midnight. Equal bounds disable it.
type QuietHours struct {
	From     time.Duration
	Until    time.Duration
	Location *time.Location
}

// ParseQuietHours reads "HH:MM" bounds. An empty from or until disables the window.
func ParseQuietHours(from, until string, loc *time.Location) (QuietHours, error) {
	if loc == nil {
		loc = time.Local
	}
	q := QuietHours{Location: loc}
	if strings.TrimSpace(from) == "" || strings.TrimSpace(until) == "" {
		return q, nil
	}
	var err error
	if q.From, err = parseClock(from); err != nil {
		return QuietHours{}, fmt.Errorf("quiet from: %w", err)
	}
	if q.Until, err = parseClock(until); err != nil {
		return QuietHours{}, fmt.Errorf("quiet until: %w", err)
	}
	return q, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (q QuietHours) Allow(now time.Time) bool {
	if q.From == q.Until {
		return true
	}
	loc := q.Location
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	y, m, d := local.Date()
	offset := local.Sub(time.Date(y, m, d, 0, 0, 0, 0, loc))
	var quiet bool
	if q.From < q.Until {
		quiet = offset >= q.From && offset < q.Until
	} else {
		quiet = offset >= q.From || offset < q.Until
	}
	return !quiet
}

func (q QuietHours) String() string {
	if q.From == q.Until {
		return "disabled"
	}
	return fmt.Sprintf("%s-%s", clock(q.From), clock(q.Until))
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
