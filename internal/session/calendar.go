package session

import (
	"fmt"
	"time"
	_ "time/tzdata" // exchange zone available without system tzdata
)

// Session is the US equity trading session at a point in time.
type Session string

const (
	Pre     Session = "PRE"
	Regular Session = "REGULAR"
	After   Session = "AFTER"
	Closed  Session = "CLOSED"
)

// Active reports whether prices are expected to move.
func (s Session) Active() bool {
	return s == Pre || s == Regular || s == After
}

// Session boundaries in exchange-local minutes from midnight.
const (
	PreMarketOpen = 240  // 04:00
	RegularOpen   = 570  // 09:30
	RegularClose  = 960  // 16:00
	EarlyClose    = 780  // 13:00
	AfterHoursEnd = 1200 // 20:00
)

// Info is the classification of one instant.
type Info struct {
	Session      Session
	IsHoliday    bool
	IsEarlyClose bool
	IsWeekend    bool
	Date         string // YYYY-MM-DD, exchange-local
	Minute       int    // exchange-local minutes from midnight
	CloseMinute  int    // regular close for Date
}

// TradingDay reports whether the exchange opens on Info's date.
func (i Info) TradingDay() bool {
	return !i.IsWeekend && !i.IsHoliday
}

// Classifier answers which session an instant falls in.
type Classifier interface {
	Classify(t time.Time) Info
}

// Default exchange calendar exceptions.
var (
	DefaultHolidays = []string{
		"2025-01-01", "2025-01-20", "2025-02-17", "2025-04-18", "2025-05-26",
		"2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27", "2025-12-25",
		"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03", "2026-05-25",
		"2026-06-19", "2026-07-03", "2026-09-07", "2026-11-26", "2026-12-25",
		"2027-01-01", "2027-01-18", "2027-02-15", "2027-03-26", "2027-05-31",
		"2027-06-18", "2027-07-05", "2027-09-06", "2027-11-25", "2027-12-24",
		"2028-01-17", "2028-02-21", "2028-04-14", "2028-05-29",
		"2028-06-19", "2028-07-04", "2028-09-04", "2028-11-23", "2028-12-25",
	}
	DefaultEarlyCloses = []string{
		"2025-07-03", "2025-11-28", "2025-12-24",
		"2026-07-02", "2026-11-27", "2026-12-24",
		"2027-11-26", "2027-12-23",
	}
)

const dateLayout = "2006-01-02"

// Calendar classifies instants against the exchange clock, weekends and a
// static list of holidays and early closes.
type Calendar struct {
	loc         *time.Location
	holidays    map[string]struct{}
	earlyCloses map[string]struct{}
}

// NewCalendar loads tz and builds the exception sets. Empty lists fall back to
// the defaults.
func NewCalendar(tz string, holidays, earlyCloses []string) (*Calendar, error) {
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	if len(holidays) == 0 {
		holidays = DefaultHolidays
	}
	if len(earlyCloses) == 0 {
		earlyCloses = DefaultEarlyCloses
	}

	c := &Calendar{
		loc:         loc,
		holidays:    make(map[string]struct{}, len(holidays)),
		earlyCloses: make(map[string]struct{}, len(earlyCloses)),
	}
	for _, d := range holidays {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", d, err)
		}
		c.holidays[d] = struct{}{}
	}
	for _, d := range earlyCloses {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return nil, fmt.Errorf("invalid early close %q: %w", d, err)
		}
		c.earlyCloses[d] = struct{}{}
	}
	return c, nil
}

// Location returns the exchange time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

func (c *Calendar) Classify(t time.Time) Info {
	local := t.In(c.loc)
	date := local.Format(dateLayout)
	wd := local.Weekday()

	info := Info{
		Date:        date,
		Minute:      local.Hour()*60 + local.Minute(),
		IsWeekend:   wd == time.Saturday || wd == time.Sunday,
		CloseMinute: RegularClose,
	}
	_, info.IsHoliday = c.holidays[date]
	_, info.IsEarlyClose = c.earlyCloses[date]
	if info.IsEarlyClose {
		info.CloseMinute = EarlyClose
	}

	info.Session = Closed
	if !info.TradingDay() {
		return info
	}
	switch m := info.Minute; {
	case m >= PreMarketOpen && m < RegularOpen:
		info.Session = Pre
	case m >= RegularOpen && m < info.CloseMinute:
		info.Session = Regular
	case m >= info.CloseMinute && m < AfterHoursEnd:
		info.Session = After
	}
	return info
}
