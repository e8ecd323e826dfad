package session

import (
	"testing"
	"time"
)

func mustCalendar(t *testing.T) *Calendar {
	t.Helper()
	cal, err := NewCalendar("America/New_York", nil, nil)
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	return cal
}

// go test -v --run TestClassify
func TestClassify(t *testing.T) {
	cal := mustCalendar(t)
	at := func(date, clock string) time.Time {
		ts, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, cal.Location())
		if err != nil {
			t.Fatal(err)
		}
		return ts
	}

	tests := []struct {
		name string
		when time.Time
		want Session
	}{
		{"overnight", at("2026-10-19", "03:59"), Closed},
		{"pre-market", at("2026-10-19", "04:00"), Pre},
		{"open", at("2026-10-19", "09:30"), Regular},
		{"midday", at("2026-10-19", "12:00"), Regular},
		{"close", at("2026-10-19", "16:00"), After},
		{"after-hours end", at("2026-10-19", "20:00"), Closed},
		{"saturday", at("2026-10-17", "12:00"), Closed},
		{"holiday", at("2026-11-26", "12:00"), Closed},
		{"early close regular", at("2026-11-27", "12:59"), Regular},
		{"early close after", at("2026-11-27", "13:00"), After},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cal.Classify(tt.when).Session; got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.when, got, tt.want)
			}
		})
	}
}

// go test -v --run TestClassifyFlags
func TestClassifyFlags(t *testing.T) {
	cal := mustCalendar(t)

	// 2026-11-27 14:30 UTC is 09:30 ET
	info := cal.Classify(time.Date(2026, 11, 27, 14, 30, 0, 0, time.UTC))
	if !info.IsEarlyClose || info.CloseMinute != EarlyClose {
		t.Errorf("expected early close, got %+v", info)
	}
	if info.Minute != RegularOpen || info.Date != "2026-11-27" {
		t.Errorf("unexpected minute/date: %+v", info)
	}

	info = cal.Classify(time.Date(2026, 12, 25, 15, 0, 0, 0, time.UTC))
	if !info.IsHoliday || info.TradingDay() {
		t.Errorf("expected holiday, got %+v", info)
	}
}

// go test -v --run TestNewCalendarRejectsBadDates
func TestNewCalendarRejectsBadDates(t *testing.T) {
	if _, err := NewCalendar("America/New_York", []string{"12/25/2026"}, nil); err == nil {
		t.Error("expected error for malformed holiday")
	}
	if _, err := NewCalendar("Mars/Olympus", nil, nil); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

// go test -v --run TestDefaultCalendarDatesAreWeekdays
func TestDefaultCalendarDatesAreWeekdays(t *testing.T) {
	for _, list := range [][]string{DefaultHolidays, DefaultEarlyCloses} {
		for _, d := range list {
			day, err := time.Parse(dateLayout, d)
			if err != nil {
				t.Fatalf("bad date %s: %v", d, err)
			}
			if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
				t.Errorf("%s falls on %s", d, wd)
			}
		}
	}
}
