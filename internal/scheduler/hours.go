package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Session is one daily trading window in minutes from midnight. Windows may
// wrap past midnight (Open > Close). An empty Days list applies the window to
// every day the instrument trades.
type Session struct {
	Open  int
	Close int
	Days  []time.Weekday
}

// ParseClock converts "HH:MM" to minutes from midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("scheduler: parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ParseWeekday converts a day name ("mon", "Monday", ...) to a time.Weekday.
func ParseWeekday(s string) (time.Weekday, error) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := wd.String()
		if strings.EqualFold(s, name) || strings.EqualFold(s, name[:3]) {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("scheduler: unknown weekday %q", s)
}

// Hours describes when an instrument is tradable.
type Hours struct {
	Sessions      []Session
	TradeWeekends bool
}

// OpenAt reports whether the instrument trades at t. Weekends close the
// market unless TradeWeekends is set; with no sessions configured the
// instrument trades around the clock on trading days.
func (h Hours) OpenAt(t time.Time) bool {
	wd := t.Weekday()
	if !h.TradeWeekends && (wd == time.Saturday || wd == time.Sunday) {
		return false
	}
	if len(h.Sessions) == 0 {
		return true
	}

	minute := t.Hour()*60 + t.Minute()
	for _, s := range h.Sessions {
		if !s.appliesOn(wd) {
			continue
		}
		if s.Open <= s.Close {
			if minute >= s.Open && minute < s.Close {
				return true
			}
		} else {
			// Overnight window, e.g. 22:00-06:00.
			if minute >= s.Open || minute < s.Close {
				return true
			}
		}
	}
	return false
}

func (s Session) appliesOn(wd time.Weekday) bool {
	if len(s.Days) == 0 {
		return true
	}
	for _, d := range s.Days {
		if d == wd {
			return true
		}
	}
	return false
}
