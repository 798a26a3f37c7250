// Package market covers US equity session timing and the index overview.
package market

import (
	"fmt"
	"time"
)

// Schedule is the regular NYSE/NASDAQ session in Eastern Time
type Schedule struct {
	OpenHour  int
	OpenMin   int
	CloseHour int
	CloseMin  int
}

// DefaultSchedule is 9:30 to 16:00 ET
func DefaultSchedule() Schedule {
	return Schedule{
		OpenHour:  9,
		OpenMin:   30,
		CloseHour: 16,
		CloseMin:  0,
	}
}

// Status is a snapshot of the session state
type Status struct {
	IsOpen        bool          `json:"isOpen"`
	CurrentTimeET time.Time     `json:"currentTimeET"`
	OpenTime      time.Time     `json:"openTime"`
	CloseTime     time.Time     `json:"closeTime"`
	TimeToOpen    time.Duration `json:"timeToOpen,omitempty"`
	TimeToClose   time.Duration `json:"timeToClose,omitempty"`
	Progress      float64       `json:"progress"`
	Reason        string        `json:"reason"` // open, weekend, holiday, pre-market, after-hours
}

// Session answers timing questions against an injectable clock
type Session struct {
	schedule Schedule
	now      func() time.Time
	loc      *time.Location
}

// NewSession creates a session on the wall clock
func NewSession() *Session {
	return NewSessionWithClock(time.Now)
}

// NewSessionWithClock creates a session reading time from now
func NewSessionWithClock(now func() time.Time) *Session {
	return &Session{
		schedule: DefaultSchedule(),
		now:      now,
		loc:      ETLocation(),
	}
}

// ETLocation returns US Eastern Time
func ETLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// no tzdata; assume EST
		loc = time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// Status reports the current session state
func (s *Session) Status() Status {
	now := s.now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	status := Status{
		CurrentTimeET: now,
		OpenTime:      s.openOn(today),
		CloseTime:     today.Add(time.Duration(s.schedule.CloseHour)*time.Hour + time.Duration(s.schedule.CloseMin)*time.Minute),
	}

	switch {
	case isWeekend(now):
		status.Reason = "weekend"
		status.Progress = 1
		status.TimeToOpen = s.nextOpen(today).Sub(now)
	case IsUSHoliday(now):
		status.Reason = "holiday"
		status.Progress = 1
		status.TimeToOpen = s.nextOpen(today).Sub(now)
	case now.Before(status.OpenTime):
		status.Reason = "pre-market"
		status.Progress = 0
		status.TimeToOpen = status.OpenTime.Sub(now)
	case !now.Before(status.CloseTime):
		status.Reason = "after-hours"
		status.Progress = 1
		status.TimeToOpen = s.nextOpen(today).Sub(now)
	default:
		status.IsOpen = true
		status.Reason = "open"
		status.TimeToClose = status.CloseTime.Sub(now)
		total := status.CloseTime.Sub(status.OpenTime).Seconds()
		status.Progress = now.Sub(status.OpenTime).Seconds() / total
	}

	return status
}

// Progress is the fraction of the regular session elapsed: 0 before the
// open, 1 after the close and on days the market does not trade.
func (s *Session) Progress() float64 {
	return s.Status().Progress
}

// IsOpen reports whether the regular session is running
func (s *Session) IsOpen() bool {
	return s.Status().IsOpen
}

func (s *Session) openOn(day time.Time) time.Time {
	return day.Add(time.Duration(s.schedule.OpenHour)*time.Hour + time.Duration(s.schedule.OpenMin)*time.Minute)
}

// nextOpen finds the next trading day's open after day
func (s *Session) nextOpen(day time.Time) time.Time {
	next := day.AddDate(0, 0, 1)
	for isWeekend(next) || IsUSHoliday(next) {
		next = next.AddDate(0, 0, 1)
	}
	return s.openOn(next)
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// FormatDuration renders d as "2h 5m" or "5m"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// Full-day NYSE closures, observed dates
var usHolidays = map[string]bool{
	"2025-01-01": true, // New Year's Day
	"2025-01-20": true, // MLK Day
	"2025-02-17": true, // Presidents Day
	"2025-04-18": true, // Good Friday
	"2025-05-26": true, // Memorial Day
	"2025-06-19": true, // Juneteenth
	"2025-07-04": true, // Independence Day
	"2025-09-01": true, // Labor Day
	"2025-11-27": true, // Thanksgiving
	"2025-12-25": true, // Christmas

	"2026-01-01": true,
	"2026-01-19": true,
	"2026-02-16": true,
	"2026-04-03": true,
	"2026-05-25": true,
	"2026-06-19": true,
	"2026-07-03": true, // Independence Day (observed)
	"2026-09-07": true,
	"2026-11-26": true,
	"2026-12-25": true,

	"2027-01-01": true,
	"2027-01-18": true,
	"2027-02-15": true,
	"2027-03-26": true,
	"2027-05-31": true,
	"2027-06-18": true, // Juneteenth (observed)
	"2027-07-05": true, // Independence Day (observed)
	"2027-09-06": true,
	"2027-11-25": true,
	"2027-12-24": true, // Christmas (observed)
}

// IsUSHoliday reports whether t falls on a listed market holiday
func IsUSHoliday(t time.Time) bool {
	return usHolidays[t.Format("2006-01-02")]
}
