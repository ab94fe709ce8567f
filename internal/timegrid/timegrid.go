// Package timegrid maps half-hour slot indexes within the current week to
// absolute timestamps and back, and knows where the machine room's operating
// window opens and closes.
package timegrid

import "time"

// Clock abstracts the reference clock so schedule math is testable.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

const (
	// SlotMinutes is the fixed schedulable unit.
	SlotMinutes = 30

	DaysInWeek = 7
)

// Grid anchors slot math to a week starting on Sunday in a fixed location.
// EndHour may exceed 24 to express a window that crosses midnight: the
// default 8..27 means 08:00 through 03:00 the following day.
type Grid struct {
	StartHour int
	EndHour   int
	Loc       *time.Location
	Clock     Clock
}

func New(startHour, endHour int, loc *time.Location, clock Clock) *Grid {
	if clock == nil {
		clock = RealClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Grid{StartHour: startHour, EndHour: endHour, Loc: loc, Clock: clock}
}

// Slots returns the number of schedulable slots per day.
func (g *Grid) Slots() int {
	return (g.EndHour - g.StartHour) * 2
}

// WeekStart returns midnight of the most recent Sunday.
func (g *Grid) WeekStart() time.Time {
	now := g.Clock.Now().In(g.Loc)
	return time.Date(now.Year(), now.Month(), now.Day()-int(now.Weekday()), 0, 0, 0, 0, g.Loc)
}

// SlotTime converts a (slot, dayOffset) pair to an absolute timestamp.
// Slot 0 opens at StartHour on the given day of the current week.
func (g *Grid) SlotTime(slot, dayOffset int) time.Time {
	day := g.WeekStart().AddDate(0, 0, dayOffset)
	return day.Add(time.Duration(g.StartHour*60+slot*SlotMinutes) * time.Minute)
}

// BlockDuration converts a slot count to a duration.
func BlockDuration(slots int) time.Duration {
	return time.Duration(slots*SlotMinutes) * time.Minute
}

// localMinutes returns minutes since local midnight.
func (g *Grid) localMinutes(t time.Time) int {
	t = t.In(g.Loc)
	return t.Hour()*60 + t.Minute()
}

// WithinOperatingHours reports whether t's wall-clock hour falls inside the
// operating window. Hours past midnight wrap: with 8..27 the allowed hours
// are [8,24) and [0,3).
func (g *Grid) WithinOperatingHours(t time.Time) bool {
	h := t.In(g.Loc).Hour()
	if g.EndHour > 24 {
		return h >= g.StartHour || h < g.EndHour-24
	}
	return h >= g.StartHour && h < g.EndHour
}

// EndsInClosedGap reports whether an interval ending at t would finish inside
// the closed-room gap between operating end and operating start. Ending
// exactly on either boundary is allowed.
func (g *Grid) EndsInClosedGap(t time.Time) bool {
	m := g.localMinutes(t)
	if g.EndHour > 24 {
		return m > (g.EndHour-24)*60 && m < g.StartHour*60
	}
	return m > g.EndHour*60 || m < g.StartHour*60
}
