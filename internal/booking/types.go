// Package booking holds the booking domain: machine-type partitions, the
// conflict rules over half-open time intervals, and the washer→dryer linkage
// engine that pairs a wash with its follow-on dry cycle.
package booking

import "time"

type MachineType string

const (
	Washer MachineType = "washer"
	Dryer  MachineType = "dryer"
)

func (m MachineType) Valid() bool { return m == Washer || m == Dryer }

// DryerDelaySlots is the fixed gap between a washer booking's end and its
// paired dryer booking's start: 4 half-hour slots, i.e. two hours. Not
// configurable per booking.
const DryerDelaySlots = 4

// LinkTolerance absorbs rounding when matching derived link timestamps.
const LinkTolerance = time.Second

// Booking is immutable once created; there is no edit operation.
type Booking struct {
	ID            string
	RoomID        string
	OwnerIdentity string
	OwnerName     string
	Machine       MachineType
	StartTime     time.Time
	EndTime       time.Time

	// LinkedID references the paired booking when the washer↔dryer link is
	// known. Empty for unpaired bookings.
	LinkedID string
}

type Outcome string

const (
	// OutcomeCommitted: primary booking created; for washer requests the
	// dryer leg was created too.
	OutcomeCommitted Outcome = "committed"
	// OutcomeAlreadyLinked: washer created and paired with a dryer booking
	// the owner already held at the offset time; no new dryer record.
	OutcomeAlreadyLinked Outcome = "already_linked"
	// OutcomePartialCommit: washer committed but the dryer leg failed. The
	// washer stays; the caller books the dryer manually.
	OutcomePartialCommit Outcome = "partial_commit"
)

type CreateResult struct {
	Outcome Outcome
	Booking Booking
	// Linked is the dryer leg (created or pre-existing) for washer requests,
	// or the advisory counterpart washer for direct dryer requests.
	Linked  *Booking
	Warning string
}

type DeleteResult struct {
	Removed []Booking
	Warning string
}
