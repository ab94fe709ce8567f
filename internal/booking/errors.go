package booking

import "errors"

var (
	// ErrSlotUnavailable: the requested interval conflicts with an existing
	// booking or falls outside operating hours. Pick another slot.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrLinkedSlotUnavailable: the washer slot is free but the paired dryer
	// interval two hours after it is taken.
	ErrLinkedSlotUnavailable = errors.New("linked dryer slot unavailable")

	// ErrLinkedSlotInvalidHours: the dryer interval would end inside the
	// closed-room gap between operating end and operating start.
	ErrLinkedSlotInvalidHours = errors.New("dryer slot ends outside operating hours")

	// ErrUnauthorized: requester is not the booking owner, or not a member
	// of the room.
	ErrUnauthorized = errors.New("unauthorized")

	ErrNotFound = errors.New("booking not found")

	// ErrConstraintViolation: the store's defensive overlap check tripped.
	// Only reachable when two requests race past the conflict checker.
	ErrConstraintViolation = errors.New("overlapping booking already exists")
)
