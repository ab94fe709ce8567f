package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/laundry-scheduler/internal/logger"
	"github.com/example/laundry-scheduler/internal/timegrid"
)

// RoomDirectory answers membership and room-policy questions. Implemented by
// the rooms repository.
type RoomDirectory interface {
	IsMember(ctx context.Context, roomID, identity string) (bool, error)
	DefaultBlockSlots(ctx context.Context, roomID string) (int, error)
}

// ReminderScheduler queues an end-of-booking notification. At most one
// reminder is pending per booking id; re-scheduling replaces it.
type ReminderScheduler interface {
	Schedule(bookingID string, firesAt time.Time, message string)
	Cancel(bookingID string)
}

// EventSink receives booking lifecycle events. Delivery is best effort and
// must never block or fail the booking operation.
type EventSink interface {
	BookingCreated(ctx context.Context, b Booking)
	BookingDeleted(ctx context.Context, b Booking)
}

// Service implements the booking operations: conflict checking, the
// washer→dryer linkage engine, and cascade deletion. Writes to a
// (room, machineType) partition are serialized by a per-partition mutex so
// the check-then-commit sequence cannot interleave.
type Service struct {
	store     Store
	rooms     RoomDirectory
	grid      *timegrid.Grid
	reminders ReminderScheduler // optional
	events    EventSink         // optional
	log       *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(store Store, rooms RoomDirectory, grid *timegrid.Grid, reminders ReminderScheduler, events EventSink) *Service {
	return &Service{
		store:     store,
		rooms:     rooms,
		grid:      grid,
		reminders: reminders,
		events:    events,
		log:       logger.New("booking"),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *Service) partition(roomID string, m MachineType) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := roomID + "/" + string(m)
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Create books the requested slot. Washer requests also commit a dryer leg
// starting two hours after the washer ends; dryer requests are standalone but
// link back to a matching washer when the owner has one.
func (s *Service) Create(ctx context.Context, roomID, ownerIdentity, ownerName string, machine MachineType, slot, dayOffset int) (CreateResult, error) {
	if !machine.Valid() {
		return CreateResult{}, fmt.Errorf("unknown machine type %q", machine)
	}
	if slot < 0 || slot >= s.grid.Slots() || dayOffset < 0 || dayOffset >= timegrid.DaysInWeek {
		return CreateResult{}, ErrSlotUnavailable
	}

	member, err := s.rooms.IsMember(ctx, roomID, ownerIdentity)
	if err != nil {
		return CreateResult{}, err
	}
	if !member {
		return CreateResult{}, ErrUnauthorized
	}

	blockSlots, err := s.rooms.DefaultBlockSlots(ctx, roomID)
	if err != nil {
		return CreateResult{}, err
	}

	start := s.grid.SlotTime(slot, dayOffset)
	end := start.Add(timegrid.BlockDuration(blockSlots))

	req := Booking{
		RoomID:        roomID,
		OwnerIdentity: ownerIdentity,
		OwnerName:     ownerName,
		Machine:       machine,
		StartTime:     start,
		EndTime:       end,
	}

	if machine == Washer {
		return s.createWasher(ctx, req, blockSlots)
	}
	return s.createDryer(ctx, req)
}

func (s *Service) createWasher(ctx context.Context, washer Booking, blockSlots int) (CreateResult, error) {
	if !s.grid.WithinOperatingHours(washer.StartTime) || s.grid.EndsInClosedGap(washer.EndTime) {
		return CreateResult{}, ErrSlotUnavailable
	}

	wLock := s.partition(washer.RoomID, Washer)
	dLock := s.partition(washer.RoomID, Dryer)
	wLock.Lock()
	defer wLock.Unlock()
	dLock.Lock()
	defer dLock.Unlock()

	free, err := s.available(ctx, washer.RoomID, Washer, washer.StartTime, washer.EndTime)
	if err != nil {
		return CreateResult{}, err
	}
	if !free {
		return CreateResult{}, ErrSlotUnavailable
	}

	dryerStart := washer.EndTime.Add(timegrid.BlockDuration(DryerDelaySlots))
	dryerEnd := dryerStart.Add(timegrid.BlockDuration(blockSlots))

	// The dryer leg is validated before anything is written: when it would
	// land in the closed gap, the washer is not committed either.
	if !s.grid.WithinOperatingHours(dryerStart) || s.grid.EndsInClosedGap(dryerEnd) {
		return CreateResult{}, ErrLinkedSlotInvalidHours
	}

	// Owner may already hold a dryer booking at the offset time; pair with it
	// instead of creating a duplicate.
	existing, err := s.findOwned(ctx, washer.RoomID, Dryer, washer.OwnerIdentity, dryerStart, matchStart)
	if err != nil {
		return CreateResult{}, err
	}
	if existing != nil {
		washer.LinkedID = existing.ID
		if err := s.store.Create(ctx, &washer); err != nil {
			if errors.Is(err, ErrConstraintViolation) {
				return CreateResult{}, ErrSlotUnavailable
			}
			return CreateResult{}, err
		}
		if err := s.store.SetLink(ctx, existing.ID, washer.ID); err != nil {
			s.log.Error("linking existing dryer %s to washer %s: %v", existing.ID, washer.ID, err)
		} else {
			existing.LinkedID = washer.ID
		}
		s.afterCreate(ctx, washer)
		return CreateResult{Outcome: OutcomeAlreadyLinked, Booking: washer, Linked: existing}, nil
	}

	free, err = s.available(ctx, washer.RoomID, Dryer, dryerStart, dryerEnd)
	if err != nil {
		return CreateResult{}, err
	}
	if !free {
		return CreateResult{}, ErrLinkedSlotUnavailable
	}

	if err := s.store.Create(ctx, &washer); err != nil {
		if errors.Is(err, ErrConstraintViolation) {
			return CreateResult{}, ErrSlotUnavailable
		}
		return CreateResult{}, err
	}

	dryer := Booking{
		RoomID:        washer.RoomID,
		OwnerIdentity: washer.OwnerIdentity,
		OwnerName:     washer.OwnerName,
		Machine:       Dryer,
		StartTime:     dryerStart,
		EndTime:       dryerEnd,
		LinkedID:      washer.ID,
	}
	if err := s.store.Create(ctx, &dryer); err != nil {
		// The washer is already committed and stays. The caller books the
		// dryer manually.
		s.log.Error("dryer leg for washer %s failed: %v", washer.ID, err)
		s.afterCreate(ctx, washer)
		return CreateResult{
			Outcome: OutcomePartialCommit,
			Booking: washer,
			Warning: "washer booked, but the dryer slot could not be reserved; book a dryer manually",
		}, nil
	}
	if err := s.store.SetLink(ctx, washer.ID, dryer.ID); err != nil {
		s.log.Error("linking washer %s to dryer %s: %v", washer.ID, dryer.ID, err)
	} else {
		washer.LinkedID = dryer.ID
	}

	s.afterCreate(ctx, washer)
	s.afterCreate(ctx, dryer)
	return CreateResult{Outcome: OutcomeCommitted, Booking: washer, Linked: &dryer}, nil
}

func (s *Service) createDryer(ctx context.Context, dryer Booking) (CreateResult, error) {
	if !s.grid.WithinOperatingHours(dryer.StartTime) {
		return CreateResult{}, ErrSlotUnavailable
	}
	if s.grid.EndsInClosedGap(dryer.EndTime) {
		return CreateResult{}, ErrLinkedSlotInvalidHours
	}

	lock := s.partition(dryer.RoomID, Dryer)
	lock.Lock()
	defer lock.Unlock()

	free, err := s.available(ctx, dryer.RoomID, Dryer, dryer.StartTime, dryer.EndTime)
	if err != nil {
		return CreateResult{}, err
	}
	if !free {
		return CreateResult{}, ErrSlotUnavailable
	}

	// A washer of the same owner ending exactly one delay before this dryer
	// starts makes the pair; record the link on both sides.
	washerEnd := dryer.StartTime.Add(-timegrid.BlockDuration(DryerDelaySlots))
	counterpart, err := s.findOwned(ctx, dryer.RoomID, Washer, dryer.OwnerIdentity, washerEnd, matchEnd)
	if err != nil {
		return CreateResult{}, err
	}
	if counterpart != nil {
		dryer.LinkedID = counterpart.ID
	}

	if err := s.store.Create(ctx, &dryer); err != nil {
		if errors.Is(err, ErrConstraintViolation) {
			return CreateResult{}, ErrSlotUnavailable
		}
		return CreateResult{}, err
	}
	if counterpart != nil {
		if err := s.store.SetLink(ctx, counterpart.ID, dryer.ID); err != nil {
			s.log.Error("linking washer %s to dryer %s: %v", counterpart.ID, dryer.ID, err)
		} else {
			counterpart.LinkedID = dryer.ID
		}
	}

	s.afterCreate(ctx, dryer)
	return CreateResult{Outcome: OutcomeCommitted, Booking: dryer, Linked: counterpart}, nil
}

// Delete removes the booking and cascades to its paired booking. Only the
// owner may delete. A failed cascade leaves a warning; the primary deletion
// stands.
func (s *Service) Delete(ctx context.Context, bookingID, requester string) (DeleteResult, error) {
	b, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return DeleteResult{}, err
	}
	if b.OwnerIdentity != requester {
		return DeleteResult{}, ErrUnauthorized
	}

	linked := s.findLinked(ctx, b)

	if err := s.store.Delete(ctx, b.ID); err != nil {
		return DeleteResult{}, err
	}
	s.afterDelete(ctx, b)
	res := DeleteResult{Removed: []Booking{b}}

	if linked != nil {
		if err := s.store.Delete(ctx, linked.ID); err != nil && !errors.Is(err, ErrNotFound) {
			s.log.Error("cascade delete of %s (paired with %s): %v", linked.ID, b.ID, err)
			res.Warning = "the paired booking could not be removed; delete it manually"
		} else {
			s.afterDelete(ctx, *linked)
			res.Removed = append(res.Removed, *linked)
		}
	}
	return res, nil
}

// ListBookings returns every booking in the room, any machine type, ordered
// by start time. The requester must be a member.
func (s *Service) ListBookings(ctx context.Context, roomID, requester string) ([]Booking, error) {
	member, err := s.rooms.IsMember(ctx, roomID, requester)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrUnauthorized
	}
	return s.store.ListByRoom(ctx, roomID)
}

// findLinked resolves the paired booking, preferring the stored reference and
// falling back to timestamp derivation for records written before links were
// persisted.
func (s *Service) findLinked(ctx context.Context, b Booking) *Booking {
	if b.LinkedID != "" {
		linked, err := s.store.Get(ctx, b.LinkedID)
		if err == nil {
			return &linked
		}
		if !errors.Is(err, ErrNotFound) {
			s.log.Error("resolving link %s of booking %s: %v", b.LinkedID, b.ID, err)
		}
		return nil
	}

	var counterpart MachineType
	var target time.Time
	var match matchField
	switch b.Machine {
	case Washer:
		counterpart, match = Dryer, matchStart
		target = b.EndTime.Add(timegrid.BlockDuration(DryerDelaySlots))
	case Dryer:
		counterpart, match = Washer, matchEnd
		target = b.StartTime.Add(-timegrid.BlockDuration(DryerDelaySlots))
	default:
		return nil
	}
	found, err := s.findOwned(ctx, b.RoomID, counterpart, b.OwnerIdentity, target, match)
	if err != nil {
		s.log.Error("deriving link for booking %s: %v", b.ID, err)
		return nil
	}
	return found
}

func (s *Service) available(ctx context.Context, roomID string, machine MachineType, start, end time.Time) (bool, error) {
	overlapping, err := s.store.ListByRoomAndType(ctx, roomID, machine, start, end)
	if err != nil {
		return false, err
	}
	return len(overlapping) == 0, nil
}

type matchField int

const (
	matchStart matchField = iota
	matchEnd
)

// findOwned looks for a booking of the given owner and machine type whose
// start (or end) time lands within LinkTolerance of target.
func (s *Service) findOwned(ctx context.Context, roomID string, machine MachineType, owner string, target time.Time, field matchField) (*Booking, error) {
	candidates, err := s.store.ListByRoomAndType(ctx, roomID, machine,
		target.Add(-2*LinkTolerance), target.Add(2*LinkTolerance))
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		c := candidates[i]
		if c.OwnerIdentity != owner {
			continue
		}
		ts := c.StartTime
		if field == matchEnd {
			ts = c.EndTime
		}
		if absDuration(ts.Sub(target)) <= LinkTolerance {
			return &c, nil
		}
	}
	return nil, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (s *Service) afterCreate(ctx context.Context, b Booking) {
	if s.reminders != nil {
		s.reminders.Schedule(b.ID, b.EndTime, fmt.Sprintf(
			"Your laundry time has ended. Please remove your items from the %s promptly.", b.Machine))
	}
	if s.events != nil {
		s.events.BookingCreated(ctx, b)
	}
}

func (s *Service) afterDelete(ctx context.Context, b Booking) {
	if s.reminders != nil {
		s.reminders.Cancel(b.ID)
	}
	if s.events != nil {
		s.events.BookingDeleted(ctx, b)
	}
}
