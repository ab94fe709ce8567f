package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/example/laundry-scheduler/internal/timegrid"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakeStore keeps bookings in memory with the same overlap semantics as the
// Postgres store.
type fakeStore struct {
	bookings map[string]Booking
	nextID   int

	// failCreateFor injects a create failure for one machine type.
	failCreateFor MachineType
	failErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{bookings: make(map[string]Booking)}
}

func (f *fakeStore) Create(_ context.Context, b *Booking) error {
	if f.failCreateFor != "" && b.Machine == f.failCreateFor {
		return f.failErr
	}
	for _, ex := range f.bookings {
		if ex.RoomID == b.RoomID && ex.Machine == b.Machine &&
			ex.StartTime.Before(b.EndTime) && ex.EndTime.After(b.StartTime) {
			return ErrConstraintViolation
		}
	}
	f.nextID++
	b.ID = fmt.Sprintf("b%d", f.nextID)
	f.bookings[b.ID] = *b
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return Booking{}, ErrNotFound
	}
	return b, nil
}

func (f *fakeStore) ListByRoom(_ context.Context, roomID string) ([]Booking, error) {
	var out []Booking
	for _, b := range f.bookings {
		if b.RoomID == roomID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (f *fakeStore) ListByRoomAndType(_ context.Context, roomID string, machine MachineType, start, end time.Time) ([]Booking, error) {
	var out []Booking
	for _, b := range f.bookings {
		if b.RoomID == roomID && b.Machine == machine &&
			b.StartTime.Before(end) && b.EndTime.After(start) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (f *fakeStore) SetLink(_ context.Context, id, linkedID string) error {
	b, ok := f.bookings[id]
	if !ok {
		return ErrNotFound
	}
	b.LinkedID = linkedID
	f.bookings[id] = b
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	if _, ok := f.bookings[id]; !ok {
		return ErrNotFound
	}
	delete(f.bookings, id)
	return nil
}

type fakeRooms struct {
	members map[string]bool
	slots   int
}

func (f *fakeRooms) IsMember(_ context.Context, _, identity string) (bool, error) {
	return f.members[identity], nil
}

func (f *fakeRooms) DefaultBlockSlots(_ context.Context, _ string) (int, error) {
	return f.slots, nil
}

type fakeReminders struct {
	scheduled map[string]time.Time
	cancelled []string
}

func newFakeReminders() *fakeReminders {
	return &fakeReminders{scheduled: make(map[string]time.Time)}
}

func (f *fakeReminders) Schedule(id string, at time.Time, _ string) { f.scheduled[id] = at }

func (f *fakeReminders) Cancel(id string) { f.cancelled = append(f.cancelled, id) }

// Wednesday 2024-06-12 UTC; week starts Sunday 2024-06-09. Operating window
// 08:00 through 03:00 the next day, 38 slots per day, 3-slot blocks.
func testHarness() (*Service, *fakeStore, *fakeReminders) {
	now := time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC)
	grid := timegrid.New(8, 27, time.UTC, fixedClock{now})
	store := newFakeStore()
	rooms := &fakeRooms{members: map[string]bool{"alice": true, "bob": true}, slots: 3}
	rem := newFakeReminders()
	return NewService(store, rooms, grid, rem, nil), store, rem
}

func at(day, hour, min int) time.Time {
	return time.Date(2024, 6, 9+day, hour, min, 0, 0, time.UTC)
}

func TestCreateWasherCommitsDryerLeg(t *testing.T) {
	svc, store, rem := testHarness()
	ctx := context.Background()

	res, err := svc.Create(ctx, "room1", "alice", "Alice", Washer, 0, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Outcome != OutcomeCommitted {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeCommitted)
	}

	// Monday slot 0: washer 08:00-09:30, dryer 11:30-13:00.
	if !res.Booking.StartTime.Equal(at(1, 8, 0)) || !res.Booking.EndTime.Equal(at(1, 9, 30)) {
		t.Errorf("washer interval = [%v, %v)", res.Booking.StartTime, res.Booking.EndTime)
	}
	if res.Linked == nil {
		t.Fatal("expected a dryer leg")
	}
	if !res.Linked.StartTime.Equal(at(1, 11, 30)) || !res.Linked.EndTime.Equal(at(1, 13, 0)) {
		t.Errorf("dryer interval = [%v, %v)", res.Linked.StartTime, res.Linked.EndTime)
	}

	if res.Booking.LinkedID != res.Linked.ID || res.Linked.LinkedID != res.Booking.ID {
		t.Errorf("link ids not cross-referenced: washer→%q dryer→%q", res.Booking.LinkedID, res.Linked.LinkedID)
	}
	stored, _ := store.Get(ctx, res.Booking.ID)
	if stored.LinkedID != res.Linked.ID {
		t.Errorf("stored washer link = %q, want %q", stored.LinkedID, res.Linked.ID)
	}

	if got := rem.scheduled[res.Booking.ID]; !got.Equal(at(1, 9, 30)) {
		t.Errorf("washer reminder at %v, want %v", got, at(1, 9, 30))
	}
	if got := rem.scheduled[res.Linked.ID]; !got.Equal(at(1, 13, 0)) {
		t.Errorf("dryer reminder at %v, want %v", got, at(1, 13, 0))
	}
}

func TestCreateRejectsOverlap(t *testing.T) {
	svc, _, _ := testHarness()
	ctx := context.Background()

	if _, err := svc.Create(ctx, "room1", "alice", "Alice", Washer, 0, 1); err != nil {
		t.Fatalf("first create: %v", err)
	}
	// Identical slot conflicts regardless of requester.
	if _, err := svc.Create(ctx, "room1", "bob", "Bob", Washer, 0, 1); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}
	// Partially overlapping slot conflicts too.
	if _, err := svc.Create(ctx, "room1", "bob", "Bob", Washer, 2, 1); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("err = %v, want ErrSlotUnavailable", err)
	}
}

func TestTouchingIntervalsDoNotConflict(t *testing.T) {
	svc, _, _ := testHarness()
	ctx := context.Background()

	// Washer A 08:00-09:30, dryer A 11:30-13:00.
	if _, err := svc.Create(ctx, "room1", "alice", "Alice", Washer, 0, 1); err != nil {
		t.Fatalf("first create: %v", err)
	}
	// Washer B 09:30-11:00 touches A's end; dryer B 13:00-14:30 touches
	// dryer A's end. Both legs must commit.
	res, err := svc.Create(ctx, "room1", "bob", "Bob", Washer, 3, 1)
	if err != nil {
		t.Fatalf("touching create: %v", err)
	}
	if res.Outcome != OutcomeCommitted {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeCommitted)
	}
}

func TestWasherRejectedWhenDryerLegEndsInClosedGap(t *testing.T) {
	svc, store, _ := testHarness()
	ctx := context.Background()

	// Slot 29 on Monday: washer 22:30-00:00, dryer leg 02:00-03:30. The
	// dryer would end past the 03:00 close, so nothing is committed.
	_, err := svc.Create(ctx, "room1", "alice", "Alice", Washer, 29, 1)
	if !errors.Is(err, ErrLinkedSlotInvalidHours) {
		t.Fatalf("err = %v, want ErrLinkedSlotInvalidHours", err)
	}
	if all, _ := store.ListByRoom(ctx, "room1"); len(all) != 0 {
		t.Fatalf("store has %d bookings, want 0", len(all))
	}
}

func TestWasherRejectedWhenDryerSlotTaken(t *testing.T) {
	svc, store, _ := testHarness()
	ctx := context.Background()

	// Bob holds the dryer 11:30-13:00 (slot 7).
	if _, err := svc.Create(ctx, "room1", "bob", "Bob", Dryer, 7, 1); err != nil {
		t.Fatalf("dryer create: %v", err)
	}
	// Alice's washer at slot 0 needs that dryer window.
	_, err := svc.Create(ctx, "room1", "alice", "Alice", Washer, 0, 1)
	if !errors.Is(err, ErrLinkedSlotUnavailable) {
		t.Fatalf("err = %v, want ErrLinkedSlotUnavailable", err)
	}
	all, _ := store.ListByRoom(ctx, "room1")
	if len(all) != 1 {
		t.Fatalf("store has %d bookings, want only bob's dryer", len(all))
	}
}

func TestWasherPairsWithOwnersExistingDryer(t *testing.T) {
	svc, store, _ := testHarness()
	ctx := context.Background()

	dryerRes, err := svc.Create(ctx, "room1", "alice", "Alice", Dryer, 7, 1)
	if err != nil {
		t.Fatalf("dryer create: %v", err)
	}
	if dryerRes.Linked != nil {
		t.Fatalf("standalone dryer should have no counterpart yet")
	}

	res, err := svc.Create(ctx, "room1", "alice", "Alice", Washer, 0, 1)
	if err != nil {
		t.Fatalf("washer create: %v", err)
	}
	if res.Outcome != OutcomeAlreadyLinked {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomeAlreadyLinked)
	}
	if res.Linked == nil || res.Linked.ID != dryerRes.Booking.ID {
		t.Fatalf("linked = %+v, want existing dryer %s", res.Linked, dryerRes.Booking.ID)
	}
	if all, _ := store.ListByRoom(ctx, "room1"); len(all) != 2 {
		t.Fatalf("store has %d bookings, want 2 (no duplicate dryer)", len(all))
	}
	dryer, _ := store.Get(ctx, dryerRes.Booking.ID)
	if dryer.LinkedID != res.Booking.ID {
		t.Errorf("dryer link = %q, want %q", dryer.LinkedID, res.Booking.ID)
	}
}

func TestDryerPairsWithOwnersEarlierWasher(t *testing.T) {
	svc, store, rem := testHarness()
	ctx := context.Background()

	// Force the automatic dryer leg to fail so alice ends up with a lone
	// washer, then book the dryer by hand.
	store.failCreateFor = Dryer
	store.failErr = errors.New("connection reset")
	res, err := svc.Create(ctx, "room1", "alice", "Alice", Washer, 0, 1)
	if err != nil {
		t.Fatalf("washer create: %v", err)
	}
	if res.Outcome != OutcomePartialCommit {
		t.Fatalf("outcome = %q, want %q", res.Outcome, OutcomePartialCommit)
	}
	if res.Warning == "" {
		t.Error("partial commit should carry a warning")
	}
	if _, ok := rem.scheduled[res.Booking.ID]; !ok {
		t.Error("washer reminder missing after partial commit")
	}

	store.failCreateFor = ""
	dryerRes, err := svc.Create(ctx, "room1", "alice", "Alice", Dryer, 7, 1)
	if err != nil {
		t.Fatalf("manual dryer create: %v", err)
	}
	if dryerRes.Linked == nil || dryerRes.Linked.ID != res.Booking.ID {
		t.Fatalf("dryer should pair with washer %s, got %+v", res.Booking.ID, dryerRes.Linked)
	}
	washer, _ := store.Get(ctx, res.Booking.ID)
	if washer.LinkedID != dryerRes.Booking.ID {
		t.Errorf("washer link = %q, want %q", washer.LinkedID, dryerRes.Booking.ID)
	}
}

func TestDeleteCascadesToPairedBooking(t *testing.T) {
	svc, store, rem := testHarness()
	ctx := context.Background()

	res, err := svc.Create(ctx, "room1", "alice", "Alice", Washer, 0, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	del, err := svc.Delete(ctx, res.Booking.ID, "alice")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(del.Removed) != 2 {
		t.Fatalf("removed %d bookings, want 2", len(del.Removed))
	}
	if all, _ := store.ListByRoom(ctx, "room1"); len(all) != 0 {
		t.Fatalf("store has %d bookings, want 0", len(all))
	}
	if len(rem.cancelled) != 2 {
		t.Errorf("cancelled %d reminders, want 2", len(rem.cancelled))
	}
}

func TestDeleteFromDryerSideCascadesToWasher(t *testing.T) {
	svc, store, _ := testHarness()
	ctx := context.Background()

	res, err := svc.Create(ctx, "room1", "alice", "Alice", Washer, 0, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	del, err := svc.Delete(ctx, res.Linked.ID, "alice")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(del.Removed) != 2 {
		t.Fatalf("removed %d bookings, want 2", len(del.Removed))
	}
	if all, _ := store.ListByRoom(ctx, "room1"); len(all) != 0 {
		t.Fatalf("store has %d bookings, want 0", len(all))
	}
}

func TestDeleteLoneWasherLeavesOthersUntouched(t *testing.T) {
	svc, store, _ := testHarness()
	ctx := context.Background()

	// Bob's dryer sits exactly where alice's dryer leg would have gone, so
	// alice ends up with a lone washer after the leg is refused.
	if _, err := svc.Create(ctx, "room1", "bob", "Bob", Dryer, 7, 1); err != nil {
		t.Fatalf("dryer create: %v", err)
	}
	washer := Booking{
		RoomID: "room1", OwnerIdentity: "alice", OwnerName: "Alice",
		Machine: Washer, StartTime: at(1, 8, 0), EndTime: at(1, 9, 30),
	}
	if err := store.Create(ctx, &washer); err != nil {
		t.Fatalf("seed washer: %v", err)
	}

	del, err := svc.Delete(ctx, washer.ID, "alice")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(del.Removed) != 1 {
		t.Fatalf("removed %d bookings, want 1", len(del.Removed))
	}
	all, _ := store.ListByRoom(ctx, "room1")
	if len(all) != 1 || all[0].OwnerIdentity != "bob" {
		t.Fatalf("bob's dryer should survive, store = %+v", all)
	}
}

func TestDeleteAuthorization(t *testing.T) {
	svc, _, _ := testHarness()
	ctx := context.Background()

	res, err := svc.Create(ctx, "room1", "alice", "Alice", Washer, 0, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Delete(ctx, res.Booking.ID, "bob"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Delete(ctx, "missing", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateRequiresMembership(t *testing.T) {
	svc, _, _ := testHarness()
	ctx := context.Background()

	if _, err := svc.Create(ctx, "room1", "mallory", "Mallory", Washer, 0, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.ListBookings(ctx, "room1", "mallory"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("list err = %v, want ErrUnauthorized", err)
	}
}

func TestCreateRejectsOutOfRangeSlot(t *testing.T) {
	svc, _, _ := testHarness()
	ctx := context.Background()

	if _, err := svc.Create(ctx, "room1", "alice", "Alice", Washer, 38, 1); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("slot 38 err = %v, want ErrSlotUnavailable", err)
	}
	if _, err := svc.Create(ctx, "room1", "alice", "Alice", Washer, 0, 7); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("day 7 err = %v, want ErrSlotUnavailable", err)
	}
	if _, err := svc.Create(ctx, "room1", "alice", "Alice", "toaster", 0, 1); err == nil {
		t.Fatal("unknown machine type accepted")
	}
}

func TestListBookingsOrdersByStart(t *testing.T) {
	svc, _, _ := testHarness()
	ctx := context.Background()

	if _, err := svc.Create(ctx, "room1", "alice", "Alice", Washer, 6, 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, "room1", "bob", "Bob", Washer, 0, 1); err != nil {
		t.Fatalf("create: %v", err)
	}

	all, err := svc.ListBookings(ctx, "room1", "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartTime.Before(all[i-1].StartTime) {
			t.Fatalf("bookings out of order at %d", i)
		}
	}
}
