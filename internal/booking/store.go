package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/example/laundry-scheduler/internal/db"
)

// Store persists booking records. Primary overlap enforcement lives in the
// Service's check-then-commit under a partition lock; Create carries a
// defensive in-transaction check that only trips on a race.
type Store interface {
	// Create assigns an id and persists the booking. Returns
	// ErrConstraintViolation if an overlapping booking exists in the same
	// (room, machineType) partition.
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id string) (Booking, error)
	ListByRoom(ctx context.Context, roomID string) ([]Booking, error)
	// ListByRoomAndType returns bookings in the partition whose [start,end)
	// interval overlaps the given half-open range.
	ListByRoomAndType(ctx context.Context, roomID string, machine MachineType, start, end time.Time) ([]Booking, error)
	// SetLink records the paired-booking reference on an existing record.
	SetLink(ctx context.Context, id, linkedID string) error
	Delete(ctx context.Context, id string) error
}

type PGStore struct{ db *db.DB }

func NewPGStore(d *db.DB) *PGStore { return &PGStore{db: d} }

const bookingCols = `id, room_id, owner_identity, owner_name, machine_type, start_time, end_time, COALESCE(linked_booking_id, '')`

func scanBooking(row db.Row) (Booking, error) {
	var b Booking
	var machine string
	var startMs, endMs int64
	if err := row.Scan(&b.ID, &b.RoomID, &b.OwnerIdentity, &b.OwnerName, &machine, &startMs, &endMs, &b.LinkedID); err != nil {
		return Booking{}, err
	}
	b.Machine = MachineType(machine)
	b.StartTime = time.UnixMilli(startMs)
	b.EndTime = time.UnixMilli(endMs)
	return b, nil
}

func (s *PGStore) Create(ctx context.Context, b *Booking) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Lock any row that would overlap so concurrent creators serialize here.
	var existing string
	err = tx.QueryRow(ctx, `
SELECT id FROM bookings
WHERE room_id=$1 AND machine_type=$2 AND start_time < $4 AND end_time > $3
LIMIT 1
FOR UPDATE`,
		b.RoomID, string(b.Machine), b.StartTime.UnixMilli(), b.EndTime.UnixMilli(),
	).Scan(&existing)
	if err == nil {
		return ErrConstraintViolation
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("db: %w", err)
	}

	_, err = tx.Exec(ctx, `
INSERT INTO bookings (id, room_id, owner_identity, owner_name, machine_type, start_time, end_time, linked_booking_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''))`,
		b.ID, b.RoomID, b.OwnerIdentity, b.OwnerName, string(b.Machine),
		b.StartTime.UnixMilli(), b.EndTime.UnixMilli(), b.LinkedID,
	)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Get(ctx context.Context, id string) (Booking, error) {
	b, err := scanBooking(s.db.QueryRow(ctx,
		`SELECT `+bookingCols+` FROM bookings WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrNotFound
		}
		return Booking{}, fmt.Errorf("db: %w", err)
	}
	return b, nil
}

func (s *PGStore) ListByRoom(ctx context.Context, roomID string) ([]Booking, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+bookingCols+` FROM bookings WHERE room_id=$1 ORDER BY start_time ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (s *PGStore) ListByRoomAndType(ctx context.Context, roomID string, machine MachineType, start, end time.Time) ([]Booking, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+bookingCols+` FROM bookings
WHERE room_id=$1 AND machine_type=$2 AND start_time < $4 AND end_time > $3
ORDER BY start_time ASC`,
		roomID, string(machine), start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (s *PGStore) SetLink(ctx context.Context, id, linkedID string) error {
	if err := s.db.Exec(ctx,
		`UPDATE bookings SET linked_booking_id=NULLIF($2,'') WHERE id=$1`, id, linkedID); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	var deleted string
	err := s.db.QueryRow(ctx, `DELETE FROM bookings WHERE id=$1 RETURNING id`, id).Scan(&deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("db: %w", err)
	}
	return nil
}

func collect(rows db.Rows) ([]Booking, error) {
	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
