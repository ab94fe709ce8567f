// Package rooms manages laundry rooms and their membership roster. Members
// join with a short share code; each member carries an optional contact
// address used for reminders.
package rooms

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/example/laundry-scheduler/internal/db"
)

var (
	ErrNotFound      = errors.New("room not found")
	ErrAlreadyMember = errors.New("already a member of this room")
)

type Room struct {
	ID                string
	Name              string
	Code              string
	CreatedBy         string
	DefaultBlockSlots int
	CreatedAt         time.Time
}

type Member struct {
	RoomID         string
	Identity       string
	DisplayName    string
	ContactAddress string
	JoinedAt       time.Time
}

type Repo struct {
	db *db.DB
}

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

// codeAlphabet avoids characters that read ambiguously on a door notice.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

func newJoinCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// Create makes a new room and enrolls the creator as its first member.
func (r *Repo) Create(ctx context.Context, name, creatorIdentity, creatorName string) (Room, error) {
	code, err := newJoinCode()
	if err != nil {
		return Room{}, fmt.Errorf("join code: %w", err)
	}
	room := Room{
		ID:                uuid.NewString(),
		Name:              name,
		Code:              code,
		CreatedBy:         creatorIdentity,
		DefaultBlockSlots: 3,
		CreatedAt:         time.Now(),
	}

	if err := r.db.Exec(ctx, `
INSERT INTO rooms (id, name, code, created_by, default_block_slots, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`,
		room.ID, room.Name, room.Code, room.CreatedBy, room.DefaultBlockSlots, room.CreatedAt.UnixMilli(),
	); err != nil {
		return Room{}, fmt.Errorf("db: %w", err)
	}
	if err := r.addMember(ctx, room.ID, creatorIdentity, creatorName); err != nil {
		return Room{}, err
	}
	return room, nil
}

// Join enrolls the identity in the room identified by its share code.
func (r *Repo) Join(ctx context.Context, code, identity, displayName string) (Room, error) {
	room, err := r.getByCode(ctx, code)
	if err != nil {
		return Room{}, err
	}

	member, err := r.IsMember(ctx, room.ID, identity)
	if err != nil {
		return Room{}, err
	}
	if member {
		return Room{}, ErrAlreadyMember
	}
	if err := r.addMember(ctx, room.ID, identity, displayName); err != nil {
		return Room{}, err
	}
	return room, nil
}

func (r *Repo) addMember(ctx context.Context, roomID, identity, displayName string) error {
	if err := r.db.Exec(ctx, `
INSERT INTO room_members (room_id, identity, display_name, joined_at)
VALUES ($1,$2,$3,$4)`,
		roomID, identity, displayName, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	return nil
}

const roomCols = `id, name, code, created_by, default_block_slots, created_at`

func scanRoom(row db.Row) (Room, error) {
	var room Room
	var createdMs int64
	if err := row.Scan(&room.ID, &room.Name, &room.Code, &room.CreatedBy, &room.DefaultBlockSlots, &createdMs); err != nil {
		return Room{}, err
	}
	room.CreatedAt = time.UnixMilli(createdMs)
	return room, nil
}

func (r *Repo) Get(ctx context.Context, roomID string) (Room, error) {
	room, err := scanRoom(r.db.QueryRow(ctx,
		`SELECT `+roomCols+` FROM rooms WHERE id=$1`, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrNotFound
		}
		return Room{}, fmt.Errorf("db: %w", err)
	}
	return room, nil
}

func (r *Repo) getByCode(ctx context.Context, code string) (Room, error) {
	room, err := scanRoom(r.db.QueryRow(ctx,
		`SELECT `+roomCols+` FROM rooms WHERE code=$1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Room{}, ErrNotFound
		}
		return Room{}, fmt.Errorf("db: %w", err)
	}
	return room, nil
}

// ListForUser returns the rooms the identity belongs to.
func (r *Repo) ListForUser(ctx context.Context, identity string) ([]Room, error) {
	rows, err := r.db.Query(ctx, `
SELECT r.id, r.name, r.code, r.created_by, r.default_block_slots, r.created_at
FROM rooms r
JOIN room_members m ON m.room_id = r.id
WHERE m.identity = $1
ORDER BY r.created_at ASC`, identity)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

// Members returns the room's roster ordered by join time.
func (r *Repo) Members(ctx context.Context, roomID string) ([]Member, error) {
	rows, err := r.db.Query(ctx, `
SELECT room_id, identity, display_name, COALESCE(contact_address, ''), joined_at
FROM room_members
WHERE room_id = $1
ORDER BY joined_at ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		var joinedMs int64
		if err := rows.Scan(&m.RoomID, &m.Identity, &m.DisplayName, &m.ContactAddress, &joinedMs); err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		m.JoinedAt = time.UnixMilli(joinedMs)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repo) IsMember(ctx context.Context, roomID, identity string) (bool, error) {
	var one int
	err := r.db.QueryRow(ctx,
		`SELECT 1 FROM room_members WHERE room_id=$1 AND identity=$2`, roomID, identity).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("db: %w", err)
	}
	return true, nil
}

func (r *Repo) DefaultBlockSlots(ctx context.Context, roomID string) (int, error) {
	var slots int
	err := r.db.QueryRow(ctx,
		`SELECT default_block_slots FROM rooms WHERE id=$1`, roomID).Scan(&slots)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("db: %w", err)
	}
	return slots, nil
}

// MemberContact returns the identity's contact address in the room. Empty
// when unset.
func (r *Repo) MemberContact(ctx context.Context, roomID, identity string) (string, error) {
	var addr string
	err := r.db.QueryRow(ctx, `
SELECT COALESCE(contact_address, '') FROM room_members
WHERE room_id=$1 AND identity=$2`, roomID, identity).Scan(&addr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("db: %w", err)
	}
	return addr, nil
}

// SetContact updates the identity's contact address in every room it belongs
// to. An empty address opts the member out of reminders.
func (r *Repo) SetContact(ctx context.Context, identity, address string) error {
	if err := r.db.Exec(ctx,
		`UPDATE room_members SET contact_address = NULLIF($2, '') WHERE identity = $1`,
		identity, address); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	return nil
}
