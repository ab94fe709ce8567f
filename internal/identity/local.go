package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/laundry-scheduler/internal/db"
)

var ErrBadCredentials = errors.New("invalid username or password")

// LocalStore holds username/password accounts for installations that run
// without an upstream identity provider.
type LocalStore struct {
	db *db.DB
}

func NewLocalStore(d *db.DB) *LocalStore { return &LocalStore{db: d} }

func (s *LocalStore) CreateUser(ctx context.Context, username, password, displayName string) (Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Identity{}, fmt.Errorf("hashing password: %w", err)
	}
	if displayName == "" {
		displayName = username
	}
	id := uuid.NewString()
	if err := s.db.Exec(ctx, `
INSERT INTO users (id, username, password_bcrypt, display_name, created_at)
VALUES ($1,$2,$3,$4,$5)`,
		id, username, string(hash), displayName, time.Now().UnixMilli(),
	); err != nil {
		return Identity{}, fmt.Errorf("db: %w", err)
	}
	return Identity{UserID: id, DisplayName: displayName}, nil
}

// Verify checks the password and returns the account's identity. Wrong
// username and wrong password are indistinguishable to the caller.
func (s *LocalStore) Verify(ctx context.Context, username, password string) (Identity, error) {
	var id, hash, displayName string
	err := s.db.QueryRow(ctx,
		`SELECT id, password_bcrypt, display_name FROM users WHERE username=$1`, username,
	).Scan(&id, &hash, &displayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrBadCredentials
		}
		return Identity{}, fmt.Errorf("db: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return Identity{}, ErrBadCredentials
	}
	return Identity{UserID: id, DisplayName: displayName}, nil
}
