package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gelozr/authflow/auth"
	"github.com/gelozr/authflow/storage"
)

const (
	userKeyPrefix  = "devserver_user_"
	emailKeyPrefix = "devserver_email_"
)

var ErrUserNotFound = errors.New("user not found")

type UserRecord struct {
	ID           string `json:"uuid"`
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
	PasswordHash string `json:"password_hash,omitempty"`
}

func (u UserRecord) Public() auth.User {
	return auth.User{ID: u.ID, Email: u.Email, Name: u.Name}
}

// Users keeps user records as JSON in a storage.Backend, indexed by id and
// by lower-cased email.
type Users struct {
	mu      sync.Mutex
	backend storage.Backend
}

func NewUsers(backend storage.Backend) *Users {
	return &Users{backend: backend}
}

func (u *Users) Get(ctx context.Context, id string) (UserRecord, error) {
	raw, ok, err := u.backend.Get(ctx, userKeyPrefix+id)
	if err != nil {
		return UserRecord{}, fmt.Errorf("get user %s: %w", id, err)
	}
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}

	var rec UserRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return UserRecord{}, fmt.Errorf("decode user %s: %w", id, err)
	}
	return rec, nil
}

func (u *Users) FindByEmail(ctx context.Context, email string) (UserRecord, error) {
	id, ok, err := u.backend.Get(ctx, emailKey(email))
	if err != nil {
		return UserRecord{}, fmt.Errorf("find user by email: %w", err)
	}
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u.Get(ctx, id)
}

// FindOrCreate returns the user owning email, creating it when absent. An
// empty email always creates a fresh user.
func (u *Users) FindOrCreate(ctx context.Context, email string) (UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if email != "" {
		rec, err := u.FindByEmail(ctx, email)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return UserRecord{}, err
		}
	}

	return u.insert(ctx, UserRecord{ID: uuid.NewString(), Email: email})
}

// Put creates or replaces the user with rec.Email, keeping its id.
func (u *Users) Put(ctx context.Context, rec UserRecord) (UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if rec.Email != "" {
		existing, err := u.FindByEmail(ctx, rec.Email)
		switch {
		case err == nil:
			rec.ID = existing.ID
		case !errors.Is(err, ErrUserNotFound):
			return UserRecord{}, err
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return u.insert(ctx, rec)
}

func (u *Users) insert(ctx context.Context, rec UserRecord) (UserRecord, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return UserRecord{}, fmt.Errorf("encode user: %w", err)
	}
	if err := u.backend.Set(ctx, userKeyPrefix+rec.ID, string(raw)); err != nil {
		return UserRecord{}, fmt.Errorf("store user %s: %w", rec.ID, err)
	}
	if rec.Email != "" {
		if err := u.backend.Set(ctx, emailKey(rec.Email), rec.ID); err != nil {
			return UserRecord{}, fmt.Errorf("index user email: %w", err)
		}
	}
	return rec, nil
}

func emailKey(email string) string {
	return emailKeyPrefix + strings.ToLower(strings.TrimSpace(email))
}
