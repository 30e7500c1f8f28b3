// Package hash hashes and verifies the dev session server's user passwords.
package hash

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrHasherNotFound = errors.New("hasher not found")
	ErrUnknownFormat  = errors.New("unrecognized password hash format")
)

type Method string

const (
	Bcrypt   Method = "bcrypt"
	Argon2ID Method = "argon2id"
)

// Hasher performs one-way password hashing and verification.
type Hasher interface {
	Hash(password string) (string, error)
	Check(password, hash string) (bool, error)
}

// Manager hashes with a default Method and verifies any hash whose format it
// recognizes, so stored hashes survive a change of default.
type Manager struct {
	mu            sync.RWMutex
	hashers       map[Method]Hasher
	defaultMethod Method
}

// New returns a Manager with the built-in hashers and def as the default.
// An empty def selects Argon2ID.
func New(def Method) (*Manager, error) {
	m := &Manager{
		hashers: map[Method]Hasher{
			Bcrypt:   BcryptHasher{},
			Argon2ID: Argon2IDHasher{},
		},
		defaultMethod: Argon2ID,
	}
	if def != "" {
		if err := m.SetDefault(def); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) Default() Method {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultMethod
}

// Hash hashes password with the default Method.
func (m *Manager) Hash(password string) (string, error) {
	h, err := m.Hasher(m.Default())
	if err != nil {
		return "", err
	}
	return h.Hash(password)
}

// Check verifies password against hash using the Method identified from the
// hash itself, falling back to the default for formats Identify cannot tell.
func (m *Manager) Check(password, hash string) (bool, error) {
	method, err := Identify(hash)
	if err != nil {
		method = m.Default()
	}

	h, err := m.Hasher(method)
	if err != nil {
		return false, err
	}
	return h.Check(password, hash)
}

func (m *Manager) Hasher(mt Method) (Hasher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if hasher, ok := m.hashers[mt]; ok {
		return hasher, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrHasherNotFound, mt)
}

// Extend registers hasher under mt, replacing any existing one.
func (m *Manager) Extend(mt Method, hasher Hasher) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hashers[mt] = hasher
}

// SetDefault changes the Method used by Hash.
func (m *Manager) SetDefault(mt Method) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.hashers[mt]; !ok {
		return fmt.Errorf("%w: %s", ErrHasherNotFound, mt)
	}

	m.defaultMethod = mt
	return nil
}

// Identify reports which built-in Method produced hash.
func Identify(hash string) (Method, error) {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return Argon2ID, nil
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return Bcrypt, nil
	default:
		return "", ErrUnknownFormat
	}
}
