package hash

import (
	"errors"
	"fmt"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

// BcryptHasher uses Cost, or bcrypt.DefaultCost when zero.
type BcryptHasher struct {
	Cost int
}

var _ Hasher = BcryptHasher{}

func (b BcryptHasher) Hash(password string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(out), nil
}

func (BcryptHasher) Check(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("bcrypt compare password hash: %w", err)
	}
	return true, nil
}

// Argon2IDHasher uses Params, or argon2id.DefaultParams when nil.
type Argon2IDHasher struct {
	Params *argon2id.Params
}

var _ Hasher = Argon2IDHasher{}

func (a Argon2IDHasher) Hash(password string) (string, error) {
	params := a.Params
	if params == nil {
		params = argon2id.DefaultParams
	}
	s, err := argon2id.CreateHash(password, params)
	if err != nil {
		return "", fmt.Errorf("argon hash password: %w", err)
	}
	return s, nil
}

func (Argon2IDHasher) Check(password, hash string) (bool, error) {
	ok, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("argon compare password hash: %w", err)
	}
	return ok, nil
}
