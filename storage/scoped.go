package storage

import (
	"context"
	"fmt"
)

// Scoped exposes a Backend under a fixed key prefix. Keys outside the prefix
// are neither visible nor touched, including by Clear.
type Scoped struct {
	backend Backend
	prefix  string
}

func NewScoped(backend Backend, prefix string) *Scoped {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Scoped{backend: backend, prefix: prefix}
}

func (s *Scoped) GetItem(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.backend.Get(ctx, s.key(key))
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, ok, nil
}

func (s *Scoped) SetItem(ctx context.Context, key, value string) error {
	if err := s.backend.Set(ctx, s.key(key), value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Scoped) RemoveItem(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, s.key(key)); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *Scoped) Clear(ctx context.Context) error {
	if err := s.backend.DeletePrefix(ctx, s.prefix); err != nil {
		return fmt.Errorf("clear %s*: %w", s.prefix, err)
	}
	return nil
}

func (s *Scoped) Prefix() string {
	return s.prefix
}

func (s *Scoped) key(k string) string {
	return s.prefix + k
}
