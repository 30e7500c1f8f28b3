package auth

import "context"

// Storage keys owned by the auth core. The storage adapter namespaces them.
const (
	KeyAccessToken    = "access_token"
	KeyLastProviderID = "last_provider_id"
	KeyLastState      = "last_state"
)

// Storage is an async, string-valued key/value store scoped to the auth
// namespace. GetItem reports absence with ok == false rather than an error.
type Storage interface {
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error

	// Clear removes every key in the auth namespace and nothing else.
	Clear(ctx context.Context) error
}
