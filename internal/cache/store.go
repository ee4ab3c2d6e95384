package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("cache object not found")

// BackendError wraps a failure of the underlying store so that callers can
// tell it apart from a plain miss.
type BackendError struct {
	Op  string
	Key string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func backendErr(op, key string, err error) error {
	return &BackendError{Op: op, Key: key, Err: err}
}

// Store is the minimal surface the HTTP layer needs. Set is unconditional;
// write-once is enforced by callers.
type Store interface {
	// Exists reports whether key is present. Backend failures are reported
	// as false.
	Exists(ctx context.Context, key string) bool
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores body under key. A ttl <= 0 stores without expiration.
	Set(ctx context.Context, key string, body []byte, ttl time.Duration) error
}

// ConditionalStore is implemented by stores that can write a key only if it
// is absent in a single step.
type ConditionalStore interface {
	Store
	SetIfAbsent(ctx context.Context, key string, body []byte, ttl time.Duration) (bool, error)
}
