package cache

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

const defaultBoltBucket = "blobs"

// BoltStore is a single-file store for single-node deployments.
// Values are laid out as an 8 byte big endian expiry (unix seconds, 0 for
// none) followed by the raw body.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
	logger zerolog.Logger
	now    func() time.Time
}

func OpenBoltStore(path string, logger zerolog.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	bucket := []byte(defaultBoltBucket)
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{
		db:     db,
		bucket: bucket,
		logger: logger.With().Str("component", "BoltStore").Logger(),
		now:    time.Now,
	}, nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) Exists(ctx context.Context, key string) bool {
	var present bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		present = v != nil && !s.expired(v)
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("exists check failed, treating key as absent")
		return false
	}
	return present
}

func (s *BoltStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get([]byte(key))
		if v == nil || s.expired(v) {
			return nil
		}
		found = true
		out = append([]byte{}, v[8:]...)
		return nil
	})
	if err != nil {
		return nil, backendErr("get", key, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *BoltStore) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	buf := s.encode(body, ttl)
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), buf)
	})
	if err != nil {
		return backendErr("put", key, err)
	}
	return nil
}

// SetIfAbsent checks and writes inside one update transaction. Expired
// entries count as absent and are replaced.
func (s *BoltStore) SetIfAbsent(ctx context.Context, key string, body []byte, ttl time.Duration) (bool, error) {
	buf := s.encode(body, ttl)
	var stored bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if v := b.Get([]byte(key)); v != nil && !s.expired(v) {
			return nil
		}
		stored = true
		return b.Put([]byte(key), buf)
	})
	if err != nil {
		return false, backendErr("put", key, err)
	}
	return stored, nil
}

func (s *BoltStore) encode(body []byte, ttl time.Duration) []byte {
	expiresAt := int64(0)
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).Unix()
	}
	buf := make([]byte, 8+len(body))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt))
	copy(buf[8:], body)
	return buf
}

func (s *BoltStore) expired(v []byte) bool {
	if len(v) < 8 {
		return true
	}
	expiresAt := int64(binary.BigEndian.Uint64(v[:8]))
	return expiresAt > 0 && s.now().Unix() >= expiresAt
}
