package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"chat-history-agent/internal/domain"
)

// BoltStore keeps a collection of turns in a local bbolt file. Keys are the
// big-endian creation instant followed by the bucket sequence, so a cursor
// walk yields creation order.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBolt opens (or creates) the database at path.
func OpenBolt(path, collection string) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("repository: bolt path must not be empty")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("repository: collection must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("repository: create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("repository: open bolt: %w", err)
	}
	s := &BoltStore{db: db, bucket: []byte(collection)}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: create bucket: %w", err)
	}
	return s, nil
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func boltKey(ts time.Time, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

// Append stores turn under a fresh key.
func (s *BoltStore) Append(_ context.Context, turn domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	enc, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("repository: Append encode: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(boltKey(turn.CreatedAt, seq), enc)
	})
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// ReadAll returns every stored turn in creation order. Malformed values fail
// the read.
func (s *BoltStore) ReadAll(_ context.Context) ([]domain.Turn, error) {
	turns := []domain.Turn{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			var turn domain.Turn
			if err := json.Unmarshal(v, &turn); err != nil {
				return fmt.Errorf("decode %x: %w", k, err)
			}
			turns = append(turns, turn)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ReadAll: %w", err)
	}
	return turns, nil
}

// DeleteAll removes every record. Each key is deleted in its own write
// transaction; bbolt serializes them, so a failure only affects its own key.
func (s *BoltStore) DeleteAll(ctx context.Context) (int, error) {
	var keys [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("repository: DeleteAll list: %w", err)
	}

	n, err := deleteEach(keys, func(key []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(s.bucket).Delete(key)
		})
	})
	if err != nil {
		return n, fmt.Errorf("repository: DeleteAll: %w", err)
	}
	return n, nil
}
