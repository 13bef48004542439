// Package featured keeps the homepage's featured product list in Redis as a
// JSON blob mirrored to a backup key.
package featured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	PrimaryKey = "featured:products"
	BackupKey  = "featured:products:backup"
	MaxItems   = 12
)

var (
	ErrNotConfigured = errors.New("featured products not configured")
	ErrTooMany       = fmt.Errorf("at most %d featured products", MaxItems)
	ErrEmptyID       = errors.New("featured product id is empty")

	errMissingIDs = errors.New("productIds missing")
)

// List is the stored blob.
type List struct {
	ProductIDs []string  `json:"productIds"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Store struct {
	client *redis.Client
	now    func() time.Time
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

// Get returns the primary list, the backup when the primary is missing or
// unreadable, and ErrNotConfigured when neither exists.
func (s *Store) Get(ctx context.Context) (List, error) {
	list, err := s.read(ctx, PrimaryKey)
	if err == nil {
		return list, nil
	}
	if !errors.Is(err, redis.Nil) && !isDecodeError(err) {
		return List{}, err
	}
	list, err = s.read(ctx, BackupKey)
	if err == nil {
		return list, nil
	}
	if errors.Is(err, redis.Nil) || isDecodeError(err) {
		return List{}, ErrNotConfigured
	}
	return List{}, err
}

// Set replaces the featured list after copying the current primary to the backup key.
func (s *Store) Set(ctx context.Context, ids []string) (List, error) {
	cleaned, err := clean(ids)
	if err != nil {
		return List{}, err
	}

	current, err := s.client.Get(ctx, PrimaryKey).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return List{}, fmt.Errorf("read featured products: %w", err)
	}

	list := List{ProductIDs: cleaned, UpdatedAt: s.now().UTC()}
	payload, err := json.Marshal(list)
	if err != nil {
		return List{}, fmt.Errorf("encode featured products: %w", err)
	}

	pipe := s.client.TxPipeline()
	if _, err := decodeList(current); err == nil {
		pipe.Set(ctx, BackupKey, current, 0)
	}
	pipe.Set(ctx, PrimaryKey, payload, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return List{}, fmt.Errorf("write featured products: %w", err)
	}
	return list, nil
}

func (s *Store) read(ctx context.Context, key string) (List, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return List{}, err
		}
		return List{}, fmt.Errorf("read %s: %w", key, err)
	}
	list, err := decodeList(raw)
	if err != nil {
		return List{}, &decodeError{key: key, err: err}
	}
	return list, nil
}

// decodeList accepts only a blob carrying a productIds array.
func decodeList(raw []byte) (List, error) {
	var list List
	if err := json.Unmarshal(raw, &list); err != nil {
		return List{}, err
	}
	if list.ProductIDs == nil {
		return List{}, errMissingIDs
	}
	return list, nil
}

type decodeError struct {
	key string
	err error
}

func (e *decodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.key, e.err) }
func (e *decodeError) Unwrap() error { return e.err }

func isDecodeError(err error) bool {
	var de *decodeError
	return errors.As(err, &de)
}

func clean(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, ErrEmptyID
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) > MaxItems {
		return nil, ErrTooMany
	}
	return out, nil
}
