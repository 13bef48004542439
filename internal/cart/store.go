// Package cart stores shopping carts in Redis hashes keyed by an opaque cart ID.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	MaxPerLine = 10
	DefaultTTL = 30 * 24 * time.Hour
)

var ErrInvalidQuantity = errors.New("invalid quantity")

// Line increments run server-side so concurrent adds for one cart never lose quantity.
var (
	addScript = redis.NewScript(`
local qty = redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
local limit = tonumber(ARGV[3])
if qty > limit then
	redis.call('HSET', KEYS[1], ARGV[1], limit)
	qty = limit
end
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return qty
`)

	mergeScript = redis.NewScript(`
local lines = redis.call('HGETALL', KEYS[1])
if #lines == 0 then
	return 0
end
local limit = tonumber(ARGV[1])
for i = 1, #lines, 2 do
	local add = tonumber(lines[i + 1])
	if add and add > 0 then
		local qty = redis.call('HINCRBY', KEYS[2], lines[i], add)
		if qty > limit then
			redis.call('HSET', KEYS[2], lines[i], limit)
		end
	end
end
redis.call('PEXPIRE', KEYS[2], ARGV[2])
redis.call('DEL', KEYS[1])
return #lines / 2
`)
)

// Line is one product and its quantity in a cart.
type Line struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client, prefix: "cart:", ttl: DefaultTTL}
}

const guestPrefix = "guest-"

// NewID returns a fresh guest cart identifier for the cart cookie.
func NewID() string {
	return guestPrefix + uuid.NewString()
}

// IsGuestID reports whether id has the shape NewID produces. Cookie values
// failing this check never address a cart.
func IsGuestID(id string) bool {
	rest, ok := strings.CutPrefix(id, guestPrefix)
	if !ok || len(rest) != 36 {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

func (s *Store) key(cartID string) string {
	return s.prefix + cartID
}

// Get returns the cart's lines ordered by product ID. A missing cart is empty.
func (s *Store) Get(ctx context.Context, cartID string) ([]Line, error) {
	values, err := s.client.HGetAll(ctx, s.key(cartID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	lines := make([]Line, 0, len(values))
	for productID, raw := range values {
		qty, err := strconv.Atoi(raw)
		if err != nil || qty <= 0 {
			continue
		}
		lines = append(lines, Line{ProductID: productID, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

// Add merges qty into the product's line, capped at MaxPerLine, and returns the new quantity.
func (s *Store) Add(ctx context.Context, cartID, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, ErrInvalidQuantity
	}
	next, err := addScript.Run(ctx, s.client, []string{s.key(cartID)},
		productID, qty, MaxPerLine, s.ttl.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("add cart line: %w", err)
	}
	return next, nil
}

// Update sets the product's quantity. Zero removes the line.
func (s *Store) Update(ctx context.Context, cartID, productID string, qty int) (int, error) {
	if qty < 0 {
		return 0, ErrInvalidQuantity
	}
	if qty == 0 {
		return 0, s.Remove(ctx, cartID, productID)
	}
	next := capQuantity(qty)
	if err := s.write(ctx, cartID, productID, next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) Remove(ctx context.Context, cartID, productID string) error {
	if err := s.client.HDel(ctx, s.key(cartID), productID).Err(); err != nil {
		return fmt.Errorf("remove cart line: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, cartID string) error {
	if err := s.client.Del(ctx, s.key(cartID)).Err(); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// Merge folds the lines of cart from into cart to and deletes from.
func (s *Store) Merge(ctx context.Context, from, to string) error {
	if from == "" || from == to {
		return nil
	}
	err := mergeScript.Run(ctx, s.client, []string{s.key(from), s.key(to)},
		MaxPerLine, s.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("merge carts: %w", err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, cartID, productID string, qty int) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(cartID), productID, qty)
	pipe.Expire(ctx, s.key(cartID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write cart line: %w", err)
	}
	return nil
}

func capQuantity(qty int) int {
	if qty > MaxPerLine {
		return MaxPerLine
	}
	if qty < 0 {
		return 0
	}
	return qty
}
