package cart

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client), mr
}

func TestAddMergesAndCaps(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	qty, err := s.Add(ctx, "c1", "prd_a", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, qty)

	qty, err = s.Add(ctx, "c1", "prd_a", 9)
	require.NoError(t, err)
	assert.Equal(t, MaxPerLine, qty)

	_, err = s.Add(ctx, "c1", "prd_a", 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	assert.Equal(t, DefaultTTL, mr.TTL("cart:c1"))
}

func TestUpdateAndRemove(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "c1", "prd_a", 1)
	require.NoError(t, err)
	_, err = s.Add(ctx, "c1", "prd_b", 2)
	require.NoError(t, err)

	qty, err := s.Update(ctx, "c1", "prd_a", 25)
	require.NoError(t, err)
	assert.Equal(t, MaxPerLine, qty)

	_, err = s.Update(ctx, "c1", "prd_b", 0)
	require.NoError(t, err)

	_, err = s.Update(ctx, "c1", "prd_a", -1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	lines, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []Line{{ProductID: "prd_a", Quantity: MaxPerLine}}, lines)

	require.NoError(t, s.Remove(ctx, "c1", "prd_a"))
	lines, err = s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestGetMissingCartIsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	lines, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestMergeSumsAndDeletesGuestCart(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, _ = s.Add(ctx, "guest", "prd_a", 4)
	_, _ = s.Add(ctx, "guest", "prd_b", 1)
	_, _ = s.Add(ctx, "user", "prd_a", 8)

	require.NoError(t, s.Merge(ctx, "guest", "user"))

	lines, err := s.Get(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, []Line{{ProductID: "prd_a", Quantity: MaxPerLine}, {ProductID: "prd_b", Quantity: 1}}, lines)
	assert.False(t, mr.Exists("cart:guest"))
}

func TestClear(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Add(ctx, "c1", "prd_a", 1)

	require.NoError(t, s.Clear(ctx, "c1"))
	assert.False(t, mr.Exists("cart:c1"))
}

func TestConcurrentAddsKeepEveryUnit(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Add(ctx, "c1", "prd_a", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lines, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []Line{{ProductID: "prd_a", Quantity: 8}}, lines)
	assert.Equal(t, DefaultTTL, mr.TTL("cart:c1"))
}

func TestConcurrentAddsStopAtCap(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			qty, err := s.Add(ctx, "c1", "prd_a", 3)
			assert.NoError(t, err)
			assert.LessOrEqual(t, qty, MaxPerLine)
		}()
	}
	wg.Wait()

	lines, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []Line{{ProductID: "prd_a", Quantity: MaxPerLine}}, lines)
}

func TestMergeKeepsConcurrentAddsToTarget(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "guest", "prd_a", 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Merge(ctx, "guest", "user"))
	}()
	go func() {
		defer wg.Done()
		_, err := s.Add(ctx, "user", "prd_a", 3)
		assert.NoError(t, err)
	}()
	wg.Wait()

	lines, err := s.Get(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, []Line{{ProductID: "prd_a", Quantity: 5}}, lines)
	assert.False(t, mr.Exists("cart:guest"))
	assert.Equal(t, DefaultTTL, mr.TTL("cart:user"))
}

func TestMergeEmptyGuestLeavesTargetAlone(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "user", "prd_a", 1)
	require.NoError(t, err)
	require.NoError(t, s.Merge(ctx, "missing", "user"))

	lines, err := s.Get(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, []Line{{ProductID: "prd_a", Quantity: 1}}, lines)
}

func TestIsGuestID(t *testing.T) {
	assert.True(t, IsGuestID(NewID()))
	for _, id := range []string{"", "user-42", "guest-", "guest-1", "9b2f6a4e-3c1d-4f7a-8e5b-2d9c0a1b3e4f", "guest-{9b2f6a4e-3c1d-4f7a-8e5b-2d9c0a1b3e}"} {
		assert.False(t, IsGuestID(id), id)
	}
}
