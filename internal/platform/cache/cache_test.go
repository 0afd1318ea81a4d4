package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type level struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestFetchJSONCachesUntilInvalidated(t *testing.T) {
	mr, client := newClient(t)
	c := NewJSONCache(client, time.Minute)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return []level{{Product: "MILK", Quantity: 19 + calls}}, nil
	}

	var got []level
	require.NoError(t, c.FetchJSON(ctx, "stock:summary:PHYSICAL", &got, loader))
	require.NoError(t, c.FetchJSON(ctx, "stock:summary:PHYSICAL", &got, loader))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 20, got[0].Quantity)
	assert.True(t, mr.Exists("stock:summary:PHYSICAL"))

	require.NoError(t, c.Invalidate(ctx, "stock:summary:PHYSICAL"))
	require.NoError(t, c.FetchJSON(ctx, "stock:summary:PHYSICAL", &got, loader))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 21, got[0].Quantity)

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("stock:summary:PHYSICAL"))
}

func TestFetchJSONWithoutClientCallsLoader(t *testing.T) {
	c := NewJSONCache(nil, time.Minute)
	var got level
	err := c.FetchJSON(context.Background(), "k", &got, func(context.Context) (any, error) {
		return level{Product: "BREAD", Quantity: 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "BREAD", got.Product)

	boom := errors.New("boom")
	err = c.FetchJSON(context.Background(), "k", &got, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, c.Invalidate(context.Background(), "k"))
}

func TestAlertGateDeduplicatesWithinWindow(t *testing.T) {
	mr, client := newClient(t)
	gate := NewAlertGate(client, time.Hour)
	ctx := context.Background()

	ok, err := gate.Allow(ctx, "alert:low:PHYSICAL:MILK:20240115")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.Allow(ctx, "alert:low:PHYSICAL:MILK:20240115")
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(61 * time.Minute)
	ok, err = gate.Allow(ctx, "alert:low:PHYSICAL:MILK:20240115")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewAlertGate(nil, 0).Allow(ctx, "anything")
	require.NoError(t, err)
	assert.True(t, ok)
}
