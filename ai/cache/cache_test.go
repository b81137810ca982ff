package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrLoadReadThrough(t *testing.T) {
	c := New(time.Minute)
	key := Key{Service: "records", Resource: "clients"}
	loads := 0

	load := func(ctx context.Context) (any, error) {
		loads++
		return "clients-payload", nil
	}

	v, hit, err := c.GetOrLoad(context.Background(), key, []string{"records:Clients"}, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "clients-payload", v)

	v, hit, err = c.GetOrLoad(context.Background(), key, []string{"records:Clients"}, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "clients-payload", v)
	assert.Equal(t, 1, loads)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestGetOrLoadDistinctFiltersAreDistinctKeys(t *testing.T) {
	c := New(time.Minute)
	loads := 0
	load := func(ctx context.Context) (any, error) {
		loads++
		return loads, nil
	}

	_, _, err := c.GetOrLoad(context.Background(), Key{Service: "records", Resource: "clients"}, nil, load)
	require.NoError(t, err)
	_, _, err = c.GetOrLoad(context.Background(), Key{Service: "records", Resource: "clients", Filter: "eq:Status=active"}, nil, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestLoaderErrorsAreNotCached(t *testing.T) {
	c := New(time.Minute)
	key := Key{Service: "accounting", Resource: "invoices"}
	calls := 0

	_, _, err := c.GetOrLoad(context.Background(), key, nil, func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("upstream down")
	})
	require.Error(t, err)

	v, hit, err := c.GetOrLoad(context.Background(), key, nil, func(ctx context.Context) (any, error) {
		calls++
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, 2, calls)
}

func TestInvalidateByTag(t *testing.T) {
	c := New(time.Minute)
	load := func(v any) Loader {
		return func(ctx context.Context) (any, error) { return v, nil }
	}

	_, _, err := c.GetOrLoad(context.Background(), Key{Service: "accounting", Resource: "invoices"}, []string{"accounting:invoices"}, load("inv"))
	require.NoError(t, err)
	_, _, err = c.GetOrLoad(context.Background(), Key{Service: "accounting", Resource: "customers"}, []string{"accounting:customers"}, load("cust"))
	require.NoError(t, err)
	require.Equal(t, 2, c.Size())

	removed := c.Invalidate("accounting:invoices")
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Size())

	// The untouched entry still serves from cache.
	_, hit, err := c.GetOrLoad(context.Background(), Key{Service: "accounting", Resource: "customers"}, nil, load("cust"))
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestEntriesExpire(t *testing.T) {
	c := New(time.Minute)
	now := time.Now()
	c.SetNowFunc(func() time.Time { return now })

	key := Key{Service: "records", Resource: "permits"}
	loads := 0
	load := func(ctx context.Context) (any, error) {
		loads++
		return "permits", nil
	}

	_, _, err := c.GetOrLoad(context.Background(), key, nil, load)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, hit, err := c.GetOrLoad(context.Background(), key, nil, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, loads)
}

func TestConcurrentLoadsAreCoalesced(t *testing.T) {
	c := New(time.Minute)
	key := Key{Service: "records", Resource: "clients"}

	var loads atomic.Int64
	release := make(chan struct{})
	load := func(ctx context.Context) (any, error) {
		loads.Add(1)
		<-release
		return "payload", nil
	}

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := c.GetOrLoad(context.Background(), key, nil, load)
			assert.NoError(t, err)
			assert.Equal(t, "payload", v)
		}()
	}

	// Give the goroutines time to pile onto the flight group.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), loads.Load())
}
