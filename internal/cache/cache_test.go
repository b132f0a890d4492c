package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aravula7/agentic-rag-analytics/internal/pipeline"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, ttl, nil), mr
}

func successResponse(query string) *pipeline.Response {
	return &pipeline.Response{
		Success:      true,
		Query:        pipeline.Normalize(query),
		GeneratedSQL: "SELECT 1",
		ResultURL:    "https://bucket/reports/x.csv",
	}
}

func TestRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.Set(ctx, "Top Customers", successResponse("Top Customers"))

	got, ok := c.Get(ctx, "Top Customers")
	require.True(t, ok)
	assert.True(t, got.Success)
	assert.Equal(t, "top customers", got.Query)
	assert.Equal(t, "SELECT 1", got.GeneratedSQL)
}

func TestFormattingVariantsShareEntry(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.Set(ctx, "top customers", successResponse("top customers"))

	for _, variant := range []string{"Top Customers", "  top   customers  ", "TOP\tCUSTOMERS"} {
		_, ok := c.Get(ctx, variant)
		assert.True(t, ok, "variant %q", variant)
	}
}

func TestDistinctQuestionsDoNotCollide(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.Set(ctx, "top customers by revenue", successResponse("top customers by revenue"))

	_, ok := c.Get(ctx, "top customers by orders")
	assert.False(t, ok)
}

func TestMissOnEmptyCache(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)

	_, ok := c.Get(context.Background(), "anything")
	assert.False(t, ok)
}

func TestEntryExpires(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	c.Set(ctx, "q", successResponse("q"))
	_, ok := c.Get(ctx, "q")
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	_, ok = c.Get(ctx, "q")
	assert.False(t, ok)
}

// An entry whose embedded question does not match the requested one is
// treated as corrupt: evicted and reported as a miss.
func TestMismatchedEntryIsEvicted(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()

	stale := successResponse("a different question entirely")
	c.Set(ctx, "q", stale) // stored under q's key but embeds another question

	_, ok := c.Get(ctx, "q")
	assert.False(t, ok)
	assert.False(t, mr.Exists(Key("q")))
}

func TestCorruptEntryIsEvicted(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, mr.Set(Key("q"), "not json at all"))

	_, ok := c.Get(ctx, "q")
	assert.False(t, ok)
	assert.False(t, mr.Exists(Key("q")))
}

func TestBackendFailureDegradesToMiss(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.Set(ctx, "q", successResponse("q"))
	mr.Close()

	_, ok := c.Get(ctx, "q")
	assert.False(t, ok)

	// Set and Delete absorb the failure too.
	c.Set(ctx, "q2", successResponse("q2"))
	c.Delete(ctx, "q")
}

func TestStatsAndClear(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.Set(ctx, "one", successResponse("one"))
	c.Set(ctx, "two", successResponse("two"))

	stats, err := c.ReadStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Entries)

	removed, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	stats, err = c.ReadStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Entries)
}

func TestKeyIsPrefixedDigest(t *testing.T) {
	k := Key("  Some Question  ")
	assert.Equal(t, Key("some question"), k)
	assert.Len(t, k, len(keyPrefix)+64)
}
