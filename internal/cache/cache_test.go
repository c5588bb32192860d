package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type topCompany struct {
	Name  string `json:"name"`
	Score string `json:"score"`
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, "market_supervision:"), mr
}

func TestRedisCacheRoundTripAndTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	var dest []topCompany
	require.ErrorIs(t, c.Get(ctx, TopRiskCompaniesKey, &dest), ErrCacheMiss)

	want := []topCompany{{Name: "Acme Corp", Score: "17.51"}}
	require.NoError(t, c.Set(ctx, TopRiskCompaniesKey, want, TopRiskCompaniesTTL))
	assert.True(t, mr.Exists("market_supervision:"+TopRiskCompaniesKey))
	assert.Equal(t, TopRiskCompaniesTTL, mr.TTL("market_supervision:"+TopRiskCompaniesKey))

	require.NoError(t, c.Get(ctx, TopRiskCompaniesKey, &dest))
	assert.Equal(t, want, dest)

	mr.FastForward(TopRiskCompaniesTTL + time.Second)
	require.ErrorIs(t, c.Get(ctx, TopRiskCompaniesKey, &dest), ErrCacheMiss)
}

func TestRedisCacheDelete(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	require.NoError(t, c.Set(ctx, RiskTrendsKey, []int{1, 2}, RiskTrendsTTL))
	require.NoError(t, c.Set(ctx, DashboardStatisticsKey, map[string]int{"total": 3}, DashboardStatisticsTTL))
	require.NoError(t, c.Delete(ctx, RiskTrendsKey))

	assert.False(t, mr.Exists("market_supervision:"+RiskTrendsKey))
	assert.True(t, mr.Exists("market_supervision:"+DashboardStatisticsKey))
	require.NoError(t, c.Delete(ctx))
}

func TestRedisCacheUnavailable(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)
	mr.Close()

	err := c.Delete(ctx, TopRiskCompaniesKey)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCacheMiss))
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	var got map[string]int
	require.ErrorIs(t, c.Get(ctx, DashboardStatisticsKey, &got), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, DashboardStatisticsKey, map[string]int{"total": 7}, 50*time.Millisecond))
	require.NoError(t, c.Get(ctx, DashboardStatisticsKey, &got))
	assert.Equal(t, 7, got["total"])

	require.Eventually(t, func() bool { return !c.Has(DashboardStatisticsKey) }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Set(ctx, TopRiskCompaniesKey, "x", 0))
	require.NoError(t, c.Delete(ctx, TopRiskCompaniesKey))
	assert.False(t, c.Has(TopRiskCompaniesKey))
}

type failingCache struct{ Cache }

func (failingCache) Delete(context.Context, ...string) error { return errors.New("redis down") }

func TestInvalidatorSwallowsErrors(t *testing.T) {
	var observed []string
	var observedErr error
	inv := NewInvalidator(failingCache{}, zerolog.Nop(), func(key string, err error) {
		observed = append(observed, key)
		observedErr = err
	})

	inv.Invalidate(context.Background(), TopRiskCompaniesKey)
	assert.Equal(t, []string{TopRiskCompaniesKey}, observed)
	assert.Error(t, observedErr)

	var nilInv *Invalidator
	nilInv.Invalidate(context.Background(), TopRiskCompaniesKey)
	NewInvalidator(nil, zerolog.Nop(), nil).Invalidate(context.Background(), RiskTrendsKey)
}
