package main

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okatech-org/mayfin-sub002/internal/analysis"
	"github.com/okatech-org/mayfin-sub002/internal/cache"
	"github.com/okatech-org/mayfin-sub002/internal/config"
	"github.com/okatech-org/mayfin-sub002/internal/store"
)

func TestAnalysisEnv_Close_Nil(t *testing.T) {
	env := &analysisEnv{}
	assert.NotPanics(t, env.Close)
}

func TestInitStore(t *testing.T) {
	cfg = testConfig(t.TempDir())

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestInitStore_UnknownDriver(t *testing.T) {
	cfg = testConfig(t.TempDir())
	cfg.Store.Driver = "mysql"

	_, err := initStore(context.Background())
	assert.ErrorContains(t, err, `unknown driver "mysql"`)
}

func TestInitMarketCache(t *testing.T) {
	ctx := context.Background()
	cfg = testConfig(t.TempDir())

	mc, client := initMarketCache(ctx)
	assert.Nil(t, client)
	assert.IsType(t, cache.Noop{}, mc)

	mr := miniredis.RunT(t)
	cfg.Redis = config.RedisConfig{Addr: mr.Addr(), TTLHours: 1}
	mc, client = initMarketCache(ctx)
	require.NotNil(t, client)
	defer client.Close() //nolint:errcheck
	assert.NotEqual(t, cache.Noop{}, mc)

	cfg.Redis.Addr = "127.0.0.1:1"
	mc, client = initMarketCache(ctx)
	assert.Nil(t, client)
	assert.IsType(t, cache.Noop{}, mc)
}

func TestInitAnalysis_InvalidConfig(t *testing.T) {
	cfg = testConfig(t.TempDir())
	cfg.Anthropic.Key = ""

	env, err := initAnalysis(context.Background(), "analyze")
	assert.Nil(t, env)
	assert.ErrorContains(t, err, "anthropic.key is required")
}

func TestInitAnalysis_UnknownDossier(t *testing.T) {
	ctx := context.Background()
	cfg = testConfig(t.TempDir())

	env, err := initAnalysis(ctx, "analyze")
	require.NoError(t, err)
	defer env.Close()

	assert.Len(t, env.Service.Catalog().Questions, 26)

	_, err = env.Service.RunAnalysis(ctx, "dos-unknown")
	var perr *analysis.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, analysis.KindNotFound, perr.Kind)

	runs, err := env.Store.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}
