/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package tablestore

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/tablestore/config"
	"github.com/suparena/tablestore/datastore/aztables"
	"github.com/suparena/tablestore/datastore/memory"
	"github.com/suparena/tablestore/datastore/resilient"
	"github.com/suparena/tablestore/errors"
	"github.com/suparena/tablestore/filter"
	"github.com/suparena/tablestore/storagemodels"
)

type player struct {
	Tenant  string `table:",partitionkey"`
	ID      string `table:",rowkey"`
	Name    string
	Rating  int64
	Version string `table:",etag"`
}

func openMemory(t *testing.T, mutate func(*config.Config), opts ...Option) (*Store, *memory.Service) {
	t.Helper()
	cfg := config.Default()
	cfg.TablePrefix = "test"
	cfg.CreateTables = true
	if mutate != nil {
		mutate(cfg)
	}
	mem := memory.New()
	store, err := Open(context.Background(), cfg, append([]Option{WithService(mem)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mem
}

func TestOpenAndUseRepository(t *testing.T) {
	ctx := context.Background()
	store, mem := openMemory(t, nil)

	players, err := Bind[player](store, "players")
	require.NoError(t, err)
	assert.Equal(t, "testplayers", players.Table())

	saved, err := players.Insert(ctx, player{Tenant: "acme", ID: "42", Name: "Ada", Rating: 1600})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.Version)
	assert.Equal(t, 1, mem.Count("testplayers"))

	found, err := players.Find(ctx, filter.Gt("Rating", 1500))
	require.NoError(t, err)
	assert.Len(t, found, 1)

	saved.Tenant = "globex"
	moved, err := players.Update(ctx, storagemodels.Key{PartitionKey: "acme", RowKey: "42"}, saved)
	require.NoError(t, err)
	assert.Equal(t, "globex", moved.Tenant)

	c, err := store.Client(ctx, "players")
	require.NoError(t, err)
	assert.Equal(t, "testplayers", c.Name())
	assert.Equal(t, 1, store.Cache().Len())
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(context.Background(), nil)
	assert.True(t, errors.IsConfigurationError(err))

	cfg := config.Default()
	cfg.Backend = config.BackendAzure
	_, err = Open(context.Background(), cfg)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestOpenBuildsAzureBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendAzure
	cfg.Azure.ConnectionString = "DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=c2VjcmV0;EndpointSuffix=core.windows.net"

	store, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &aztables.Service{}, store.Service())
}

func TestEnsureTables(t *testing.T) {
	ctx := context.Background()
	store, mem := openMemory(t, func(c *config.Config) { c.CreateTables = false })

	require.NoError(t, store.EnsureTables(ctx, "players", "ratings"))
	require.NoError(t, store.EnsureTables(ctx, "players"))
	tables, err := mem.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"testplayers", "testratings"}, tables)

	err = store.EnsureTables(ctx, "bad-name")
	assert.True(t, errors.IsValidationError(err))
}

func TestBreakerWrapsService(t *testing.T) {
	ctx := context.Background()
	store, mem := openMemory(t, func(c *config.Config) {
		c.Breaker.Enabled = true
		c.Breaker.MinRequests = 2
		c.Breaker.FailureRatio = 0.5
		c.Breaker.OpenTimeout = time.Hour
	})
	require.IsType(t, &resilient.Service{}, store.Service())

	players, err := Bind[player](store, "players")
	require.NoError(t, err)
	mem.WithError(memory.OpGet, stderrors.New("backend down"))
	for i := 0; i < 2; i++ {
		_, err = players.Get(ctx, "acme", "1")
		require.Error(t, err)
	}
	_, err = players.Get(ctx, "acme", "1")
	assert.True(t, resilient.IsOpen(err))
}

func TestCacheMetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	store, _ := openMemory(t, func(c *config.Config) { c.Cache.MetricsPrefix = "api" }, WithRegisterer(reg))

	_, err := store.Client(context.Background(), "players")
	require.NoError(t, err)
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Equal(t, "tablestore/"+Version, UserAgent())
}
