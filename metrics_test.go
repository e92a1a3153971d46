package pagedb

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pagedb/blobstore"
	"github.com/hupe1980/pagedb/resource"
)

func TestMetrics_SaveLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := NewMetrics("pagedb")

	db := openTestDB(t, dir, WithMetrics(m))
	c := saveDesign(t, db, "top", 1, 2, 3)

	assert.InDelta(t, 1, testutil.ToFloat64(m.saves.WithLabelValues("design", "ok")), 0)
	assert.Positive(t, testutil.ToFloat64(m.bytesWritten))

	_, err := db.Load(ctx, KindDesign, "top")
	require.Error(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(m.loads.WithLabelValues("design", "error")), 0)

	require.NoError(t, db.Drop(c))
	_, err = db.Load(ctx, KindDesign, "top")
	require.NoError(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(m.loads.WithLabelValues("design", "ok")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.checksumFailures), 0)
}

func TestMetrics_ChecksumFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := NewMetrics("pagedb")

	db := openTestDB(t, dir, WithMetrics(m))
	c := saveDesign(t, db, "top", 1)
	res, err := db.Save(ctx, c)
	require.NoError(t, err)
	require.NoError(t, db.Drop(c))

	data, err := os.ReadFile(res.Triad.Image)
	require.NoError(t, err)
	data[12] ^= 1
	require.NoError(t, os.WriteFile(res.Triad.Image, data, 0o644))

	_, err = db.Load(ctx, KindDesign, "top")
	require.Error(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(m.checksumFailures), 0)
}

func TestMetrics_PublishFetch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	m := NewMetrics("pagedb")

	db := openTestDB(t, t.TempDir(), WithStore(store), WithMetrics(m))
	saveDesign(t, db, "top", 1)
	_, err := db.Publish(ctx, KindDesign, "top")
	require.NoError(t, err)
	_, err = db.Fetch(ctx, KindDesign, "top")
	require.Error(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.publishes.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.fetches.WithLabelValues("error")), 0)
}

func TestMetrics_PoolGauges(t *testing.T) {
	m := NewMetrics("pagedb")
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(m))

	db := openTestDB(t, t.TempDir(), WithMetrics(m))
	c, err := db.Create(KindDesign, "top")
	require.NoError(t, err)
	for range 3 {
		_, _, err := Allocate[pin](c, tagPin)
		require.NoError(t, err)
	}

	expected := `
# HELP pagedb_pool_allocations_total Slot operations of a pool (alloc, free, reuse)
# TYPE pagedb_pool_allocations_total counter
pagedb_pool_allocations_total{op="alloc",pool="1"} 3
pagedb_pool_allocations_total{op="free",pool="1"} 0
pagedb_pool_allocations_total{op="reuse",pool="1"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pagedb_pool_allocations_total"))
	assert.Equal(t, 3, testutil.CollectAndCount(m, "pagedb_pool_bytes"))

	require.NoError(t, db.Close())
	assert.Equal(t, 0, testutil.CollectAndCount(m, "pagedb_pool_bytes"))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.recordSave(KindDesign, 10, 0, nil)
	m.recordLoad(KindDesign, 0, nil)
	m.recordPublish(nil)
	m.recordFetch(nil)
	m.attach(nil, nil)
}

func TestMetrics_MemoryGauges(t *testing.T) {
	m := NewMetrics("pagedb")
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(m))

	ctrl := resource.NewController(resource.Config{MemoryLimitBytes: 1 << 20})
	db := openTestDB(t, t.TempDir(), WithMetrics(m), WithController(ctrl))
	c, err := db.Create(KindDesign, "top")
	require.NoError(t, err)
	_, _, err = Allocate[pin](c, tagPin)
	require.NoError(t, err)
	require.Positive(t, ctrl.MemoryUsage())

	expected := `
# HELP pagedb_memory_bytes Chunk memory granted by the resource controller (used, peak, limit)
# TYPE pagedb_memory_bytes gauge
pagedb_memory_bytes{state="limit"} 1.048576e+06
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected+
		"pagedb_memory_bytes{state=\"peak\"} "+strconv.FormatInt(ctrl.MemoryPeak(), 10)+"\n"+
		"pagedb_memory_bytes{state=\"used\"} "+strconv.FormatInt(ctrl.MemoryUsage(), 10)+"\n"),
		"pagedb_memory_bytes"))
}
