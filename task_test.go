package main

import (
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Fast-SymbolTiler/store"
	"Fast-SymbolTiler/symbols"
)

func seededStore(t *testing.T) *store.SymbolStore {
	t.Helper()
	st, err := store.Open("sqlite3", filepath.Join(t.TempDir(), "symbols.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	symbol := func(name string) []*symbols.MapSymbol {
		return []*symbols.MapSymbol{{Name: name, Bitmap: image.NewRGBA(image.Rect(0, 0, 8, 8))}}
	}
	for x := uint32(0); x < 2; x++ {
		require.NoError(t, st.SaveGroups(maptile.New(x, 0, 2), []*symbols.MapSymbolsGroup{
			{ID: 2, Shareable: true, Symbols: symbol("river")},
			{ID: uint64(11 + 2*x), Symbols: symbol("poi")},
		}))
	}
	return st
}

// testLayer covers tiles (0,0) and (1,0) of zoom 2.
func testLayer(t *testing.T) Layer {
	t.Helper()
	a := maptile.New(0, 0, 2).Bound()
	b := maptile.New(1, 0, 2).Bound()
	bound := orb.Bound{
		Min: orb.Point{a.Min[0] + 1, a.Min[1] + 1},
		Max: orb.Point{b.Max[0] - 1, b.Max[1] - 1},
	}
	c := orb.Collection{bound.ToPolygon()}
	count, err := GetTileCount(c, 2)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	return Layer{Zoom: 2, Count: count, Collection: c}
}

func newTestTask(t *testing.T) *Task {
	t.Helper()
	return newTaskWithRedis(t, "127.0.0.1:1")
}

func newTaskWithRedis(t *testing.T, addr string) *Task {
	t.Helper()
	viper.Set("redis.addr", addr)
	viper.Set("task.workers", 4)
	viper.Set("task.retry", 1)
	task, err := NewTask([]Layer{testLayer(t)}, "test", seededStore(t), "")
	require.NoError(t, err)
	return task
}

func TestTaskRunLoadsAndReleasesView(t *testing.T) {
	task := newTestTask(t)
	task.Run(context.Background())

	assert.Equal(t, Terminated, task.state())
	assert.Equal(t, int64(2), task.loaded.Load())
	assert.Equal(t, int64(0), task.failed.Load())

	stats := task.backend.Stats()
	assert.Equal(t, 3, stats.Uploads, "shared river uploaded once")
	assert.Equal(t, 0, stats.Textures)
	assert.Equal(t, 3, stats.Released)
	assert.Empty(t, task.collection.Resources())
	assert.Equal(t, 0, task.collection.SharedGroupsResources(2).Len())
	assert.Equal(t, 0, task.manager.RegisteredSymbols())
}

func TestTaskRunCancelled(t *testing.T) {
	task := newTestTask(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	task.Run(ctx)

	assert.Equal(t, Terminated, task.state())
	assert.Equal(t, 0, task.backend.Stats().Textures)
	assert.Empty(t, task.collection.Resources())
}

func TestStatusServer(t *testing.T) {
	task := newTestTask(t)
	router := task.router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), task.ID)
	assert.Contains(t, w.Body.String(), `"state":"initialize"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats/shared/9", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "symbols_uploads_total")
}

func TestRegionLayers(t *testing.T) {
	r := Region{Min: 1, Max: 3, Bound: LngLatBbox{West: 10, East: 20, South: 40, North: 50}}
	layers, err := r.Layers()
	require.NoError(t, err)
	require.Len(t, layers, 3)
	for i, layer := range layers {
		assert.Equal(t, maptile.Zoom(i+1), layer.Zoom)
		assert.Positive(t, layer.Count)
	}

	_, err = Region{Min: 5, Max: 2, Bound: r.Bound}.Layers()
	assert.Error(t, err)
	_, err = Region{Min: 1, Max: 2}.Layers()
	assert.Error(t, err)
}

func TestTaskRetryReloadsFailedTile(t *testing.T) {
	mr := miniredis.RunT(t)
	task := newTaskWithRedis(t, mr.Addr())
	task.retries = 0
	var rejected atomic.Bool
	task.backend.FailOn = func(symbol *symbols.MapSymbol) bool {
		return symbol.Name == "poi" && rejected.CompareAndSwap(false, true)
	}
	go task.dispatcher.Run()
	defer func() {
		task.dispatcher.Close()
		<-task.dispatcher.Done()
	}()

	ctx := context.Background()
	layer := testLayer(t)
	task.curZoom.Store(int32(layer.Zoom))
	inView := task.viewLayer(ctx, layer)
	require.Len(t, inView, 2)
	assert.Equal(t, int64(1), task.loaded.Load())
	assert.Equal(t, int64(1), task.failed.Load())

	failList := "fail_list:" + task.ID
	keys, err := mr.HKeys(failList)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	assert.Equal(t, 1, task.retry(ctx))
	assert.Equal(t, int64(2), task.loaded.Load())
	assert.Empty(t, hkeys(mr, failList), "retried tile removed from the fail list")
	assert.Equal(t, 0, task.retry(ctx))

	task.releaseLayer(inView)
	require.True(t, task.dispatcher.InvokeSync(func() {}))
	assert.Equal(t, 0, task.backend.Stats().Textures)
}

func TestTaskRunClearsRedisWhenDone(t *testing.T) {
	mr := miniredis.RunT(t)
	task := newTaskWithRedis(t, mr.Addr())
	task.Run(context.Background())

	assert.Equal(t, int64(2), task.loaded.Load())
	assert.False(t, mr.Exists("cursor:"+task.ID))
	assert.False(t, mr.Exists("fail_list:"+task.ID))
}

func TestTaskResumesFromCursor(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("cursor:resumed", "5"))
	viper.Set("redis.addr", mr.Addr())
	viper.Set("task.workers", 1)
	layers := []Layer{{Zoom: 3}, {Zoom: 4}, {Zoom: 5}, {Zoom: 6}}
	task, err := NewTask(layers, "resume", seededStore(t), "resumed")
	require.NoError(t, err)
	assert.Equal(t, "resumed", task.ID)
	assert.Equal(t, 5, task.MinZoom)
}

func hkeys(mr *miniredis.Miniredis, key string) []string {
	keys, err := mr.HKeys(key)
	if err != nil {
		return nil
	}
	return keys
}

func TestInitLogWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.log")
	initLog(path)
	t.Cleanup(func() { log.SetOutput(os.Stdout) })

	log.Infof("tile %s in view", ToString(maptile.New(1, 2, 3)))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tile {3/1/2} in view")
	assert.Contains(t, string(data), "[INFO]")
}
