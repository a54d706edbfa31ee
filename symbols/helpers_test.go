package symbols

import (
	"context"
	"fmt"
	"image"
	"sync"
	"testing"

	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/require"
)

type groupSpec struct {
	id        uint64
	shareable bool
	symbols   []string
}

func unique(id uint64, names ...string) groupSpec {
	return groupSpec{id: id, symbols: names}
}

func shared(id uint64, names ...string) groupSpec {
	return groupSpec{id: id, shareable: true, symbols: names}
}

// testProvider serves fixed groups per tile and counts materializations.
type testProvider struct {
	mu           sync.Mutex
	tiles        map[TileID][]groupSpec
	materialized map[uint64]int
	err          error
	// per tile failures, checked after err
	failing map[TileID]error
	// ids that are offered to accept but never returned
	dropped map[uint64]bool
	// called after all groups of a tile were offered to accept
	afterAccept func(tileID TileID)
}

func newTestProvider() *testProvider {
	return &testProvider{
		tiles:        make(map[TileID][]groupSpec),
		materialized: make(map[uint64]int),
		failing:      make(map[TileID]error),
		dropped:      make(map[uint64]bool),
	}
}

func (p *testProvider) add(tileID TileID, groups ...groupSpec) {
	p.tiles[tileID] = groups
}

func (p *testProvider) materializedCount(id uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.materialized[id]
}

func (p *testProvider) ObtainData(ctx context.Context, tileID TileID, zoom ZoomLevel, accept AcceptFunc) (*TiledSymbolsData, error) {
	specs, ok := p.tiles[tileID]
	if !ok {
		return nil, nil
	}
	data := &TiledSymbolsData{TileID: tileID, Zoom: zoom}
	for _, spec := range specs {
		group := &MapSymbolsGroup{ID: spec.id, Shareable: spec.shareable}
		if !accept(group) || p.dropped[spec.id] {
			continue
		}
		for _, name := range spec.symbols {
			group.Symbols = append(group.Symbols, &MapSymbol{
				Name:   name,
				Bitmap: image.NewRGBA(image.Rect(0, 0, 4, 4)),
			})
		}
		p.mu.Lock()
		p.materialized[spec.id]++
		p.mu.Unlock()
		data.SymbolsGroups = append(data.SymbolsGroups, group)
	}
	if p.afterAccept != nil {
		p.afterAccept(tileID)
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := p.failing[tileID]; err != nil {
		return nil, err
	}
	return data, nil
}

type testEnv struct {
	backend    *MemoryBackend
	dispatcher *GPUThreadDispatcher
	manager    *ResourcesManager
	collection *TiledSymbolsResourcesCollection
	provider   *testProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		backend:    &MemoryBackend{},
		dispatcher: NewGPUThreadDispatcher(),
		provider:   newTestProvider(),
	}
	go env.dispatcher.Run()
	t.Cleanup(func() {
		env.dispatcher.Close()
		<-env.dispatcher.Done()
	})
	env.manager = NewResourcesManager(env.backend, env.dispatcher)
	env.collection = env.manager.NewCollection("test")
	require.NoError(t, env.manager.BindProvider(env.collection.ID, env.provider))
	return env
}

// flush waits until every task queued on the GPU thread so far has run.
func (env *testEnv) flush(t *testing.T) {
	t.Helper()
	require.True(t, env.dispatcher.InvokeSync(func() {}))
}

func (env *testEnv) resource(t *testing.T, x, y uint32) *TiledSymbolsResource {
	t.Helper()
	r, created := env.collection.ObtainResource(env.manager, tile(x, y))
	require.True(t, created)
	return r
}

func (env *testEnv) shared() *SharedGroupsResourcesCollection {
	return env.collection.SharedGroupsResources(testZoom)
}

const testZoom = maptile.Zoom(14)

func tile(x, y uint32) TileID {
	return maptile.New(x, y, testZoom)
}

func symbolNames(groups []*GroupResources) []string {
	var names []string
	for _, gr := range groups {
		for _, s := range gr.Group.Symbols {
			names = append(names, s.Name)
		}
	}
	return names
}

func groupByID(t *testing.T, groups []*GroupResources, id uint64) *GroupResources {
	t.Helper()
	for _, gr := range groups {
		if gr.Group.ID == id {
			return gr
		}
	}
	require.FailNow(t, fmt.Sprintf("group %d not found", id))
	return nil
}
