package symbols

import (
	"sort"
	"sync"
)

//CollectionID 集合句柄, resolved through the owner on every access
type CollectionID uint32

//TiledSymbolsResourcesCollection one symbols layer: its tile resources and
//the shared groups of every zoom level
type TiledSymbolsResourcesCollection struct {
	ID   CollectionID
	Name string

	mu        sync.Mutex
	shared    map[ZoomLevel]*SharedGroupsResourcesCollection
	resources map[TileID]*TiledSymbolsResource
}

func newTiledSymbolsResourcesCollection(id CollectionID, name string) *TiledSymbolsResourcesCollection {
	return &TiledSymbolsResourcesCollection{
		ID:        id,
		Name:      name,
		shared:    make(map[ZoomLevel]*SharedGroupsResourcesCollection),
		resources: make(map[TileID]*TiledSymbolsResource),
	}
}

//SharedGroupsResources 共享组缓存, created on first use
func (c *TiledSymbolsResourcesCollection) SharedGroupsResources(zoom ZoomLevel) *SharedGroupsResourcesCollection {
	c.mu.Lock()
	defer c.mu.Unlock()
	shared, ok := c.shared[zoom]
	if !ok {
		shared = NewSharedGroupsResourcesCollection(zoom)
		c.shared[zoom] = shared
	}
	return shared
}

// ObtainResource returns the resource of a tile entering the view, creating
// it when absent.
func (c *TiledSymbolsResourcesCollection) ObtainResource(owner Owner, tileID TileID) (*TiledSymbolsResource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.resources[tileID]; ok {
		return r, false
	}
	r := newTiledSymbolsResource(owner, c.ID, tileID)
	c.resources[tileID] = r
	return r, true
}

//Resource 查找瓦片资源
func (c *TiledSymbolsResourcesCollection) Resource(tileID TileID) (*TiledSymbolsResource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.resources[tileID]
	return r, ok
}

// ReleaseResource releases the data of a tile that left the view and drops
// the resource from the collection.
func (c *TiledSymbolsResourcesCollection) ReleaseResource(tileID TileID) bool {
	c.mu.Lock()
	r, ok := c.resources[tileID]
	if ok {
		delete(c.resources, tileID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	r.ReleaseData()
	return true
}

//Resources 当前所有瓦片资源, ordered by zoom, x, y
func (c *TiledSymbolsResourcesCollection) Resources() []*TiledSymbolsResource {
	c.mu.Lock()
	list := make([]*TiledSymbolsResource, 0, len(c.resources))
	for _, r := range c.resources {
		list = append(list, r)
	}
	c.mu.Unlock()
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].TileID, list[j].TileID
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
	return list
}

//Stats 每个级别的共享组
func (c *TiledSymbolsResourcesCollection) Stats() map[ZoomLevel][]SharedGroupStat {
	c.mu.Lock()
	shared := make(map[ZoomLevel]*SharedGroupsResourcesCollection, len(c.shared))
	for zoom, s := range c.shared {
		shared[zoom] = s
	}
	c.mu.Unlock()
	stats := make(map[ZoomLevel][]SharedGroupStat, len(shared))
	for zoom, s := range shared {
		stats[zoom] = s.Stats()
	}
	return stats
}
