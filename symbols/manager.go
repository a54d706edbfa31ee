package symbols

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// GPUBackend creates GPU resources. Called on the GPU thread only.
type GPUBackend interface {
	Upload(symbol *MapSymbol) (GPUResource, error)
}

//ResourcesManager 资源管理器: providers, GPU upload, symbol registry
type ResourcesManager struct {
	backend    GPUBackend
	dispatcher Dispatcher

	mu          sync.RWMutex
	nextID      CollectionID
	collections map[CollectionID]*TiledSymbolsResourcesCollection
	providers   map[CollectionID]Provider

	registryMu sync.Mutex
	registry   map[*MapSymbol]map[*TiledSymbolsResource]struct{}
}

//NewResourcesManager 创建资源管理器
func NewResourcesManager(backend GPUBackend, dispatcher Dispatcher) *ResourcesManager {
	return &ResourcesManager{
		backend:     backend,
		dispatcher:  dispatcher,
		collections: make(map[CollectionID]*TiledSymbolsResourcesCollection),
		providers:   make(map[CollectionID]Provider),
		registry:    make(map[*MapSymbol]map[*TiledSymbolsResource]struct{}),
	}
}

//NewCollection 创建符号集合
func (m *ResourcesManager) NewCollection(name string) *TiledSymbolsResourcesCollection {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c := newTiledSymbolsResourcesCollection(m.nextID, name)
	m.collections[c.ID] = c
	return c
}

// RemoveCollection drops a collection and its provider binding. Tile
// resources still alive can no longer resolve it.
func (m *ResourcesManager) RemoveCollection(id CollectionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, id)
	delete(m.providers, id)
}

//Collection 按句柄查找集合
func (m *ResourcesManager) Collection(id CollectionID) (*TiledSymbolsResourcesCollection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[id]
	return c, ok
}

//Collections 所有集合
func (m *ResourcesManager) Collections() []*TiledSymbolsResourcesCollection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*TiledSymbolsResourcesCollection, 0, len(m.collections))
	for id := CollectionID(1); id <= m.nextID; id++ {
		if c, ok := m.collections[id]; ok {
			list = append(list, c)
		}
	}
	return list
}

//BindProvider 绑定数据源
func (m *ResourcesManager) BindProvider(id CollectionID, provider Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[id]; !ok {
		return errors.Errorf("unknown collection %d", id)
	}
	m.providers[id] = provider
	return nil
}

//UnbindProvider 解绑数据源
func (m *ResourcesManager) UnbindProvider(id CollectionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.providers, id)
}

func (m *ResourcesManager) ObtainProviderFor(collection *TiledSymbolsResourcesCollection) (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[collection.ID]
	return p, ok
}

func (m *ResourcesManager) UploadSymbolToGPU(symbol *MapSymbol) (GPUResource, error) {
	if symbol.Bitmap == nil {
		return nil, errors.Errorf("symbol %q has no bitmap", symbol.Name)
	}
	return m.backend.Upload(symbol)
}

func (m *ResourcesManager) RegisterMapSymbol(symbol *MapSymbol, resource *TiledSymbolsResource) {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	owners, ok := m.registry[symbol]
	if !ok {
		owners = make(map[*TiledSymbolsResource]struct{})
		m.registry[symbol] = owners
	}
	owners[resource] = struct{}{}
}

func (m *ResourcesManager) UnregisterMapSymbol(symbol *MapSymbol, resource *TiledSymbolsResource) {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	owners, ok := m.registry[symbol]
	if !ok {
		log.Warnf("unregister of unknown symbol %q from %s", symbol.Name, resource)
		return
	}
	delete(owners, resource)
	if len(owners) == 0 {
		delete(m.registry, symbol)
	}
}

// SymbolResources returns the tile resources a visible symbol belongs to.
func (m *ResourcesManager) SymbolResources(symbol *MapSymbol) []*TiledSymbolsResource {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	owners := m.registry[symbol]
	list := make([]*TiledSymbolsResource, 0, len(owners))
	for r := range owners {
		list = append(list, r)
	}
	return list
}

//RegisteredSymbols 注册的符号数
func (m *ResourcesManager) RegisteredSymbols() int {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	return len(m.registry)
}

func (m *ResourcesManager) GPUDispatcher() Dispatcher {
	return m.dispatcher
}
