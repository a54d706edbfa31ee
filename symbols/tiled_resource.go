package symbols

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

//TiledSymbolsResource 单个瓦片的符号资源
//
// Lifecycle: ObtainData once, then UploadToGPU (retryable until it succeeds)
// and UnloadFromGPU on the GPU thread, then ReleaseData which is terminal.
// Bitmaps are dropped once uploaded, so an unloaded tile cannot be uploaded
// again: release it, take a new resource from the collection and obtain its
// data anew.
type TiledSymbolsResource struct {
	TileID TileID
	Zoom   ZoomLevel

	owner        Owner
	collectionID CollectionID

	obtained bool
	unloaded bool
	released bool

	sourceData                      *TiledSymbolsData
	uniqueGroupsResources           []*GroupResources
	referencedSharedGroupsResources []*GroupResources
	sharedReferencesHeld            bool

	resourcesInGPU map[*MapSymbol]GPUResource
}

func newTiledSymbolsResource(owner Owner, collectionID CollectionID, tileID TileID) *TiledSymbolsResource {
	return &TiledSymbolsResource{
		TileID:         tileID,
		Zoom:           tileID.Z,
		owner:          owner,
		collectionID:   collectionID,
		resourcesInGPU: make(map[*MapSymbol]GPUResource),
	}
}

func (r *TiledSymbolsResource) String() string {
	return fmt.Sprintf("{%d/%d/%d}", r.TileID.Z, r.TileID.X, r.TileID.Y)
}

func (r *TiledSymbolsResource) sharedGroups() (*SharedGroupsResourcesCollection, bool) {
	collection, ok := r.owner.Collection(r.collectionID)
	if !ok {
		return nil, false
	}
	return collection.SharedGroupsResources(r.Zoom), true
}

// ObtainData asks the provider for the tile's groups. Shared groups that are
// already resolved or being loaded by another tile are skipped before the
// provider decodes them. Reports dataAvailable=false for an empty tile.
// A failed call leaves the resource untouched so it can be retried.
func (r *TiledSymbolsResource) ObtainData(ctx context.Context) (dataAvailable bool, err error) {
	if r.obtained || r.released {
		panic(fmt.Sprintf("data of tile %s obtained twice", r))
	}
	collection, ok := r.owner.Collection(r.collectionID)
	if !ok {
		return false, errors.Wrapf(ErrNoProvider, "collection %d of tile %s is gone", r.collectionID, r)
	}
	provider, ok := r.owner.ObtainProviderFor(collection)
	if !ok {
		return false, errors.Wrapf(ErrNoProvider, "collection %q", collection.Name)
	}
	shared := collection.SharedGroupsResources(r.Zoom)

	var (
		referenced []*GroupResources
		futures    []*FutureGroupResources
		loading    = make(map[uint64]bool)
		seen       = make(map[uint64]bool)
	)
	accept := func(group *MapSymbolsGroup) bool {
		if !group.Shareable {
			return true
		}
		if seen[group.ID] {
			return false
		}
		seen[group.ID] = true

		res, future, claimed := shared.ObtainReferenceOrFutureReferenceOrMakePromise(group.ID)
		if claimed {
			loading[group.ID] = false
			return true
		}
		if res != nil {
			referenced = append(referenced, res)
			log.Debugf("shared group %d (%p) referenced from %s", group.ID, res, r)
		} else {
			futures = append(futures, future)
		}
		return false
	}

	// breaks claims that were not fulfilled and drops everything referenced so far
	rollback := func(waiting []*FutureGroupResources) {
		for id, published := range loading {
			if !published {
				shared.BreakPromise(id)
			}
		}
		for _, future := range waiting {
			if res, err := future.Withdraw(); err == nil {
				referenced = append(referenced, res)
			}
		}
		for _, gr := range referenced {
			r.dereferenceShared(shared, gr, false)
		}
	}

	tile, err := provider.ObtainData(ctx, r.TileID, r.Zoom, accept)
	if err != nil {
		rollback(futures)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, errors.Wrapf(ctxErr, "tile %s", r)
		}
		return false, errors.Wrapf(ErrProviderFailed, "tile %s: %v", r, err)
	}
	if tile == nil {
		rollback(futures)
		r.obtained = true
		return false, nil
	}

	var unique []*GroupResources
	for _, group := range tile.SymbolsGroups {
		gr := newGroupResources(group)
		if published, ok := loading[group.ID]; group.Shareable && ok && !published {
			shared.FulfilPromiseAndReference(group.ID, gr)
			loading[group.ID] = true
			referenced = append(referenced, gr)
			sharedGroupLoads.Inc()
			log.Debugf("shared group %d (%p) allocated and referenced from %s: %d ref(s)",
				group.ID, gr, r, shared.GetReferencesCount(group.ID))
			continue
		}
		unique = append(unique, gr)
	}
	// the provider skipped a group it was allowed to load
	for id, published := range loading {
		if !published {
			shared.BreakPromise(id)
			delete(loading, id)
		}
	}

	// the only blocking point: other tiles loading the same shared ids
	for i, future := range futures {
		gr, err := future.Wait(ctx)
		if err != nil {
			rollback(futures[i+1:])
			return false, errors.Wrapf(err, "waiting for shared group %d of tile %s", future.ID, r)
		}
		referenced = append(referenced, gr)
		log.Debugf("shared group %d (%p) referenced from %s: %d ref(s)",
			future.ID, gr, r, shared.GetReferencesCount(future.ID))
	}

	r.sourceData = tile
	r.uniqueGroupsResources = unique
	r.referencedSharedGroupsResources = referenced
	r.sharedReferencesHeld = true
	r.obtained = true

	for _, gr := range r.uniqueGroupsResources {
		for _, symbol := range gr.Group.Symbols {
			r.owner.RegisterMapSymbol(symbol, r)
		}
	}
	for _, gr := range r.referencedSharedGroupsResources {
		for _, symbol := range gr.Group.Symbols {
			r.owner.RegisterMapSymbol(symbol, r)
		}
	}

	// groups now own the symbols
	r.sourceData.ReleaseConsumableContent()
	return true, nil
}

type symbolResourceEntry struct {
	gr       *GroupResources
	symbol   *MapSymbol
	resource GPUResource
}

// UploadToGPU uploads every symbol of the tile's groups that is not resident
// yet. Shared groups already uploaded by another tile are skipped. Either all
// symbols of the call are uploaded or none are kept. GPU thread only.
func (r *TiledSymbolsResource) UploadToGPU() error {
	if !r.obtained || r.unloaded || r.released {
		panic(fmt.Sprintf("upload of tile %s outside of its loaded state", r))
	}

	var uploaded []symbolResourceEntry
	var resident []*GroupResources
	upload := func(gr *GroupResources, kind string) error {
		for _, symbol := range gr.Group.Symbols {
			resource, err := r.owner.UploadSymbolToGPU(symbol)
			if err != nil {
				if symbol.Bitmap != nil {
					b := symbol.Bitmap.Bounds()
					log.Errorf("failed to upload %s symbol (size %dx%d) in %s tile ~ %s", kind, b.Dx(), b.Dy(), r, err)
				} else {
					log.Errorf("failed to upload %s symbol %q in %s tile ~ %s", kind, symbol.Name, r, err)
				}
				return err
			}
			uploaded = append(uploaded, symbolResourceEntry{gr: gr, symbol: symbol, resource: resource})
		}
		return nil
	}

	var err error
	for _, gr := range r.uniqueGroupsResources {
		if len(gr.ResourcesInGPU) > 0 {
			resident = append(resident, gr)
			continue
		}
		if err = upload(gr, "unique"); err != nil {
			break
		}
	}
	if err == nil {
		for _, gr := range r.referencedSharedGroupsResources {
			if len(gr.Group.Symbols) == 0 {
				continue
			}
			// uploaded by another tile, all GPU work happens on one thread
			if len(gr.ResourcesInGPU) > 0 {
				resident = append(resident, gr)
				continue
			}
			if err = upload(gr, "shared"); err != nil {
				break
			}
		}
	}

	if err != nil {
		for _, entry := range uploaded {
			entry.resource.Release()
		}
		uploadFailures.Inc()
		return errors.Wrapf(ErrUploadFailed, "tile %s: %v", r, err)
	}

	for _, entry := range uploaded {
		entry.symbol.Bitmap = nil
		r.resourcesInGPU[entry.symbol] = entry.resource
		entry.gr.ResourcesInGPU[entry.symbol] = entry.resource
	}
	for _, gr := range resident {
		for symbol, resource := range gr.ResourcesInGPU {
			r.resourcesInGPU[symbol] = resource
		}
	}
	symbolUploads.Add(float64(len(uploaded)))
	return nil
}

// UnloadFromGPU releases the tile's GPU resources and its shared references.
// Shared groups lose their GPU resources only with their last reference.
// Group lists are kept for ReleaseData. GPU thread only.
func (r *TiledSymbolsResource) UnloadFromGPU() {
	if r.released {
		panic(fmt.Sprintf("unload of released tile %s", r))
	}
	clear(r.resourcesInGPU)

	for _, gr := range r.uniqueGroupsResources {
		gr.releaseResourcesInGPU()
	}

	if r.sharedReferencesHeld {
		shared, ok := r.sharedGroups()
		if !ok {
			panic(fmt.Sprintf("collection %d of tile %s is gone", r.collectionID, r))
		}
		for _, gr := range r.referencedSharedGroupsResources {
			r.dereferenceShared(shared, gr, true)
		}
		r.sharedReferencesHeld = false
	}
	r.unloaded = true
}

// ReleaseData unregisters the tile's symbols and drops all its data. GPU
// resources still held are released on the GPU thread through the
// dispatcher, so this may run on any goroutine.
func (r *TiledSymbolsResource) ReleaseData() {
	if r.released {
		return
	}
	dispatcher := r.owner.GPUDispatcher()
	clear(r.resourcesInGPU)

	for _, gr := range r.uniqueGroupsResources {
		for _, symbol := range gr.Group.Symbols {
			r.owner.UnregisterMapSymbol(symbol, r)
		}
		releaseAsync(dispatcher, gr.takeResourcesInGPU())
	}
	r.uniqueGroupsResources = nil

	var shared *SharedGroupsResourcesCollection
	if r.sharedReferencesHeld {
		var ok bool
		if shared, ok = r.sharedGroups(); !ok {
			panic(fmt.Sprintf("collection %d of tile %s is gone", r.collectionID, r))
		}
	}
	for _, gr := range r.referencedSharedGroupsResources {
		for _, symbol := range gr.Group.Symbols {
			r.owner.UnregisterMapSymbol(symbol, r)
		}
		if shared != nil {
			r.dereferenceShared(shared, gr, false)
		}
	}
	r.referencedSharedGroupsResources = nil
	r.sharedReferencesHeld = false

	r.sourceData = nil
	r.released = true
}

// dereferenceShared drops this tile's reference to a shared group. With the
// last reference gone the group's GPU resources are released, inline when
// already on the GPU thread, otherwise through the dispatcher.
func (r *TiledSymbolsResource) dereferenceShared(shared *SharedGroupsResourcesCollection, gr *GroupResources, onGPUThread bool) {
	wasRemoved, refsRemaining := shared.ReleaseReference(gr.Group.ID, gr, true)
	log.Debugf("shared group %d (%p) dereferenced in %s: %d ref(s) remain, removed %v",
		gr.Group.ID, gr, r, refsRemaining, wasRemoved)
	if !wasRemoved {
		return
	}
	if onGPUThread {
		gr.releaseResourcesInGPU()
		return
	}
	releaseAsync(r.owner.GPUDispatcher(), gr.takeResourcesInGPU())
}

func releaseAsync(dispatcher Dispatcher, resources []GPUResource) {
	if len(resources) == 0 {
		return
	}
	dispatcher.InvokeAsync(func() {
		for _, resource := range resources {
			resource.Release()
		}
	})
}

//GPUResourceFor 查询符号的GPU资源
func (r *TiledSymbolsResource) GPUResourceFor(symbol *MapSymbol) (GPUResource, bool) {
	resource, ok := r.resourcesInGPU[symbol]
	return resource, ok
}

//Obtained ObtainData 成功之后为 true
func (r *TiledSymbolsResource) Obtained() bool {
	return r.obtained
}

//IsReleased ReleaseData 之后为 true
func (r *TiledSymbolsResource) IsReleased() bool {
	return r.released
}

//UniqueGroups 独占组
func (r *TiledSymbolsResource) UniqueGroups() []*GroupResources {
	return r.uniqueGroupsResources
}

//SharedGroups 引用的共享组
func (r *TiledSymbolsResource) SharedGroups() []*GroupResources {
	return r.referencedSharedGroupsResources
}
