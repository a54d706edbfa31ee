package symbols

import (
	"context"

	"github.com/pkg/errors"
)

var (
	//ErrNoProvider no provider is bound to the collection
	ErrNoProvider = errors.New("no provider bound to collection")
	//ErrProviderFailed provider could not service the request
	ErrProviderFailed = errors.New("provider request failed")
	//ErrUploadFailed a symbol failed to upload, the whole call was rolled back
	ErrUploadFailed = errors.New("symbol upload to GPU failed")
	//ErrPromiseBroken the loader of a shared group gave up before publishing it
	ErrPromiseBroken = errors.New("shared group was not published by its loader")
)

// AcceptFunc is called by a provider once per discovered group, with only ID
// and Shareable set, before the group's symbols are materialized. Returning
// false tells the provider to skip decoding that group.
type AcceptFunc func(group *MapSymbolsGroup) bool

// Provider produces symbol groups of tiles. A nil payload with a nil error
// means the tile is genuinely empty.
type Provider interface {
	ObtainData(ctx context.Context, tileID TileID, zoom ZoomLevel, accept AcceptFunc) (*TiledSymbolsData, error)
}

// GPUResource is a resource resident in GPU memory.
type GPUResource interface {
	Release()
}

// Dispatcher runs tasks on the GPU-owning thread, FIFO.
type Dispatcher interface {
	InvokeAsync(task func())
}

// Owner brokers everything a tile resource needs outside itself.
type Owner interface {
	Collection(id CollectionID) (*TiledSymbolsResourcesCollection, bool)
	ObtainProviderFor(collection *TiledSymbolsResourcesCollection) (Provider, bool)
	UploadSymbolToGPU(symbol *MapSymbol) (GPUResource, error)
	RegisterMapSymbol(symbol *MapSymbol, resource *TiledSymbolsResource)
	UnregisterMapSymbol(symbol *MapSymbol, resource *TiledSymbolsResource)
	GPUDispatcher() Dispatcher
}
