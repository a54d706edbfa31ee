package symbols

import (
	"image"

	"github.com/paulmach/orb/maptile"
)

//TileID 瓦片坐标
type TileID = maptile.Tile

//ZoomLevel 级别
type ZoomLevel = maptile.Zoom

//MapSymbol a renderable unit, compared by pointer.
//Bitmap is nil once the symbol has been uploaded to GPU.
type MapSymbol struct {
	Name   string
	Bitmap *image.RGBA
}

//MapSymbolsGroup symbols derived from one map object
type MapSymbolsGroup struct {
	ID        uint64
	Shareable bool
	Symbols   []*MapSymbol
}

//TiledSymbolsData provider payload for one tile
type TiledSymbolsData struct {
	TileID        TileID
	Zoom          ZoomLevel
	SymbolsGroups []*MapSymbolsGroup
}

// ReleaseConsumableContent drops the references to groups once their
// ownership has been moved into group resources.
func (d *TiledSymbolsData) ReleaseConsumableContent() {
	d.SymbolsGroups = nil
}

//GroupResources one group and the GPU resources of its symbols
type GroupResources struct {
	Group          *MapSymbolsGroup
	ResourcesInGPU map[*MapSymbol]GPUResource
}

func newGroupResources(group *MapSymbolsGroup) *GroupResources {
	return &GroupResources{
		Group:          group,
		ResourcesInGPU: make(map[*MapSymbol]GPUResource),
	}
}

// releaseResourcesInGPU releases every GPU resource of the group and empties
// the map. Must run on the GPU thread.
func (gr *GroupResources) releaseResourcesInGPU() {
	for symbol, resource := range gr.ResourcesInGPU {
		resource.Release()
		delete(gr.ResourcesInGPU, symbol)
	}
}

// takeResourcesInGPU empties the map and hands its content to the caller.
func (gr *GroupResources) takeResourcesInGPU() []GPUResource {
	if len(gr.ResourcesInGPU) == 0 {
		return nil
	}
	resources := make([]GPUResource, 0, len(gr.ResourcesInGPU))
	for symbol, resource := range gr.ResourcesInGPU {
		resources = append(resources, resource)
		delete(gr.ResourcesInGPU, symbol)
	}
	return resources
}
