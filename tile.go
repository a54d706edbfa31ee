package main

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
)

//ZoomMax 最大级别
const ZoomMax = 20

//Region 视图区域
type Region struct {
	Name    string
	Min     int
	Max     int
	Geojson string
	Bound   LngLatBbox
}

//Layer 级别&瓦片数
type Layer struct {
	Zoom       maptile.Zoom
	Count      int
	Collection orb.Collection
}

// Layers returns one layer per zoom level. The region comes from the geojson
// file when set, otherwise from the bounding box.
func (r Region) Layers() ([]Layer, error) {
	if r.Min < 0 || r.Max > ZoomMax || r.Min > r.Max {
		return nil, errors.Errorf("invalid zoom range %d-%d", r.Min, r.Max)
	}
	var c orb.Collection
	if r.Geojson != "" {
		var err error
		if c, err = loadCollection(r.Geojson); err != nil {
			return nil, err
		}
	} else {
		if r.Bound.West >= r.Bound.East || r.Bound.South >= r.Bound.North {
			return nil, errors.New("empty region bound")
		}
		c = orb.Collection{r.Bound.Bound().ToPolygon()}
	}
	var layers []Layer
	for z := r.Min; z <= r.Max; z++ {
		layer := Layer{Zoom: maptile.Zoom(z), Collection: c}
		count, err := GetTileCount(c, layer.Zoom)
		if err != nil {
			return nil, err
		}
		layer.Count = count
		layers = append(layers, layer)
	}
	return layers, nil
}
