package main

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
)

//ErrTile 失败瓦片
type ErrTile struct {
	X   uint32 `json:"x"`
	Y   uint32 `json:"y"`
	Z   uint32 `json:"z"`
	Res string `json:"res"`
}

//LngLatBbox bounding box, in decimal degrees
type LngLatBbox struct {
	West  float64 `json:"west"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
	South float64 `json:"south"`
}

//Bound 转换为 orb.Bound
func (b LngLatBbox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.West, b.South},
		Max: orb.Point{b.East, b.North},
	}
}

type GenerateTilesOptions struct {
	Collection orb.Collection
	Zoom       maptile.Zoom
	Consumer   chan maptile.Tile
}

//GetTileCount 覆盖瓦片数
func GetTileCount(c orb.Collection, zoom maptile.Zoom) (int, error) {
	set, err := tilecover.Collection(c, zoom)
	if err != nil {
		return 0, err
	}
	return len(set), nil
}

//SortedTiles 覆盖瓦片, ordered by column then row
func SortedTiles(c orb.Collection, zoom maptile.Zoom) ([]maptile.Tile, error) {
	set, err := tilecover.Collection(c, zoom)
	if err != nil {
		return nil, err
	}
	tiles := make([]maptile.Tile, 0, len(set))
	for t := range set {
		tiles = append(tiles, t)
	}
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].X != tiles[j].X {
			return tiles[i].X < tiles[j].X
		}
		return tiles[i].Y < tiles[j].Y
	})
	return tiles, nil
}

// GenerateTiles feeds the covering tiles into the consumer and closes it.
func GenerateTiles(opts *GenerateTilesOptions) error {
	defer close(opts.Consumer)
	tiles, err := SortedTiles(opts.Collection, opts.Zoom)
	if err != nil {
		return err
	}
	for _, t := range tiles {
		opts.Consumer <- t
	}
	return nil
}

func tileKey(t maptile.Tile) string {
	return fmt.Sprintf("tile_%d_%d_%d", t.X, t.Y, t.Z)
}

// ToString returns a string representation of the tile.
func ToString(t maptile.Tile) string {
	return fmt.Sprintf("{%d/%d/%d}", t.Z, t.X, t.Y)
}

//ZoomLevel 级别
type ZoomLevel = maptile.Zoom

//ToZoomKey json key of a zoom level
func ToZoomKey(z uint32) string {
	return fmt.Sprintf("z%d", z)
}
