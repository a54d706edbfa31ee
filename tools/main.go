package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
	log "github.com/sirupsen/logrus"

	"Fast-SymbolTiler/store"
	"Fast-SymbolTiler/symbols"
)

type record struct {
	tile   maptile.Tile
	groups []*symbols.MapSymbolsGroup
}

type seedRec struct {
	wg         sync.WaitGroup
	workers    chan maptile.Zoom
	savingpipe chan record
	done       chan struct{}
	saved      int
}

var (
	input  string
	output string
	driver string
	minZ   int
	maxZ   int
)

func init() {
	flag.StringVar(&input, "i", "region.geojson", "input geojson `file`")
	flag.StringVar(&output, "o", "symbols.db", "output database connection")
	flag.StringVar(&driver, "driver", "sqlite3", "sqlite3 or mysql")
	flag.IntVar(&minZ, "min", 10, "min zoom")
	flag.IntVar(&maxZ, "max", 12, "max zoom")
}

func main() {
	flag.Parse()
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	file, err := os.OpenFile("seed.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	writers := []io.Writer{os.Stdout}
	if err == nil {
		writers = append(writers, file)
	}
	log.SetOutput(io.MultiWriter(writers...))
	log.SetLevel(log.DebugLevel)

	start := time.Now()
	data, err := os.ReadFile(input)
	if err != nil {
		log.Fatalf("unable to read file: %v", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		log.Fatalf("unable to unmarshal feature: %v", err)
	}
	st, err := store.Open(driver, output)
	if err != nil {
		log.Fatalf("open %s error ~ %s", output, err)
	}
	defer st.Close()

	task := seedRec{
		workers:    make(chan maptile.Zoom, 4),
		savingpipe: make(chan record, 16),
		done:       make(chan struct{}),
	}
	go task.savePipe(st)
	for z := minZ; z <= maxZ; z++ {
		task.workers <- maptile.Zoom(z)
		task.wg.Add(1)
		go task.genZoom(fc, maptile.Zoom(z))
	}
	task.wg.Wait()
	close(task.savingpipe)
	<-task.done
	log.Infof("total %d tile(s), cost %d ms", task.saved, time.Since(start).Milliseconds())
}

// genZoom groups the features by covered tile. A feature spanning several
// tiles becomes a shareable group with the same id in each of them.
func (task *seedRec) genZoom(fc *geojson.FeatureCollection, zoom maptile.Zoom) {
	defer task.wg.Done()
	defer func() {
		<-task.workers
	}()
	byTile := make(map[maptile.Tile][]*symbols.MapSymbolsGroup)
	for i, f := range fc.Features {
		set, err := tilecover.Geometry(f.Geometry, zoom)
		if err != nil {
			log.Warnf("feature %d cover error ~ %s", i, err)
			continue
		}
		objectID := uint64(i + 1)
		name, _ := f.Properties["name"].(string)
		if name == "" {
			name = fmt.Sprintf("feature-%d", objectID)
		}
		for t := range set {
			group := &symbols.MapSymbolsGroup{
				ID:      objectID<<1 | 1,
				Symbols: []*symbols.MapSymbol{{Name: name, Bitmap: label(name, objectID)}},
			}
			if len(set) > 1 {
				group.ID = objectID << 1
				group.Shareable = true
			}
			byTile[t] = append(byTile[t], group)
		}
	}
	tiles := make([]maptile.Tile, 0, len(byTile))
	for t := range byTile {
		tiles = append(tiles, t)
	}
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].X != tiles[j].X {
			return tiles[i].X < tiles[j].X
		}
		return tiles[i].Y < tiles[j].Y
	})
	for _, t := range tiles {
		task.savingpipe <- record{tile: t, groups: byTile[t]}
	}
	log.Infof("zoom %d: %d tile(s)", zoom, len(tiles))
}

func (task *seedRec) savePipe(st *store.SymbolStore) {
	defer close(task.done)
	for rec := range task.savingpipe {
		if err := st.SaveGroups(rec.tile, rec.groups); err != nil {
			log.Errorf("save tile %v error ~ %s", rec.tile, err)
			continue
		}
		task.saved++
	}
}

// label is a placeholder bitmap sized after the text.
func label(name string, id uint64) *image.RGBA {
	w := 6 * len(name)
	if w > 128 {
		w = 128
	}
	img := image.NewRGBA(image.Rect(0, 0, w+4, 12))
	c := color.RGBA{R: uint8(id * 53), G: uint8(id * 97), B: uint8(id * 193), A: 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}
