package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"Fast-SymbolTiler/symbols"
)

type State int32

const (
	Initialize State = iota
	Running
	Ending
	Aborting
	Terminated
)

func (s State) String() string {
	switch s {
	case Initialize:
		return "initialize"
	case Running:
		return "running"
	case Ending:
		return "ending"
	case Aborting:
		return "aborting"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

//Task 视图任务: walks the region zoom by zoom, keeping one zoom in view
type Task struct {
	ID         string
	Name       string
	MinZoom    int
	MaxZoom    int
	Layers     []Layer
	Total      int
	manager    *symbols.ResourcesManager
	collection *symbols.TiledSymbolsResourcesCollection
	dispatcher *symbols.GPUThreadDispatcher
	backend    *symbols.MemoryBackend
	retries    int
	wg         sync.WaitGroup
	workers    chan maptile.Tile
	curZoom    atomic.Int32
	signal     atomic.Int32
	loaded     atomic.Int64
	failed     atomic.Int64
	redisPool  *redis.Pool
}

//NewTask 创建视图任务
func NewTask(layers []Layer, name string, provider symbols.Provider, id string) (*Task, error) {
	if len(layers) == 0 {
		return nil, errors.New("empty layer")
	}
	workerCount := viper.GetInt("task.workers")
	if workerCount < 1 {
		workerCount = 1
	}
	backend := &symbols.MemoryBackend{MaxBytes: viper.GetInt64("gpu.maxbytes")}
	dispatcher := symbols.NewGPUThreadDispatcher()
	manager := symbols.NewResourcesManager(backend, dispatcher)
	task := &Task{
		ID:         uuid.New().String(),
		Name:       name,
		Layers:     layers,
		MinZoom:    int(layers[0].Zoom),
		MaxZoom:    int(layers[len(layers)-1].Zoom),
		manager:    manager,
		collection: manager.NewCollection(name),
		dispatcher: dispatcher,
		backend:    backend,
		retries:    viper.GetInt("task.retry"),
		workers:    make(chan maptile.Tile, workerCount),
		redisPool: &redis.Pool{
			MaxIdle:     16,
			MaxActive:   32,
			IdleTimeout: 120 * time.Second,
			Dial: func() (redis.Conn, error) {
				return redis.Dial("tcp", viper.GetString("redis.addr"))
			},
		},
	}
	if id != "" {
		task.ID = id
		if cz := task.getCursor(); cz > task.MinZoom {
			task.MinZoom = cz
		}
	}
	if err := manager.BindProvider(task.collection.ID, provider); err != nil {
		return nil, err
	}
	for _, layer := range layers {
		task.Total += layer.Count
	}
	task.setSignal(Initialize)
	return task, nil
}

func (task *Task) setSignal(s State) {
	task.signal.Store(int32(s))
}

func (task *Task) state() State {
	return State(task.signal.Load())
}

// tileLoader obtains the tile's symbols on a worker and uploads them on the
// GPU thread. Failures go to the retry list.
func (task *Task) tileLoader(ctx context.Context, t maptile.Tile, isRetry bool) {
	defer func() {
		task.wg.Done()
		<-task.workers
	}()
	r, _ := task.collection.ObtainResource(task.manager, t)
	if !r.Obtained() {
		available, err := r.ObtainData(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			task.failed.Add(1)
			task.errToRedis(t, "obtain: "+err.Error())
			log.Errorf("obtain %s symbols error ~ %s", ToString(t), err)
			return
		}
		if !available {
			if isRetry {
				task.cleanFail(t)
			}
			task.errToRedis(t, "nil tile")
			return
		}
	}
	var err error
	if !task.dispatcher.InvokeSync(func() { err = r.UploadToGPU() }) {
		return
	}
	if err != nil {
		task.failed.Add(1)
		task.errToRedis(t, "upload: "+err.Error())
		return
	}
	task.loaded.Add(1)
	if isRetry {
		task.cleanFail(t)
	}
}

//viewLayer 加载一个级别的全部瓦片
func (task *Task) viewLayer(ctx context.Context, layer Layer) []maptile.Tile {
	bar := pb.New(layer.Count)
	bar.Set("prefix", fmt.Sprintf("Zoom %d : ", layer.Zoom))
	bar.Start()
	tileList := make(chan maptile.Tile)
	go func() {
		err := GenerateTiles(&GenerateTilesOptions{
			Collection: layer.Collection,
			Zoom:       layer.Zoom,
			Consumer:   tileList,
		})
		if err != nil {
			log.Errorf("cover zoom %d error ~ %s", layer.Zoom, err)
		}
	}()

	var inView []maptile.Tile
	for t := range tileList {
		select {
		case task.workers <- t:
			bar.Increment()
			inView = append(inView, t)
			task.wg.Add(1)
			go task.tileLoader(ctx, t, false)
		case <-ctx.Done():
			// drain the generator
			for range tileList {
			}
		}
	}
	task.wg.Wait()
	bar.Finish()
	for i := 0; i < task.retries && ctx.Err() == nil; i++ {
		if task.retry(ctx) == 0 {
			break
		}
	}
	log.Infof("task %s zoom %d in view, %d tile(s), %d shared group(s)", task.ID, layer.Zoom,
		len(inView), task.collection.SharedGroupsResources(layer.Zoom).Len())
	return inView
}

// releaseLayer drops tiles that left the view. Their GPU resources are freed
// on the GPU thread.
func (task *Task) releaseLayer(tiles []maptile.Tile) {
	for _, t := range tiles {
		task.collection.ReleaseResource(t)
	}
}

//Run 开启视图任务
func (task *Task) Run(ctx context.Context) {
	task.setSignal(Running)
	go task.dispatcher.Run()
	var inView []maptile.Tile
	for _, layer := range task.Layers {
		if ctx.Err() != nil {
			task.setSignal(Aborting)
			log.Infof("task %s got canceled.", task.ID)
			break
		}
		if int(layer.Zoom) < task.MinZoom {
			continue
		}
		task.curZoom.Store(int32(layer.Zoom))
		task.saveCursor()
		next := task.viewLayer(ctx, layer)
		task.releaseLayer(inView)
		inView = next
	}
	if task.state() == Running {
		task.setSignal(Ending)
	}
	task.releaseLayer(inView)
	task.dispatcher.Close()
	<-task.dispatcher.Done()
	if task.state() == Ending && task.failed.Load() == 0 {
		task.cleanInfo()
	}
	_ = task.redisPool.Close()
	task.setSignal(Terminated)
	stats := task.backend.Stats()
	log.Infof("task %s finished ~ %d loaded, %d failed, %d texture(s) uploaded, %d resident", task.ID,
		task.loaded.Load(), task.failed.Load(), stats.Uploads, stats.Textures)
}
