package main

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/gomodule/redigo/redis"
	"github.com/paulmach/orb/maptile"
	log "github.com/sirupsen/logrus"
)

//cleanInfo 任务完成, 清除断点与失败列表
func (task *Task) cleanInfo() {
	var conn redis.Conn
	defer func() {
		task.closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	_, _ = conn.Do("del", "cursor:"+task.ID)
	_, _ = conn.Do("del", "nil_list:"+task.ID)
	_, _ = conn.Do("del", "fail_list:"+task.ID)
}

// getCursor returns the zoom a resumed task stopped at, -1 if unknown.
func (task *Task) getCursor() int {
	var conn redis.Conn
	defer func() {
		task.closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	replay, err := redis.String(conn.Do("get", "cursor:"+task.ID))
	if err != nil {
		return -1
	}
	zoom, err := strconv.ParseInt(replay, 10, 64)
	if err != nil {
		return -1
	}
	return int(zoom)
}

func (task *Task) saveCursor() {
	var conn redis.Conn
	defer func() {
		task.closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	_, err := conn.Do("set", "cursor:"+task.ID, strconv.Itoa(int(task.curZoom.Load())))
	if err != nil {
		log.Errorf("redis save cursor failure ~ %s", err)
	}
}

func (task *Task) closeRedisConn(conn redis.Conn) {
	err := conn.Close()
	if err != nil {
		log.Errorf("redis connection close failure")
	}
}

func (task *Task) errToRedis(t maptile.Tile, res string) {
	var conn redis.Conn
	defer func() {
		task.closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	et := ErrTile{
		X:   t.X,
		Y:   t.Y,
		Z:   uint32(t.Z),
		Res: res,
	}
	val, _ := json.Marshal(et)
	list := "fail_list:"
	if res == "nil tile" {
		list = "nil_list:"
	}
	_, err := conn.Do("hset", list+task.ID, tileKey(t), val)
	if err != nil {
		log.Errorf("redis save tile failure ~ %s", err)
	}
}

func (task *Task) cleanFail(t maptile.Tile) {
	var conn redis.Conn
	defer func() {
		task.closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	_, err := conn.Do("hdel", "fail_list:"+task.ID, tileKey(t))
	if err != nil {
		log.Warnf("redis clean tile failure ~ %s", err)
	}
}

// retry reloads the failed tiles of the zoom in view and returns how many
// were attempted.
func (task *Task) retry(ctx context.Context) int {
	var conn redis.Conn
	defer func() {
		task.closeRedisConn(conn)
	}()
	conn = task.redisPool.Get()
	alls, err := redis.StringMap(conn.Do("hgetall", "fail_list:"+task.ID))
	if err != nil {
		return 0
	}
	zoom := maptile.Zoom(task.curZoom.Load())
	count := 0
	for kv := range alls {
		var te ErrTile
		err = json.Unmarshal([]byte(alls[kv]), &te)
		if err != nil {
			continue
		}
		t := maptile.New(te.X, te.Y, maptile.Zoom(te.Z))
		if t.Z != zoom {
			continue
		}
		if _, ok := task.collection.Resource(t); !ok {
			task.cleanFail(t)
			continue
		}
		select {
		case task.workers <- t:
			count++
			task.wg.Add(1)
			go task.tileLoader(ctx, t, true)
		case <-ctx.Done():
			task.wg.Wait()
			return count
		}
	}
	task.wg.Wait()
	return count
}
