package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func (task *Task) statusHandler(c *gin.Context) {
	shared := gin.H{}
	for zoom, stats := range task.collection.Stats() {
		refs := uint64(0)
		for _, s := range stats {
			refs += s.Refs
		}
		shared[ToZoomKey(uint32(zoom))] = gin.H{"groups": len(stats), "refs": refs}
	}
	c.JSON(http.StatusOK, gin.H{
		"id":      task.ID,
		"name":    task.Name,
		"title":   viper.GetString("app.title"),
		"version": viper.GetString("app.version"),
		"state":   task.state().String(),
		"zoom":    task.curZoom.Load(),
		"total":   task.Total,
		"loaded":  task.loaded.Load(),
		"failed":  task.failed.Load(),
		"tiles":   len(task.collection.Resources()),
		"symbols": task.manager.RegisteredSymbols(),
		"gpu":     task.backend.Stats(),
		"shared":  shared,
	})
}

func (task *Task) sharedHandler(c *gin.Context) {
	var zoom struct {
		Z uint32 `uri:"z" binding:"max=20"`
	}
	if err := c.ShouldBindUri(&zoom); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stats, ok := task.collection.Stats()[ZoomLevel(zoom.Z)]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "zoom not in view"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (task *Task) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/stats", task.statusHandler)
	router.GET("/stats/shared/:z", task.sharedHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// serve starts the status server in the background.
func (task *Task) serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: task.router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("status server error ~ %s", err)
		}
	}()
	return srv
}
