// Package health exposes the worker's operational surface: a single HTTP
// endpoint reporting record store connectivity, queue depth and scratch disk
// headroom. The same check backs the transcodectl health command.
package health

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/clipstream/transcoder/internal/queue"
)

// DiskFreeFunc reports free bytes for a path.
type DiskFreeFunc func(path string) (uint64, error)

// Check gathers the health snapshot exposed over HTTP and by transcodectl.
type Check struct {
	db         *gorm.DB
	queue      *queue.Queue
	scratchDir string
	diskFree   DiskFreeFunc
}

// NewCheck creates a health check over the worker's shared resources.
func NewCheck(db *gorm.DB, q *queue.Queue, scratchDir string, diskFree DiskFreeFunc) *Check {
	return &Check{db: db, queue: q, scratchDir: scratchDir, diskFree: diskFree}
}

// Status is one health snapshot.
type Status struct {
	Healthy          bool             `json:"healthy"`
	Database         string           `json:"database"`
	Queue            map[string]int64 `json:"queue"`
	ScratchFreeBytes uint64           `json:"scratch_free_bytes"`
}

// Run performs every check and reports the combined result.
func (c *Check) Run(ctx context.Context) Status {
	status := Status{Healthy: true, Database: "ok", Queue: map[string]int64{}}

	sqlDB, err := c.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		status.Healthy = false
		status.Database = err.Error()
	}

	counts, err := c.queue.CountByStatus(ctx)
	if err != nil {
		status.Healthy = false
	} else {
		for s, n := range counts {
			status.Queue[string(s)] = n
		}
	}

	if free, err := c.diskFree(c.scratchDir); err == nil {
		status.ScratchFreeBytes = free
	}
	return status
}

// NewRouter builds the gin engine serving GET /healthz.
func NewRouter(check *Check) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(ctx *gin.Context) {
		status := check.Run(ctx.Request.Context())
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		ctx.JSON(code, status)
	})
	return r
}
