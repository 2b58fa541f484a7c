package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AndySung320/bucketstore/internal/metrics"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

func NewRouter(h *BucketHandler, m *metrics.Metrics, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(log))

	r.GET("/health", h.HealthHandler)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	buckets := r.Group("/buckets")
	buckets.POST("/:key", h.CreateHandler)
	buckets.POST("/:key/take", h.TakeHandler)
	buckets.GET("/:key", h.PeekHandler)
	buckets.DELETE("/:key", h.DeleteHandler)

	r.POST("/admin/snapshot", h.SnapshotHandler)

	return r
}

// RequestID tags every request with an ID, reusing the caller's if given.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.WithFields(logrus.Fields{
			"request_id": c.GetString(requestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
		}).Debug("Handled request")
	}
}
