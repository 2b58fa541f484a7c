package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/AndySung320/bucketstore/internal/metrics"
	"github.com/AndySung320/bucketstore/internal/ratelimit"
)

// BucketService is the command layer the handlers drive.
type BucketService interface {
	Create(ctx context.Context, key string, capacity, fillRate int64) error
	Take(ctx context.Context, key string, tokens int64) (int64, error)
	Peek(ctx context.Context, key string) (int64, bool, error)
	Delete(ctx context.Context, key string) (bool, error)
}

type Snapshotter interface {
	Save(ctx context.Context) (int, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

var _ BucketService = (*ratelimit.Limiter)(nil)

type CreateRequest struct {
	Capacity *int64 `json:"capacity" binding:"required"`
	FillRate *int64 `json:"fill_rate" binding:"required"`
}

type CreateResponse struct {
	Result int64 `json:"result"`
}

// TakeRequest is optional; an empty body takes one token.
type TakeRequest struct {
	Tokens *int64 `json:"tokens"`
}

type TakeResponse struct {
	Granted int64 `json:"granted"`
}

// PeekResponse carries a null value when the key holds no bucket.
type PeekResponse struct {
	Value *int64 `json:"value"`
}

type SnapshotResponse struct {
	Buckets int `json:"buckets"`
}

type BucketHandler struct {
	service   BucketService
	store     Pinger
	snapshots Snapshotter
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
}

// NewBucketHandler wires the handlers. snapshots may be nil when
// snapshotting is disabled.
func NewBucketHandler(service BucketService, store Pinger, snapshots Snapshotter, m *metrics.Metrics, log logrus.FieldLogger) *BucketHandler {
	return &BucketHandler{
		service:   service,
		store:     store,
		snapshots: snapshots,
		metrics:   m,
		log:       log,
	}
}

func (h *BucketHandler) CreateHandler(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.service.Create(c.Request.Context(), c.Param("key"), *req.Capacity, *req.FillRate)
	if err != nil {
		h.metrics.ObserveCommand("create", metrics.OutcomeError)
		h.writeError(c, err)
		return
	}

	h.metrics.ObserveCommand("create", metrics.OutcomeOK)
	c.JSON(http.StatusOK, CreateResponse{Result: 0})
}

func (h *BucketHandler) TakeHandler(c *gin.Context) {
	var req TakeRequest
	// ContentLength is -1 for chunked bodies; an empty one reads as io.EOF.
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	tokens := int64(1)
	if req.Tokens != nil {
		tokens = *req.Tokens
	}

	granted, err := h.service.Take(c.Request.Context(), c.Param("key"), tokens)
	if err != nil {
		h.metrics.ObserveCommand("take", metrics.OutcomeError)
		h.writeError(c, err)
		return
	}

	if granted > 0 {
		h.metrics.ObserveCommand("take", metrics.OutcomeGranted)
		h.metrics.ObserveGranted(granted)
	} else {
		h.metrics.ObserveCommand("take", metrics.OutcomeRefused)
	}
	c.JSON(http.StatusOK, TakeResponse{Granted: granted})
}

func (h *BucketHandler) PeekHandler(c *gin.Context) {
	value, found, err := h.service.Peek(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.metrics.ObserveCommand("peek", metrics.OutcomeError)
		h.writeError(c, err)
		return
	}

	h.metrics.ObserveCommand("peek", metrics.OutcomeOK)
	if !found {
		c.JSON(http.StatusOK, PeekResponse{})
		return
	}
	c.JSON(http.StatusOK, PeekResponse{Value: &value})
}

func (h *BucketHandler) DeleteHandler(c *gin.Context) {
	if _, err := h.service.Delete(c.Request.Context(), c.Param("key")); err != nil {
		h.metrics.ObserveCommand("delete", metrics.OutcomeError)
		h.writeError(c, err)
		return
	}
	h.metrics.ObserveCommand("delete", metrics.OutcomeOK)
	c.Status(http.StatusNoContent)
}

func (h *BucketHandler) SnapshotHandler(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshots are disabled"})
		return
	}

	n, err := h.snapshots.Save(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SnapshotResponse{Buckets: n})
}

func (h *BucketHandler) HealthHandler(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"store":  "disconnected",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"store":  "connected",
	})
}

func (h *BucketHandler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ratelimit.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, ratelimit.ErrKeyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ratelimit.ErrClockUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithFields(logrus.Fields{
			"path":       c.FullPath(),
			"key":        c.Param("key"),
			"request_id": c.GetString(requestIDKey),
		}).Error("Command failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
