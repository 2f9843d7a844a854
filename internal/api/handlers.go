package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"failure-backfill/internal/logging"
	"failure-backfill/internal/models"
)

// BatchProcessor runs one batch of raw failure messages.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, msgs []models.RawMessage) models.BatchSummary
}

type Handler struct {
	proc     BatchProcessor
	status   *Status
	hub      *Hub
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

func NewHandler(proc BatchProcessor, status *Status, hub *Hub, logger *logging.Logger) *Handler {
	return &Handler{
		proc:   proc,
		status: status,
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *Handler) GetLatestBatch(c *gin.Context) {
	summary, ok := h.status.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No batch processed yet"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Stats())
}

// SubmitFailure processes one failure event posted directly, bypassing the topic.
func (h *Handler) SubmitFailure(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.logger.Errorf("Failed to read request body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	summary := h.proc.ProcessBatch(c.Request.Context(), []models.RawMessage{{Topic: "http", Value: body}})
	switch {
	case summary.DecodeFailures > 0:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid failure event", "batch": summary})
	case !summary.Complete():
		c.JSON(http.StatusBadGateway, gin.H{"error": "Backfill incomplete", "batch": summary})
	default:
		c.JSON(http.StatusOK, summary)
	}
}

// StreamBatches upgrades to a websocket and pushes every batch summary.
func (h *Handler) StreamBatches(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("Websocket upgrade failed: %v", err)
		return
	}
	if !h.hub.Add(conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many subscribers"))
		_ = conn.Close()
		return
	}
	defer h.hub.Remove(conn)

	// drain client frames until it goes away
	for {
		if _, _, err := conn.NextReader(); err != nil {
			_ = conn.Close()
			return
		}
	}
}
