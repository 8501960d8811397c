package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DowntimeHandler serves the kiosk upload endpoint and the manual queue
// replay.
type DowntimeHandler struct {
	ingestion Ingestor
	maxUpload int64
}

func NewDowntimeHandler(ingestion Ingestor, maxUpload int64) *DowntimeHandler {
	return &DowntimeHandler{ingestion: ingestion, maxUpload: maxUpload}
}

// LogLocal accepts a report without authentication. The reply is the raw
// ingest result: saved with the record, or queued with the queue file.
func (h *DowntimeHandler) LogLocal(c *gin.Context) {
	sub, err := readSubmission(c, h.maxUpload)
	if err != nil {
		fail(c, err)
		return
	}

	result, err := h.ingestion.Submit(c.Request.Context(), sub)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Sync replays the local queue into the record store.
func (h *DowntimeHandler) Sync(c *gin.Context) {
	summary, err := h.ingestion.SyncQueued(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
