package http

import (
	"net/http"
	"strings"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/infrastructure/middleware"
	apperrors "quickdowntime/pkg/errors"

	"github.com/gin-gonic/gin"
)

// OperatorHandler serves the shop-floor endpoints. Every route expects an
// authenticated operator.
type OperatorHandler struct {
	ingestion Ingestor
	reporting Reporter
	maxUpload int64
}

func NewOperatorHandler(ingestion Ingestor, reporting Reporter, maxUpload int64) *OperatorHandler {
	return &OperatorHandler{
		ingestion: ingestion,
		reporting: reporting,
		maxUpload: maxUpload,
	}
}

// SetupRoutes mounts the operator routes. The submit handlers run ahead of
// the record-creating route only.
func (h *OperatorHandler) SetupRoutes(rg gin.IRouter, submit ...gin.HandlerFunc) {
	rg.POST("/log", append(submit, h.LogDowntime)...)
	rg.GET("/active", h.ActiveDowntimes)
	rg.GET("/resolved", h.ResolvedDowntimes)
	rg.POST("/resolve", h.ResolveDowntime)
}

func (h *OperatorHandler) LogDowntime(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, domain.ErrUnauthorized)
		return
	}

	sub, err := readSubmission(c, h.maxUpload)
	if err != nil {
		fail(c, err)
		return
	}
	sub.OperatorID = user.ID
	sub.OperatorEmail = user.Email

	result, err := h.ingestion.Submit(c.Request.Context(), sub)
	if err != nil {
		fail(c, err)
		return
	}

	if result.Status == domain.IngestQueued {
		c.JSON(http.StatusAccepted, gin.H{
			"message":     "Downtime queued for sync",
			"status":      result.Status,
			"queued_file": result.QueuedFile,
			"error":       result.Error,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":     "Downtime logged",
		"status":      result.Status,
		"data":        result.Downtime,
		"ai_analysis": result.Verdict,
	})
}

func (h *OperatorHandler) ActiveDowntimes(c *gin.Context) {
	h.listOwn(c, domain.StatusOpen, "active")
}

func (h *OperatorHandler) ResolvedDowntimes(c *gin.Context) {
	h.listOwn(c, domain.StatusResolved, "resolved")
}

func (h *OperatorHandler) listOwn(c *gin.Context, status domain.Status, key string) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, domain.ErrUnauthorized)
		return
	}

	records, err := h.reporting.OperatorDowntimes(c.Request.Context(), user.ID, status)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{key: records})
}

type operatorResolveRequest struct {
	ID    string `form:"id" json:"id"`
	Notes string `form:"notes" json:"notes"`
}

func (h *OperatorHandler) ResolveDowntime(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, domain.ErrUnauthorized)
		return
	}

	var req operatorResolveRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		fail(c, apperrors.NewInvalidInputError("id is required"))
		return
	}
	id, ok := parseID(c, req.ID)
	if !ok {
		return
	}

	resolved, err := h.ingestion.Resolve(c.Request.Context(), id, user, req.Notes)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "Downtime resolved",
		"downtime": resolved,
	})
}
