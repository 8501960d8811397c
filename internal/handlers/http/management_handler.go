package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/services"
	"quickdowntime/internal/infrastructure/middleware"
	apperrors "quickdowntime/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ManagementHandler serves the manager dashboard. Every route expects an
// authenticated manager.
type ManagementHandler struct {
	ingestion Ingestor
	reporting Reporter
}

func NewManagementHandler(ingestion Ingestor, reporting Reporter) *ManagementHandler {
	return &ManagementHandler{ingestion: ingestion, reporting: reporting}
}

func (h *ManagementHandler) SetupRoutes(rg gin.IRouter) {
	rg.GET("/kpis", h.KPIs)
	rg.GET("/downtimes", h.ListDowntimes)
	rg.GET("/downtimes/:id", h.GetDowntime)
	rg.PATCH("/downtimes/:id/resolve", h.ResolveDowntime)
	rg.GET("/alerts", h.Alerts)
	rg.GET("/alerts/unseen-count", h.UnseenCount)
	rg.POST("/alerts/mark-seen", h.MarkAllSeen)
	rg.POST("/alerts/:id/mark-seen", h.MarkSeen)
	rg.GET("/stats/machines", h.TopMachines)
	rg.GET("/stats/root-causes", h.TopRootCauses)
	rg.GET("/stats/hourly", h.HourlyTrend)
	rg.GET("/stats/daily", h.DailyTrend)
	rg.GET("/stats/weekly", h.WeeklyTrend)
	rg.GET("/machines/status", h.MachineStatus)
	rg.GET("/machines/:machine_id/history", h.MachineHistory)
	rg.GET("/machines/:machine_id/heartbeat", h.MachineHeartbeat)
}

func (h *ManagementHandler) KPIs(c *gin.Context) {
	kpis, err := h.reporting.KPIs(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, kpis)
}

func (h *ManagementHandler) ListDowntimes(c *gin.Context) {
	q, err := listQueryFrom(c)
	if err != nil {
		fail(c, err)
		return
	}

	page, err := h.reporting.ListDowntimes(c.Request.Context(), q)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ManagementHandler) GetDowntime(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}

	d, err := h.reporting.GetDowntime(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type resolveRequest struct {
	ResolutionNotes string `json:"resolution_notes"`
}

func (h *ManagementHandler) ResolveDowntime(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, domain.ErrUnauthorized)
		return
	}
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}

	var req resolveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, apperrors.NewInvalidInputError("invalid request format"))
			return
		}
	}

	resolved, err := h.ingestion.Resolve(c.Request.Context(), id, user, req.ResolutionNotes)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Downtime resolved",
		"data":    resolved,
	})
}

func (h *ManagementHandler) Alerts(c *gin.Context) {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		fail(c, err)
		return
	}

	onlyUnseen, _ := strconv.ParseBool(c.DefaultQuery("only_unseen", "false"))

	alerts, err := h.reporting.Alerts(c.Request.Context(), limit, onlyUnseen)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (h *ManagementHandler) UnseenCount(c *gin.Context) {
	n, err := h.reporting.UnseenCount(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *ManagementHandler) MarkAllSeen(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, domain.ErrUnauthorized)
		return
	}

	marked, err := h.reporting.MarkAllSeen(c.Request.Context(), user)
	if err != nil {
		fail(c, err)
		return
	}

	message := "No unseen alerts"
	if marked > 0 {
		message = fmt.Sprintf("Marked %d alert(s) as seen", marked)
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked, "message": message})
}

func (h *ManagementHandler) MarkSeen(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, domain.ErrUnauthorized)
		return
	}
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}

	if _, err := h.reporting.MarkSeen(c.Request.Context(), id, user); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Alert marked as seen"})
}

func (h *ManagementHandler) TopMachines(c *gin.Context) {
	n, err := intQuery(c, "top_n", 10)
	if err != nil {
		fail(c, err)
		return
	}

	top, err := h.reporting.TopMachines(c.Request.Context(), n)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"top_machines": top})
}

func (h *ManagementHandler) TopRootCauses(c *gin.Context) {
	causes, err := h.reporting.TopRootCauses(c.Request.Context(), 10)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, causes)
}

func (h *ManagementHandler) HourlyTrend(c *gin.Context) {
	hours, err := h.reporting.HourlyTrend(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, hours)
}

func (h *ManagementHandler) DailyTrend(c *gin.Context) {
	days, err := h.reporting.DailyTrend(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, days)
}

func (h *ManagementHandler) WeeklyTrend(c *gin.Context) {
	weeks, err := h.reporting.WeeklyTrend(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, weeks)
}

func (h *ManagementHandler) MachineHistory(c *gin.Context) {
	history, err := h.reporting.MachineHistory(c.Request.Context(), c.Param("machine_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *ManagementHandler) MachineHeartbeat(c *gin.Context) {
	beats, err := h.reporting.MachineHeartbeat(c.Request.Context(), c.Param("machine_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, beats)
}

func (h *ManagementHandler) MachineStatus(c *gin.Context) {
	statuses, err := h.reporting.MachineStatus(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, statuses)
}

func listQueryFrom(c *gin.Context) (services.ListQuery, error) {
	page, err := intQuery(c, "page", 1)
	if err != nil {
		return services.ListQuery{}, err
	}
	perPage, err := intQuery(c, "per_page", 25)
	if err != nil {
		return services.ListQuery{}, err
	}

	f := domain.DowntimeFilter{
		MachineID:     c.Query("machine_id"),
		Category:      c.Query("category"),
		Reason:        c.Query("reason"),
		Severity:      c.Query("severity"),
		Status:        domain.Status(c.Query("status")),
		OperatorEmail: c.Query("operator_email"),
		OrderBy:       c.DefaultQuery("order_by", "created_at"),
		Desc:          !strings.EqualFold(c.DefaultQuery("order_dir", "desc"), "asc"),
	}
	if f.StartAfter, err = timeQuery(c, "start_after"); err != nil {
		return services.ListQuery{}, err
	}
	if f.StartBefore, err = timeQuery(c, "start_before"); err != nil {
		return services.ListQuery{}, err
	}

	return services.ListQuery{Filter: f, Page: page, PerPage: perPage}, nil
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewInvalidInputError(name + " must be an integer")
	}
	return n, nil
}

var queryTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func timeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range queryTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, apperrors.NewInvalidInputError(name + " must be an ISO-8601 timestamp")
}
