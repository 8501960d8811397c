package http

import (
	"net/http"

	"quickdowntime/internal/core/domain"

	"github.com/gin-gonic/gin"
)

// AIHandler exposes analyzer summaries and on-demand event analysis to managers.
type AIHandler struct {
	ingestion Ingestor
	reporting Reporter
}

func NewAIHandler(ingestion Ingestor, reporting Reporter) *AIHandler {
	return &AIHandler{ingestion: ingestion, reporting: reporting}
}

func (h *AIHandler) SetupRoutes(rg gin.IRouter) {
	rg.GET("/daily", h.Daily)
	rg.GET("/weekly", h.Weekly)
	rg.GET("/:id", h.Event)
}

func (h *AIHandler) Daily(c *gin.Context) {
	h.summary(c, domain.PeriodDaily)
}

func (h *AIHandler) Weekly(c *gin.Context) {
	h.summary(c, domain.PeriodWeekly)
}

func (h *AIHandler) summary(c *gin.Context, period domain.SummaryPeriod) {
	summary, err := h.reporting.Summary(c.Request.Context(), period)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Event analyzes one stored record. The verdict is not persisted.
func (h *AIHandler) Event(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}

	verdict, err := h.ingestion.Analyze(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}
