package analytics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bunkmate/referral-service/pkg/common"
)

// Handler handles HTTP requests for analytics
type Handler struct {
	service *Service
}

// NewHandler creates a new analytics handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// GetOverview handles overview snapshot requests
func (h *Handler) GetOverview(c *gin.Context) {
	overview, err := h.service.GetOverview(c.Request.Context())
	if common.HandleServiceError(c, err, "failed to get overview") {
		return
	}

	common.SuccessResponse(c, overview)
}

// GetFunnel handles conversion funnel requests
func (h *Handler) GetFunnel(c *gin.Context) {
	programID, ok := common.ParseUUIDParam(c, "id", "program id")
	if !ok {
		return
	}

	startDate, endDate, err := parseDateRange(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	funnel, funnelErr := h.service.GetFunnel(c.Request.Context(), programID, startDate, endDate)
	if common.HandleServiceError(c, funnelErr, "failed to get funnel") {
		return
	}

	common.SuccessResponse(c, funnel)
}

// GetLeaderboard handles referrer leaderboard requests
func (h *Handler) GetLeaderboard(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	entries, err := h.service.GetLeaderboard(c.Request.Context(), limit)
	if common.HandleServiceError(c, err, "failed to get leaderboard") {
		return
	}

	// Ensure we return empty array instead of null
	if entries == nil {
		entries = []*LeaderboardEntry{}
	}

	common.SuccessResponse(c, gin.H{"leaderboard": entries})
}

// GetReconciliation handles finance reconciliation requests
func (h *Handler) GetReconciliation(c *gin.Context) {
	rec, err := h.service.GetReconciliation(c.Request.Context())
	if common.HandleServiceError(c, err, "failed to get reconciliation") {
		return
	}

	common.SuccessResponse(c, rec)
}

// GetTrends handles time-bucketed trend requests
func (h *Handler) GetTrends(c *gin.Context) {
	startDate, endDate, err := parseDateRange(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	points, trendErr := h.service.GetTrends(c.Request.Context(), c.Query("bucket"), startDate, endDate)
	if common.HandleServiceError(c, trendErr, "failed to get trends") {
		return
	}

	if points == nil {
		points = []*TrendPoint{}
	}

	common.SuccessResponse(c, gin.H{"trends": points})
}

// RegisterRoutes wires the analytics endpoints onto the router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/analytics/overview", h.GetOverview)
	rg.GET("/analytics/programs/:id/funnel", h.GetFunnel)
	rg.GET("/analytics/leaderboard", h.GetLeaderboard)
	rg.GET("/analytics/reconciliation", h.GetReconciliation)
	rg.GET("/analytics/trends", h.GetTrends)
}

func parseDateRange(c *gin.Context) (time.Time, time.Time, error) {
	startDateStr := c.Query("start_date")
	endDateStr := c.Query("end_date")

	var startDate, endDate time.Time
	var err error

	// Default to last 30 days if not specified
	if startDateStr == "" {
		startDate = time.Now().AddDate(0, 0, -30).Truncate(24 * time.Hour)
	} else {
		startDate, err = time.Parse("2006-01-02", startDateStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}

	if endDateStr == "" {
		endDate = time.Now()
	} else {
		endDate, err = time.Parse("2006-01-02", endDateStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		// Set to end of day
		endDate = endDate.Add(24 * time.Hour).Add(-time.Second)
	}

	return startDate, endDate, nil
}
