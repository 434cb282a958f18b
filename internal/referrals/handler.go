package referrals

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/pagination"
)

// Handler handles HTTP requests for the referrals service
type Handler struct {
	service *Service
}

// NewHandler creates a new referrals handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func actorID(c *gin.Context) string {
	// The gateway in front of this service authenticates the caller.
	return c.GetHeader("X-Actor-ID")
}

// CreateReferral registers a new pending referral
func (h *Handler) CreateReferral(c *gin.Context) {
	var req struct {
		ProgramID     string `json:"program_id" binding:"required"`
		ReferrerID    string `json:"referrer_id" binding:"required"`
		RefereeEmail  string `json:"referee_email" binding:"omitempty,email"`
		RefereePhone  string `json:"referee_phone"`
		RefereeUserID string `json:"referee_user_id"`
		Code          string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	programID, err := uuid.Parse(req.ProgramID)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid program_id")
		return
	}
	referrerID, err := uuid.Parse(req.ReferrerID)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid referrer_id")
		return
	}

	input := CreateInput{
		ProgramID:    programID,
		ReferrerID:   referrerID,
		RefereeEmail: req.RefereeEmail,
		RefereePhone: req.RefereePhone,
		Code:         req.Code,
	}
	if req.RefereeUserID != "" {
		refereeID, err := uuid.Parse(req.RefereeUserID)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid referee_user_id")
			return
		}
		input.RefereeUserID = &refereeID
	}

	result, err := h.service.Create(c.Request.Context(), input)
	if common.HandleServiceError(c, err, "failed to create referral") {
		return
	}

	common.CreatedResponse(c, result)
}

// GetReferral retrieves a referral with its status history
func (h *Handler) GetReferral(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "referral id")
	if !ok {
		return
	}

	detail, err := h.service.Get(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "failed to get referral") {
		return
	}

	common.SuccessResponse(c, detail)
}

// ListReferrals lists referrals matching the query filters
func (h *Handler) ListReferrals(c *gin.Context) {
	filter := ListFilter{Status: c.Query("status")}

	if raw := c.Query("program_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid program_id")
			return
		}
		filter.ProgramID = &id
	}
	if raw := c.Query("referrer_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid referrer_id")
			return
		}
		filter.ReferrerID = &id
	}
	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		filter.From = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		filter.To = &to
	}

	params := pagination.ParseParams(c)
	referrals, total, err := h.service.List(c.Request.Context(), filter, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to list referrals") {
		return
	}

	common.SuccessResponseWithMeta(c, referrals, pagination.BuildMeta(params.Limit, params.Offset, int64(total)))
}

// ConvertReferral completes a pending referral against its booking
func (h *Handler) ConvertReferral(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "referral id")
	if !ok {
		return
	}

	var req struct {
		BookingID      string  `json:"booking_id" binding:"required"`
		BookingAmount  float64 `json:"booking_amount" binding:"required,gt=0"`
		StayMonths     int     `json:"stay_months" binding:"required,min=1,max=24"`
		RefereeUserID  string  `json:"referee_user_id"`
		ReferrerReward float64 `json:"referrer_reward" binding:"omitempty,gte=0"`
		RefereeReward  float64 `json:"referee_reward" binding:"omitempty,gte=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	bookingID, err := uuid.Parse(req.BookingID)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid booking_id")
		return
	}

	input := ConvertInput{
		BookingID:      bookingID,
		BookingAmount:  req.BookingAmount,
		StayMonths:     req.StayMonths,
		ReferrerReward: req.ReferrerReward,
		RefereeReward:  req.RefereeReward,
		Actor:          actorID(c),
	}
	if req.RefereeUserID != "" {
		refereeID, err := uuid.Parse(req.RefereeUserID)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid referee_user_id")
			return
		}
		input.RefereeUserID = &refereeID
	}

	referral, convErr := h.service.Convert(c.Request.Context(), id, input)
	if common.HandleServiceError(c, convErr, "failed to convert referral") {
		return
	}

	common.SuccessResponse(c, referral)
}

// CancelReferral cancels a pending referral
func (h *Handler) CancelReferral(c *gin.Context) {
	h.terminate(c, h.service.Cancel)
}

// ExpireReferral expires a pending referral
func (h *Handler) ExpireReferral(c *gin.Context) {
	h.terminate(c, h.service.Expire)
}

func (h *Handler) terminate(c *gin.Context, op func(ctx context.Context, id uuid.UUID, actor, reason string) (*Referral, error)) {
	id, ok := common.ParseUUIDParam(c, "id", "referral id")
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	referral, err := op(c.Request.Context(), id, actorID(c), req.Reason)
	if common.HandleServiceError(c, err, "failed to update referral") {
		return
	}

	common.SuccessResponse(c, referral)
}

// SweepExpiredReferrals expires stale pending referrals in one batch
func (h *Handler) SweepExpiredReferrals(c *gin.Context) {
	var req struct {
		OlderThanDays int `json:"older_than_days" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.SweepExpired(c.Request.Context(), req.OlderThanDays)
	if common.HandleServiceError(c, err, "failed to sweep referrals") {
		return
	}

	common.SuccessResponse(c, result)
}

// RegisterRoutes wires the referral endpoints onto the router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/referrals", h.CreateReferral)
	rg.GET("/referrals", h.ListReferrals)
	rg.GET("/referrals/:id", h.GetReferral)
	rg.POST("/referrals/:id/convert", h.ConvertReferral)
	rg.POST("/referrals/:id/cancel", h.CancelReferral)
	rg.POST("/referrals/:id/expire", h.ExpireReferral)
	rg.POST("/referral-sweeps", h.SweepExpiredReferrals)
}
