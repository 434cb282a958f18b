package payouts

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/pagination"
)

// Handler handles HTTP requests for the payouts service
type Handler struct {
	service *Service
}

// NewHandler creates a new payouts handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RequestPayout creates a pending payout request
func (h *Handler) RequestPayout(c *gin.Context) {
	var req struct {
		UserID        string  `json:"user_id" binding:"required"`
		Amount        float64 `json:"amount" binding:"required,gt=0"`
		ProcessingFee float64 `json:"processing_fee" binding:"omitempty,gte=0"`
		TaxDeduction  float64 `json:"tax_deduction" binding:"omitempty,gte=0"`
		Currency      string  `json:"currency" binding:"omitempty,len=3"`
		Method        string  `json:"method" binding:"required,payout_method"`
		Details       string  `json:"details" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid user_id")
		return
	}

	payout, reqErr := h.service.Request(c.Request.Context(), RequestInput{
		UserID:        userID,
		Amount:        req.Amount,
		ProcessingFee: req.ProcessingFee,
		TaxDeduction:  req.TaxDeduction,
		Currency:      req.Currency,
		Method:        req.Method,
		Details:       req.Details,
	})
	if common.HandleServiceError(c, reqErr, "failed to request payout") {
		return
	}

	common.CreatedResponse(c, payout)
}

// GetPayout retrieves a payout
func (h *Handler) GetPayout(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "payout id")
	if !ok {
		return
	}

	payout, err := h.service.Get(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "failed to get payout") {
		return
	}

	common.SuccessResponse(c, payout)
}

// ListPayouts lists a user's payouts
func (h *Handler) ListPayouts(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid user_id")
		return
	}

	params := pagination.ParseParams(c)
	payouts, total, listErr := h.service.List(c.Request.Context(), userID, c.Query("status"), params.Limit, params.Offset)
	if common.HandleServiceError(c, listErr, "failed to list payouts") {
		return
	}

	common.SuccessResponseWithMeta(c, payouts, pagination.BuildMeta(params.Limit, params.Offset, int64(total)))
}

// ApprovePayout transitions a pending payout to approved
func (h *Handler) ApprovePayout(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "payout id")
	if !ok {
		return
	}

	var req struct {
		ApprovedBy    string `json:"approved_by" binding:"required"`
		EstimatedDays int    `json:"estimated_days" binding:"omitempty,min=1,max=90"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	approver, err := uuid.Parse(req.ApprovedBy)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid approved_by")
		return
	}

	payout, appErr := h.service.Approve(c.Request.Context(), id, approver, req.EstimatedDays)
	if common.HandleServiceError(c, appErr, "failed to approve payout") {
		return
	}

	common.SuccessResponse(c, payout)
}

// MarkPayoutProcessing transitions an approved payout to processing
func (h *Handler) MarkPayoutProcessing(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "payout id")
	if !ok {
		return
	}

	var req struct {
		ProcessingBy string `json:"processing_by" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	processor, err := uuid.Parse(req.ProcessingBy)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid processing_by")
		return
	}

	payout, procErr := h.service.MarkProcessing(c.Request.Context(), id, processor)
	if common.HandleServiceError(c, procErr, "failed to mark payout processing") {
		return
	}

	common.SuccessResponse(c, payout)
}

// CompletePayout transitions a processing payout to paid
func (h *Handler) CompletePayout(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "payout id")
	if !ok {
		return
	}

	var req struct {
		TransactionID string `json:"transaction_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	payout, err := h.service.Complete(c.Request.Context(), id, req.TransactionID)
	if common.HandleServiceError(c, err, "failed to complete payout") {
		return
	}

	common.SuccessResponse(c, payout)
}

// FailPayout moves a non-terminal payout to failed
func (h *Handler) FailPayout(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "payout id")
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	payout, err := h.service.Fail(c.Request.Context(), id, req.Reason)
	if common.HandleServiceError(c, err, "failed to fail payout") {
		return
	}

	common.SuccessResponse(c, payout)
}

// RegisterRoutes wires the payout endpoints onto the router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/payouts", h.RequestPayout)
	rg.GET("/payouts", h.ListPayouts)
	rg.GET("/payouts/:id", h.GetPayout)
	rg.POST("/payouts/:id/approve", h.ApprovePayout)
	rg.POST("/payouts/:id/process", h.MarkPayoutProcessing)
	rg.POST("/payouts/:id/complete", h.CompletePayout)
	rg.POST("/payouts/:id/fail", h.FailPayout)
}
