package rewards

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/pagination"
)

// Handler handles HTTP requests for the rewards service
type Handler struct {
	service *Service
}

// NewHandler creates a new rewards handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func parseActor(c *gin.Context, field, value string) (uuid.UUID, bool) {
	id, err := uuid.Parse(value)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid "+field)
		return uuid.Nil, false
	}
	return id, true
}

// GetReward retrieves a single reward
func (h *Handler) GetReward(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "reward id")
	if !ok {
		return
	}

	reward, err := h.service.GetReward(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "failed to get reward") {
		return
	}

	common.SuccessResponse(c, reward)
}

// ListRewards lists a recipient's rewards
func (h *Handler) ListRewards(c *gin.Context) {
	recipientID, err := uuid.Parse(c.Query("recipient_id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid recipient_id")
		return
	}

	params := pagination.ParseParams(c)
	result, total, listErr := h.service.ListRewards(c.Request.Context(), recipientID, c.Query("status"), params.Limit, params.Offset)
	if common.HandleServiceError(c, listErr, "failed to list rewards") {
		return
	}

	common.SuccessResponseWithMeta(c, result, pagination.BuildMeta(params.Limit, params.Offset, int64(total)))
}

// ApproveReward transitions a pending reward to approved
func (h *Handler) ApproveReward(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "reward id")
	if !ok {
		return
	}

	var req struct {
		ApprovedBy string `json:"approved_by" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	approver, ok := parseActor(c, "approved_by", req.ApprovedBy)
	if !ok {
		return
	}

	reward, err := h.service.Approve(c.Request.Context(), id, approver)
	if common.HandleServiceError(c, err, "failed to approve reward") {
		return
	}

	common.SuccessResponse(c, reward)
}

// RejectReward transitions a reward to rejected with a structured reason
func (h *Handler) RejectReward(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "reward id")
	if !ok {
		return
	}

	var req struct {
		RejectedBy string `json:"rejected_by" binding:"required"`
		Reason     string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	rejector, ok := parseActor(c, "rejected_by", req.RejectedBy)
	if !ok {
		return
	}

	reward, err := h.service.Reject(c.Request.Context(), id, rejector, req.Reason)
	if common.HandleServiceError(c, err, "failed to reject reward") {
		return
	}

	common.SuccessResponse(c, reward)
}

// MarkRewardPaid transitions an approved reward to paid
func (h *Handler) MarkRewardPaid(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "reward id")
	if !ok {
		return
	}

	var req struct {
		PaidBy        string `json:"paid_by" binding:"required"`
		TransactionID string `json:"transaction_id" binding:"required"`
		PaymentMethod string `json:"payment_method" binding:"required,payout_method"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	payer, ok := parseActor(c, "paid_by", req.PaidBy)
	if !ok {
		return
	}

	reward, err := h.service.MarkPaid(c.Request.Context(), id, payer, req.TransactionID, req.PaymentMethod)
	if common.HandleServiceError(c, err, "failed to mark reward paid") {
		return
	}

	common.SuccessResponse(c, reward)
}

// BulkApproveRewards approves a batch of rewards best-effort
func (h *Handler) BulkApproveRewards(c *gin.Context) {
	var req struct {
		IDs        []string `json:"ids" binding:"required,min=1"`
		ApprovedBy string   `json:"approved_by" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	approver, ok := parseActor(c, "approved_by", req.ApprovedBy)
	if !ok {
		return
	}

	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "invalid reward id "+raw)
			return
		}
		ids = append(ids, id)
	}

	result := h.service.BulkApprove(c.Request.Context(), ids, approver)
	common.SuccessResponse(c, result)
}

// GetApprovedBalance returns a recipient's approved-unpaid net total
func (h *Handler) GetApprovedBalance(c *gin.Context) {
	recipientID, err := uuid.Parse(c.Query("recipient_id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid recipient_id")
		return
	}

	balance, balErr := h.service.ApprovedBalance(c.Request.Context(), recipientID)
	if common.HandleServiceError(c, balErr, "failed to get approved balance") {
		return
	}

	common.SuccessResponse(c, gin.H{"recipient_id": recipientID, "approved_balance": balance})
}

// RegisterRoutes wires the rewards endpoints onto the router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/rewards", h.ListRewards)
	rg.GET("/rewards/:id", h.GetReward)
	rg.POST("/rewards/:id/approve", h.ApproveReward)
	rg.POST("/rewards/:id/reject", h.RejectReward)
	rg.POST("/rewards/:id/pay", h.MarkRewardPaid)
	rg.GET("/reward-balance", h.GetApprovedBalance)
	rg.POST("/reward-approvals", h.BulkApproveRewards)
}
