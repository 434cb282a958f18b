package codes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/pagination"
)

// Handler handles HTTP requests for the codes service
type Handler struct {
	service *Service
}

// NewHandler creates a new codes handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// IssueCode mints a new referral code
func (h *Handler) IssueCode(c *gin.Context) {
	var req struct {
		OwnerID   string     `json:"owner_id" binding:"required"`
		ProgramID string     `json:"program_id" binding:"required"`
		Prefix    string     `json:"prefix"`
		MaxUses   int        `json:"max_uses" binding:"required,min=1,max=1000"`
		ExpiresAt *time.Time `json:"expires_at"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid owner_id")
		return
	}
	programID, err := uuid.Parse(req.ProgramID)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid program_id")
		return
	}

	code, err := h.service.Issue(c.Request.Context(), ownerID, programID, req.Prefix, req.MaxUses, req.ExpiresAt)
	if common.HandleServiceError(c, err, "failed to issue referral code") {
		return
	}

	common.CreatedResponse(c, code)
}

// ValidateCode answers whether a code is currently redeemable
func (h *Handler) ValidateCode(c *gin.Context) {
	codeStr := c.Param("code")
	if codeStr == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "code is required")
		return
	}

	validation, err := h.service.Validate(c.Request.Context(), codeStr)
	if common.HandleServiceError(c, err, "failed to validate referral code") {
		return
	}

	common.SuccessResponse(c, validation)
}

// RedeemCode consumes one use of a code
func (h *Handler) RedeemCode(c *gin.Context) {
	codeStr := c.Param("code")
	if codeStr == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "code is required")
		return
	}

	code, err := h.service.Redeem(c.Request.Context(), codeStr)
	if common.HandleServiceError(c, err, "failed to redeem referral code") {
		return
	}

	common.SuccessResponse(c, code)
}

// TrackEngagement records a funnel event against a code
func (h *Handler) TrackEngagement(c *gin.Context) {
	codeStr := c.Param("code")
	if codeStr == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "code is required")
		return
	}

	var req struct {
		Event string `json:"event" binding:"required,engagement_event"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if common.HandleServiceError(c, h.service.TrackEngagement(c.Request.Context(), codeStr, req.Event), "failed to track engagement") {
		return
	}

	common.SuccessResponse(c, gin.H{"tracked": true})
}

// GetCode retrieves a single code
func (h *Handler) GetCode(c *gin.Context) {
	codeStr := c.Param("code")
	if codeStr == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "code is required")
		return
	}

	code, err := h.service.GetCode(c.Request.Context(), codeStr)
	if common.HandleServiceError(c, err, "failed to get referral code") {
		return
	}

	common.SuccessResponse(c, code)
}

// ListCodes lists a referrer's codes
func (h *Handler) ListCodes(c *gin.Context) {
	ownerID, err := uuid.Parse(c.Query("owner_id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid owner_id")
		return
	}

	params := pagination.ParseParams(c)
	result, total, listErr := h.service.ListCodes(c.Request.Context(), ownerID, params.Limit, params.Offset)
	if common.HandleServiceError(c, listErr, "failed to list referral codes") {
		return
	}

	common.SuccessResponseWithMeta(c, result, pagination.BuildMeta(params.Limit, params.Offset, int64(total)))
}

// DeactivateCode turns a code off
func (h *Handler) DeactivateCode(c *gin.Context) {
	codeStr := c.Param("code")
	if codeStr == "" {
		common.ErrorResponse(c, http.StatusBadRequest, "code is required")
		return
	}

	if common.HandleServiceError(c, h.service.DeactivateCode(c.Request.Context(), codeStr), "failed to deactivate referral code") {
		return
	}

	common.SuccessResponse(c, gin.H{"deactivated": true})
}

// RegisterRoutes wires the codes endpoints onto the router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/codes", h.IssueCode)
	rg.GET("/codes", h.ListCodes)
	rg.GET("/codes/:code", h.GetCode)
	rg.GET("/codes/:code/validate", h.ValidateCode)
	rg.POST("/codes/:code/redeem", h.RedeemCode)
	rg.POST("/codes/:code/engagement", h.TrackEngagement)
	rg.POST("/codes/:code/deactivate", h.DeactivateCode)
}
