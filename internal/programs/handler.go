package programs

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/pagination"
)

// Handler handles HTTP requests for the programs service
type Handler struct {
	service *Service
}

// NewHandler creates a new programs handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// actorID reads the acting admin's ID from the X-Actor-ID header. The
// gateway in front of this service authenticates the caller.
func actorID(c *gin.Context) *uuid.UUID {
	raw := c.GetHeader("X-Actor-ID")
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

type programRequest struct {
	Name                 string     `json:"name" binding:"required"`
	Description          string     `json:"description"`
	ReferrerReward       float64    `json:"referrer_reward" binding:"min=0"`
	RefereeReward        float64    `json:"referee_reward" binding:"min=0"`
	Currency             string     `json:"currency"`
	EligibleRoles        []string   `json:"eligible_roles"`
	MinBookingAmount     float64    `json:"min_booking_amount" binding:"min=0"`
	MinStayMonths        int        `json:"min_stay_months" binding:"required,min=1,max=24"`
	MaxReferralsPerUser  int        `json:"max_referrals_per_user" binding:"min=0"`
	MaxReferralsPerMonth int        `json:"max_referrals_per_month" binding:"min=0"`
	ValidFrom            *time.Time `json:"valid_from"`
	ValidTo              *time.Time `json:"valid_to"`
	IsActive             *bool      `json:"is_active"`
}

func (req *programRequest) toModel() *ReferralProgram {
	program := &ReferralProgram{
		Name:                 req.Name,
		Description:          req.Description,
		ReferrerReward:       req.ReferrerReward,
		RefereeReward:        req.RefereeReward,
		Currency:             req.Currency,
		EligibleRoles:        req.EligibleRoles,
		MinBookingAmount:     req.MinBookingAmount,
		MinStayMonths:        req.MinStayMonths,
		MaxReferralsPerUser:  req.MaxReferralsPerUser,
		MaxReferralsPerMonth: req.MaxReferralsPerMonth,
		ValidFrom:            req.ValidFrom,
		ValidTo:              req.ValidTo,
		IsActive:             true,
	}
	if req.IsActive != nil {
		program.IsActive = *req.IsActive
	}
	if program.Currency == "" {
		program.Currency = "INR"
	}
	if program.EligibleRoles == nil {
		program.EligibleRoles = []string{}
	}
	return program
}

// CreateProgram creates a new referral program (admin only)
func (h *Handler) CreateProgram(c *gin.Context) {
	var req programRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	program := req.toModel()
	program.CreatedBy = actorID(c)
	program.UpdatedBy = program.CreatedBy

	if common.HandleServiceError(c, h.service.CreateProgram(c.Request.Context(), program), "failed to create program") {
		return
	}

	common.CreatedResponse(c, program)
}

// GetProgram retrieves a single program
func (h *Handler) GetProgram(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "program id")
	if !ok {
		return
	}

	program, err := h.service.GetProgram(c.Request.Context(), id)
	if common.HandleServiceError(c, err, "failed to get program") {
		return
	}

	common.SuccessResponse(c, program)
}

// ListPrograms lists programs with pagination
func (h *Handler) ListPrograms(c *gin.Context) {
	params := pagination.ParseParams(c)
	activeOnly := c.Query("active") == "true"

	programs, total, err := h.service.ListPrograms(c.Request.Context(), activeOnly, params.Limit, params.Offset)
	if common.HandleServiceError(c, err, "failed to list programs") {
		return
	}

	common.SuccessResponseWithMeta(c, programs, pagination.BuildMeta(params.Limit, params.Offset, int64(total)))
}

// UpdateProgram updates a program's policy fields
func (h *Handler) UpdateProgram(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "program id")
	if !ok {
		return
	}

	var req programRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	program := req.toModel()
	program.ID = id
	program.UpdatedBy = actorID(c)

	if common.HandleServiceError(c, h.service.UpdateProgram(c.Request.Context(), program), "failed to update program") {
		return
	}

	common.SuccessResponse(c, program)
}

// DeleteProgram soft-deletes a program
func (h *Handler) DeleteProgram(c *gin.Context) {
	id, ok := common.ParseUUIDParam(c, "id", "program id")
	if !ok {
		return
	}

	if common.HandleServiceError(c, h.service.DeleteProgram(c.Request.Context(), id, actorID(c)), "failed to delete program") {
		return
	}

	common.SuccessResponse(c, gin.H{"deleted": true})
}

// RegisterRoutes wires the programs endpoints onto the router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/programs", h.CreateProgram)
	rg.GET("/programs", h.ListPrograms)
	rg.GET("/programs/:id", h.GetProgram)
	rg.PUT("/programs/:id", h.UpdateProgram)
	rg.DELETE("/programs/:id", h.DeleteProgram)
}
