package programs

import (
	"time"

	"github.com/google/uuid"
)

// ReferralProgram defines the reward policy for a referral campaign
type ReferralProgram struct {
	ID                   uuid.UUID  `json:"id"`
	Name                 string     `json:"name"`
	Description          string     `json:"description"`
	ReferrerReward       float64    `json:"referrer_reward"`
	RefereeReward        float64    `json:"referee_reward"`
	Currency             string     `json:"currency"`
	EligibleRoles        []string   `json:"eligible_roles"`
	MinBookingAmount     float64    `json:"min_booking_amount"`
	MinStayMonths        int        `json:"min_stay_months"`
	MaxReferralsPerUser  int        `json:"max_referrals_per_user"`
	MaxReferralsPerMonth int        `json:"max_referrals_per_month"`
	ValidFrom            *time.Time `json:"valid_from,omitempty"`
	ValidTo              *time.Time `json:"valid_to,omitempty"`
	IsActive             bool       `json:"is_active"`
	TotalReferrals       int        `json:"total_referrals"`
	PendingReferrals     int        `json:"pending_referrals"`
	SuccessfulReferrals  int        `json:"successful_referrals"`
	TotalRewardsPaid     float64    `json:"total_rewards_paid"`
	CreatedBy            *uuid.UUID `json:"created_by,omitempty"`
	UpdatedBy            *uuid.UUID `json:"updated_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	DeletedAt            *time.Time `json:"deleted_at,omitempty"`
}

// IsWithinValidity reports whether the program's validity window covers t.
// A nil bound is open-ended.
func (p *ReferralProgram) IsWithinValidity(t time.Time) bool {
	if p.ValidFrom != nil && t.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil && t.After(*p.ValidTo) {
		return false
	}
	return true
}

// EligibilityInput carries everything CheckEligibility needs about the
// referrer and the prospective booking.
type EligibilityInput struct {
	Role           string
	BookingAmount  float64
	StayMonths     int
	UserMonthCount int
	UserTotalCount int
}
