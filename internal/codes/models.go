package codes

import (
	"time"

	"github.com/google/uuid"
)

// Engagement events tracked against a referral code.
const (
	EventShare        = "share"
	EventClick        = "click"
	EventRegistration = "registration"
	EventBooking      = "booking"
)

// ReferralCode is a quota-limited redemption token owned by a referrer
type ReferralCode struct {
	ID                uuid.UUID  `json:"id"`
	ProgramID         uuid.UUID  `json:"program_id"`
	OwnerID           uuid.UUID  `json:"owner_id"`
	Code              string     `json:"code"`
	MaxUses           int        `json:"max_uses"`
	TimesUsed         int        `json:"times_used"`
	IsActive          bool       `json:"is_active"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	ShareCount        int        `json:"share_count"`
	ClickCount        int        `json:"click_count"`
	RegistrationCount int        `json:"registration_count"`
	BookingCount      int        `json:"booking_count"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// RemainingUses returns how many redemptions are left on the quota.
func (c *ReferralCode) RemainingUses() int {
	remaining := c.MaxUses - c.TimesUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpired reports whether the code's expiry has passed.
func (c *ReferralCode) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// CodeValidation is the read-only answer to "can this code be redeemed".
type CodeValidation struct {
	Valid  bool          `json:"valid"`
	Reason string        `json:"reason,omitempty"`
	Code   *ReferralCode `json:"code,omitempty"`
}
