package referrals

import (
	"time"

	"github.com/google/uuid"
)

// Referral statuses. A referral starts pending and ends in exactly one of
// the three terminal states.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Referral tracks one invitation through its lifecycle
type Referral struct {
	ID                   uuid.UUID  `json:"id"`
	ProgramID            uuid.UUID  `json:"program_id"`
	ReferrerID           uuid.UUID  `json:"referrer_id"`
	CodeID               *uuid.UUID `json:"code_id,omitempty"`
	RefereeEmail         string     `json:"referee_email,omitempty"`
	RefereePhone         string     `json:"referee_phone,omitempty"`
	RefereeUserID        *uuid.UUID `json:"referee_user_id,omitempty"`
	Status               string     `json:"status"`
	BookingID            *uuid.UUID `json:"booking_id,omitempty"`
	BookingAmount        *float64   `json:"booking_amount,omitempty"`
	StayMonths           *int       `json:"stay_months,omitempty"`
	ConversionDate       *time.Time `json:"conversion_date,omitempty"`
	ReferrerRewardAmount float64    `json:"referrer_reward_amount"`
	RefereeRewardAmount  float64    `json:"referee_reward_amount"`
	ReferrerRewardStatus string     `json:"referrer_reward_status,omitempty"`
	RefereeRewardStatus  string     `json:"referee_reward_status,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsConverted reports whether the referral completed with a booking attached.
func (r *Referral) IsConverted() bool {
	return r.Status == StatusCompleted && r.BookingID != nil
}

// IsTerminal reports whether the referral left the pending state.
func (r *Referral) IsTerminal() bool {
	return r.Status != StatusPending
}

// HasRefereeIdentity reports whether at least one referee identifier is set.
func (r *Referral) HasRefereeIdentity() bool {
	return r.RefereeEmail != "" || r.RefereePhone != "" || r.RefereeUserID != nil
}

// StatusChange is one immutable row of a referral's audit trail
type StatusChange struct {
	ID         uuid.UUID `json:"id"`
	ReferralID uuid.UUID `json:"referral_id"`
	OldStatus  string    `json:"old_status"`
	NewStatus  string    `json:"new_status"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateInput carries a new referral request.
type CreateInput struct {
	ProgramID     uuid.UUID
	ReferrerID    uuid.UUID
	RefereeEmail  string
	RefereePhone  string
	RefereeUserID *uuid.UUID
	Code          string
}

// CreateResult is the created referral plus whether the supplied code was
// actually consumed. A quota-exhausted code does not block creation; it is
// reported here instead.
type CreateResult struct {
	Referral   *Referral `json:"referral"`
	CodeLinked bool      `json:"code_linked"`
}

// ConvertInput carries the booking facts that complete a referral.
type ConvertInput struct {
	BookingID      uuid.UUID
	BookingAmount  float64
	StayMonths     int
	RefereeUserID  *uuid.UUID
	ReferrerReward float64
	RefereeReward  float64
	Actor          string
}

// ListFilter narrows referral listings.
type ListFilter struct {
	Status     string
	ProgramID  *uuid.UUID
	ReferrerID *uuid.UUID
	From       *time.Time
	To         *time.Time
}

// ReferralDetail is a referral with its ordered status history.
type ReferralDetail struct {
	Referral *Referral       `json:"referral"`
	History  []*StatusChange `json:"history"`
}

// SweepResult summarizes one expiry sweep over stale pending referrals.
type SweepResult struct {
	Matched int `json:"matched"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}
