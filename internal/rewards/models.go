package rewards

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Reward statuses.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusPaid      = "paid"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// Recipient types. This is a closed set: a reward belongs to exactly one
// side of the referral.
const (
	RecipientReferrer = "referrer"
	RecipientReferee  = "referee"
)

// amountEpsilon tolerates float accumulation noise when checking the
// net-amount identity.
const amountEpsilon = 0.0001

// ReferralReward is one side's ledger entry for a converted referral
type ReferralReward struct {
	ID              uuid.UUID  `json:"id"`
	ReferralID      uuid.UUID  `json:"referral_id"`
	RecipientType   string     `json:"recipient_type"`
	RecipientID     uuid.UUID  `json:"recipient_id"`
	BaseAmount      float64    `json:"base_amount"`
	BonusAmount     float64    `json:"bonus_amount"`
	TotalAmount     float64    `json:"total_amount"`
	TaxDeduction    float64    `json:"tax_deduction"`
	ProcessingFee   float64    `json:"processing_fee"`
	NetAmount       float64    `json:"net_amount"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	ApprovedBy      *uuid.UUID `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedBy      *uuid.UUID `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	PaidBy          *uuid.UUID `json:"paid_by,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	TransactionID   *string    `json:"transaction_id,omitempty"`
	PaymentMethod   string     `json:"payment_method,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CheckIntegrity verifies the monetary identity net = total − tax − fee and
// net ≥ 0. A violating row indicates corruption and is never silently fixed.
func (r *ReferralReward) CheckIntegrity() bool {
	if r.NetAmount < 0 {
		return false
	}
	expected := r.TotalAmount - r.TaxDeduction - r.ProcessingFee
	return math.Abs(r.NetAmount-expected) <= amountEpsilon
}

// IsPaid reports whether the reward is frozen.
func (r *ReferralReward) IsPaid() bool {
	return r.Status == StatusPaid
}

// BulkApproveResult summarizes a best-effort batch approval.
type BulkApproveResult struct {
	Approved int         `json:"approved"`
	Skipped  int         `json:"skipped"`
	Failed   []uuid.UUID `json:"failed,omitempty"`
}
