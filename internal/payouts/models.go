package payouts

import (
	"time"

	"github.com/google/uuid"
)

// Payout statuses. The chain is strictly pending → approved → processing →
// paid, with failed reachable from any non-terminal state.
const (
	StatusPending    = "pending"
	StatusApproved   = "approved"
	StatusProcessing = "processing"
	StatusPaid       = "paid"
	StatusFailed     = "failed"
)

// Payout methods supported by the finance backend.
const (
	MethodBankTransfer = "bank_transfer"
	MethodUPI          = "upi"
	MethodWallet       = "wallet"
)

// Payout is one withdrawal of approved reward balance. PayoutDetails is
// stored encrypted and never returned over the API.
type Payout struct {
	ID                      uuid.UUID  `json:"id"`
	UserID                  uuid.UUID  `json:"user_id"`
	Amount                  float64    `json:"amount"`
	ProcessingFee           float64    `json:"processing_fee"`
	TaxDeduction            float64    `json:"tax_deduction"`
	NetAmount               float64    `json:"net_amount"`
	Currency                string     `json:"currency"`
	Method                  string     `json:"method"`
	PayoutDetails           string     `json:"-"`
	Status                  string     `json:"status"`
	RequestedAt             time.Time  `json:"requested_at"`
	ApprovedBy              *uuid.UUID `json:"approved_by,omitempty"`
	ApprovedAt              *time.Time `json:"approved_at,omitempty"`
	EstimatedCompletionDate *time.Time `json:"estimated_completion_date,omitempty"`
	ProcessingBy            *uuid.UUID `json:"processing_by,omitempty"`
	ProcessingAt            *time.Time `json:"processing_at,omitempty"`
	PaidAt                  *time.Time `json:"paid_at,omitempty"`
	TransactionID           *string    `json:"transaction_id,omitempty"`
	FailureReason           string     `json:"failure_reason,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the payout can no longer transition.
func (p *Payout) IsTerminal() bool {
	return p.Status == StatusPaid || p.Status == StatusFailed
}

// ValidMethod reports whether method is one of the supported payout rails.
func ValidMethod(method string) bool {
	switch method {
	case MethodBankTransfer, MethodUPI, MethodWallet:
		return true
	}
	return false
}

// RequestInput carries a new payout request.
type RequestInput struct {
	UserID        uuid.UUID
	Amount        float64
	ProcessingFee float64
	TaxDeduction  float64
	Currency      string
	Method        string
	Details       string
}
