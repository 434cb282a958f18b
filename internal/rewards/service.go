package rewards

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/eventbus"
	"github.com/bunkmate/referral-service/pkg/logger"
)

const eventSource = "referral-service.rewards"

// RewardsRepository defines the storage operations required by the service.
type RewardsRepository interface {
	Create(ctx context.Context, reward *ReferralReward) error
	GetByID(ctx context.Context, id uuid.UUID) (*ReferralReward, error)
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, status string, limit, offset int) ([]*ReferralReward, int, error)
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*ReferralReward, error)
	Approve(ctx context.Context, id uuid.UUID, approver uuid.UUID) (bool, error)
	Reject(ctx context.Context, id uuid.UUID, rejector uuid.UUID, reason string) (bool, error)
	MarkPaid(ctx context.Context, id uuid.UUID, payer uuid.UUID, transactionID, method string) (bool, error)
	TransactionIDExists(ctx context.Context, transactionID string) (bool, error)
	ApprovedUnpaidBalance(ctx context.Context, recipientID uuid.UUID) (float64, error)
}

// CreateInput carries the monetary breakdown for a new reward.
type CreateInput struct {
	ReferralID    uuid.UUID
	RecipientType string
	RecipientID   uuid.UUID
	BaseAmount    float64
	BonusAmount   float64
	TaxDeduction  float64
	ProcessingFee float64
	Currency      string
}

// Service handles reward business logic
type Service struct {
	repo RewardsRepository
	bus  eventbus.Publisher
}

// NewService creates a new rewards service. The publisher may be nil in
// tests; events are then skipped.
func NewService(repo RewardsRepository, bus eventbus.Publisher) *Service {
	return &Service{repo: repo, bus: bus}
}

// Create computes the reward's totals and persists it in pending state.
// net = total − tax − fee must come out non-negative.
func (s *Service) Create(ctx context.Context, input CreateInput) (*ReferralReward, error) {
	if input.RecipientType != RecipientReferrer && input.RecipientType != RecipientReferee {
		return nil, common.NewValidationError(fmt.Sprintf("recipient_type must be %q or %q", RecipientReferrer, RecipientReferee))
	}
	if input.BaseAmount < 0 || input.BonusAmount < 0 || input.TaxDeduction < 0 || input.ProcessingFee < 0 {
		return nil, common.NewValidationError("reward amounts cannot be negative")
	}

	total := input.BaseAmount + input.BonusAmount
	net := total - input.TaxDeduction - input.ProcessingFee
	if net < 0 {
		return nil, common.NewValidationError(fmt.Sprintf(
			"net amount %.2f is negative: deductions exceed the reward total %.2f", net, total))
	}

	currency := input.Currency
	if currency == "" {
		currency = "INR"
	}

	reward := &ReferralReward{
		ReferralID:    input.ReferralID,
		RecipientType: input.RecipientType,
		RecipientID:   input.RecipientID,
		BaseAmount:    input.BaseAmount,
		BonusAmount:   input.BonusAmount,
		TotalAmount:   total,
		TaxDeduction:  input.TaxDeduction,
		ProcessingFee: input.ProcessingFee,
		NetAmount:     net,
		Currency:      currency,
		Status:        StatusPending,
	}

	err := s.repo.Create(ctx, reward)
	if err != nil {
		if common.IsConflict(err) {
			return nil, common.NewConflictError(fmt.Sprintf(
				"a %s reward already exists for this referral", input.RecipientType))
		}
		return nil, err
	}

	s.publish(ctx, eventbus.SubjectRewardCreated, reward)
	return reward, nil
}

// GetReward retrieves a reward and verifies its monetary integrity. A row
// whose amounts don't add up halts the operation rather than propagating a
// corrupted figure.
func (s *Service) GetReward(ctx context.Context, id uuid.UUID) (*ReferralReward, error) {
	reward, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if common.IsNotFound(err) {
			return nil, common.NewNotFoundError("reward not found")
		}
		return nil, err
	}

	if !reward.CheckIntegrity() {
		logger.ErrorContext(ctx, "reward amount integrity violation",
			zap.String("reward_id", reward.ID.String()),
			zap.Float64("total", reward.TotalAmount),
			zap.Float64("tax", reward.TaxDeduction),
			zap.Float64("fee", reward.ProcessingFee),
			zap.Float64("net", reward.NetAmount),
		)
		return nil, common.NewInternalError("reward amounts are inconsistent", common.ErrInternal)
	}

	return reward, nil
}

// ListRewards retrieves a recipient's rewards with pagination
func (s *Service) ListRewards(ctx context.Context, recipientID uuid.UUID, status string, limit, offset int) ([]*ReferralReward, int, error) {
	return s.repo.ListByRecipient(ctx, recipientID, status, limit, offset)
}

// ListByReferral retrieves both sides of a referral's rewards
func (s *Service) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*ReferralReward, error) {
	return s.repo.ListByReferral(ctx, referralID)
}

// Approve transitions a pending reward to approved
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approver uuid.UUID) (*ReferralReward, error) {
	reward, err := s.GetReward(ctx, id)
	if err != nil {
		return nil, err
	}
	if reward.IsPaid() {
		return nil, common.NewConflictError("paid rewards are immutable")
	}

	ok, err := s.repo.Approve(ctx, id, approver)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.NewConflictError(fmt.Sprintf("cannot approve a reward in status %q", reward.Status))
	}

	approved, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, eventbus.SubjectRewardApproved, approved)
	return approved, nil
}

// Reject transitions a pending or approved reward to rejected. The reason is
// a required structured field, not free-form notes.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, rejector uuid.UUID, reason string) (*ReferralReward, error) {
	if reason == "" {
		return nil, common.NewValidationError("rejection reason is required")
	}

	reward, err := s.GetReward(ctx, id)
	if err != nil {
		return nil, err
	}
	if reward.IsPaid() {
		return nil, common.NewConflictError("paid rewards are immutable")
	}

	ok, err := s.repo.Reject(ctx, id, rejector, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.NewConflictError(fmt.Sprintf("cannot reject a reward in status %q", reward.Status))
	}

	rejected, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, eventbus.SubjectRewardRejected, rejected)
	return rejected, nil
}

// MarkPaid transitions an approved reward to paid. The transaction ID must
// be unused across both the reward ledger and the payout ledger.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, payer uuid.UUID, transactionID, method string) (*ReferralReward, error) {
	if transactionID == "" {
		return nil, common.NewValidationError("transaction_id is required")
	}

	reward, err := s.GetReward(ctx, id)
	if err != nil {
		return nil, err
	}
	if reward.IsPaid() {
		return nil, common.NewConflictError("reward is already paid")
	}

	exists, err := s.repo.TransactionIDExists(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, common.NewConflictError(fmt.Sprintf("transaction_id %q is already used", transactionID))
	}

	ok, err := s.repo.MarkPaid(ctx, id, payer, transactionID, method)
	if err != nil {
		// The unique index catches races the pre-check missed.
		if common.IsConflict(err) {
			return nil, common.NewConflictError(fmt.Sprintf("transaction_id %q is already used", transactionID))
		}
		return nil, err
	}
	if !ok {
		return nil, common.NewConflictError(fmt.Sprintf("cannot pay a reward in status %q", reward.Status))
	}

	paid, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, eventbus.SubjectRewardPaid, paid)
	return paid, nil
}

// BulkApprove approves a batch best-effort. Items that cannot be approved
// are counted and skipped; the batch never aborts.
func (s *Service) BulkApprove(ctx context.Context, ids []uuid.UUID, approver uuid.UUID) *BulkApproveResult {
	result := &BulkApproveResult{}
	for _, id := range ids {
		_, err := s.Approve(ctx, id, approver)
		switch {
		case err == nil:
			result.Approved++
		case common.IsConflict(err) || common.IsNotFound(err):
			result.Skipped++
		default:
			result.Failed = append(result.Failed, id)
			logger.WarnContext(ctx, "bulk approve item failed",
				zap.String("reward_id", id.String()),
				zap.Error(err),
			)
		}
	}
	return result
}

// ApprovedBalance returns the recipient's approved-unpaid net total. The
// payout processor checks requested amounts against it.
func (s *Service) ApprovedBalance(ctx context.Context, recipientID uuid.UUID) (float64, error) {
	return s.repo.ApprovedUnpaidBalance(ctx, recipientID)
}

// TransactionIDExists reports whether a payment reference is already used in
// either ledger.
func (s *Service) TransactionIDExists(ctx context.Context, transactionID string) (bool, error) {
	return s.repo.TransactionIDExists(ctx, transactionID)
}

func (s *Service) publish(ctx context.Context, subject string, reward *ReferralReward) {
	if s.bus == nil {
		return
	}
	event, err := eventbus.NewEvent(subject, eventSource, reward)
	if err == nil {
		err = s.bus.Publish(ctx, subject, event)
	}
	if err != nil {
		logger.WarnContext(ctx, "failed to publish reward event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}
