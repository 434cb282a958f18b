package payouts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bunkmate/referral-service/internal/notify"
	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/eventbus"
	"github.com/bunkmate/referral-service/pkg/logger"
	"github.com/bunkmate/referral-service/pkg/security"
)

const eventSource = "referral-service.payouts"

// PayoutsRepository defines the storage operations required by the service.
type PayoutsRepository interface {
	Create(ctx context.Context, payout *Payout) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payout, error)
	ListByUser(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]*Payout, int, error)
	Approve(ctx context.Context, id, approver uuid.UUID, estimatedCompletion time.Time) (bool, error)
	MarkProcessing(ctx context.Context, id, processor uuid.UUID) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, transactionID string) (bool, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	TransactionIDExists(ctx context.Context, transactionID string) (bool, error)
	TotalsByStatus(ctx context.Context) (map[string]float64, error)
}

// RewardLedger exposes the approved-unpaid balance a payout draws against.
type RewardLedger interface {
	ApprovedBalance(ctx context.Context, recipientID uuid.UUID) (float64, error)
}

// Notifier requests user notifications fire-and-forget.
type Notifier interface {
	Send(ctx context.Context, userID uuid.UUID, channel, template string, payload map[string]interface{})
}

// Service handles payout business logic
type Service struct {
	repo     PayoutsRepository
	rewards  RewardLedger
	cipher   *security.Cipher
	notifier Notifier
	bus      eventbus.Publisher

	defaultEstimatedDays int
}

// NewService creates a new payouts service. The cipher is required; the
// publisher and notifier may be nil.
func NewService(repo PayoutsRepository, rewards RewardLedger, cipher *security.Cipher, notifier Notifier, bus eventbus.Publisher, defaultEstimatedDays int) *Service {
	if defaultEstimatedDays <= 0 {
		defaultEstimatedDays = 7
	}
	return &Service{
		repo:                 repo,
		rewards:              rewards,
		cipher:               cipher,
		notifier:             notifier,
		bus:                  bus,
		defaultEstimatedDays: defaultEstimatedDays,
	}
}

// Request creates a pending payout against the user's approved-unpaid reward
// balance. Payout details are encrypted before they touch storage.
func (s *Service) Request(ctx context.Context, input RequestInput) (*Payout, error) {
	if !ValidMethod(input.Method) {
		return nil, common.NewValidationError("payout method must be bank_transfer, upi or wallet")
	}
	if input.Amount <= 0 {
		return nil, common.NewValidationError("payout amount must be positive")
	}
	if input.ProcessingFee < 0 || input.TaxDeduction < 0 {
		return nil, common.NewValidationError("deductions cannot be negative")
	}
	if input.Details == "" {
		return nil, common.NewValidationError("payout details are required")
	}

	net := input.Amount - input.ProcessingFee - input.TaxDeduction
	if net <= 0 {
		return nil, common.NewValidationError("net payout amount must be positive")
	}

	balance, err := s.rewards.ApprovedBalance(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if input.Amount > balance {
		return nil, common.NewBusinessRuleError(fmt.Sprintf(
			"payout amount %.2f exceeds approved reward balance %.2f", input.Amount, balance))
	}

	encrypted, err := s.cipher.Encrypt(input.Details)
	if err != nil {
		return nil, common.NewInternalError("failed to encrypt payout details", err)
	}

	currency := input.Currency
	if currency == "" {
		currency = "INR"
	}

	payout := &Payout{
		UserID:        input.UserID,
		Amount:        input.Amount,
		ProcessingFee: input.ProcessingFee,
		TaxDeduction:  input.TaxDeduction,
		NetAmount:     net,
		Currency:      currency,
		Method:        input.Method,
		PayoutDetails: encrypted,
		Status:        StatusPending,
	}

	if err := s.repo.Create(ctx, payout); err != nil {
		return nil, err
	}

	s.publish(ctx, eventbus.SubjectPayoutRequested, payout)

	return payout, nil
}

// Get retrieves a payout
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Payout, error) {
	return s.getPayout(ctx, id)
}

// List retrieves a user's payouts with pagination
func (s *Service) List(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]*Payout, int, error) {
	return s.repo.ListByUser(ctx, userID, status, limit, offset)
}

// Approve transitions a pending payout to approved and stamps the expected
// completion date.
func (s *Service) Approve(ctx context.Context, id, approver uuid.UUID, estimatedDays int) (*Payout, error) {
	if estimatedDays <= 0 {
		estimatedDays = s.defaultEstimatedDays
	}

	payout, err := s.getPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout.Status != StatusPending {
		return nil, s.chainConflict(payout, StatusApproved)
	}

	estimated := time.Now().AddDate(0, 0, estimatedDays)
	ok, err := s.repo.Approve(ctx, id, approver, estimated)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.NewConflictError("payout is no longer pending")
	}

	payout, err = s.getPayout(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, eventbus.SubjectPayoutApproved, payout)

	return payout, nil
}

// MarkProcessing transitions an approved payout to processing
func (s *Service) MarkProcessing(ctx context.Context, id, processor uuid.UUID) (*Payout, error) {
	payout, err := s.getPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout.Status != StatusApproved {
		return nil, s.chainConflict(payout, StatusProcessing)
	}

	ok, err := s.repo.MarkProcessing(ctx, id, processor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.NewConflictError("payout is no longer approved")
	}

	return s.getPayout(ctx, id)
}

// Complete transitions a processing payout to paid with the settlement
// transaction id. Duplicate transaction ids are rejected.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, transactionID string) (*Payout, error) {
	if transactionID == "" {
		return nil, common.NewValidationError("transaction_id is required")
	}

	payout, err := s.getPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout.Status != StatusProcessing {
		return nil, s.chainConflict(payout, StatusPaid)
	}

	exists, err := s.repo.TransactionIDExists(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, common.NewConflictError(fmt.Sprintf("transaction %s is already recorded", transactionID))
	}

	ok, err := s.repo.Complete(ctx, id, transactionID)
	if err != nil {
		if common.IsConflict(err) {
			// The partial unique index caught a concurrent duplicate.
			return nil, common.NewConflictError(fmt.Sprintf("transaction %s is already recorded", transactionID))
		}
		return nil, err
	}
	if !ok {
		return nil, common.NewConflictError("payout is no longer processing")
	}

	payout, err = s.getPayout(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, eventbus.SubjectPayoutPaid, payout)
	s.notifyUser(ctx, payout.UserID, notify.TemplatePayoutCompleted, map[string]interface{}{
		"payout_id":  payout.ID,
		"net_amount": payout.NetAmount,
	})

	return payout, nil
}

// Fail moves any non-terminal payout to failed. The user may request again.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, reason string) (*Payout, error) {
	if reason == "" {
		return nil, common.NewValidationError("failure reason is required")
	}

	payout, err := s.getPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if payout.IsTerminal() {
		return nil, s.chainConflict(payout, StatusFailed)
	}

	ok, err := s.repo.Fail(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.NewConflictError("payout already reached a terminal state")
	}

	payout, err = s.getPayout(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, eventbus.SubjectPayoutFailed, payout)
	s.notifyUser(ctx, payout.UserID, notify.TemplatePayoutFailed, map[string]interface{}{
		"payout_id": payout.ID,
		"reason":    reason,
	})

	return payout, nil
}

// Details decrypts the payout destination for the processing backend.
func (s *Service) Details(ctx context.Context, id uuid.UUID) (string, error) {
	payout, err := s.getPayout(ctx, id)
	if err != nil {
		return "", err
	}

	details, err := s.cipher.Decrypt(payout.PayoutDetails)
	if err != nil {
		return "", common.NewInternalError("failed to decrypt payout details", err)
	}

	return details, nil
}

func (s *Service) getPayout(ctx context.Context, id uuid.UUID) (*Payout, error) {
	payout, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if common.IsNotFound(err) {
			return nil, common.NewNotFoundError("payout not found")
		}
		return nil, err
	}
	return payout, nil
}

func (s *Service) chainConflict(payout *Payout, target string) error {
	return common.NewConflictError(fmt.Sprintf(
		"payout in status %q cannot move to %q", payout.Status, target))
}

func (s *Service) publish(ctx context.Context, subject string, payout *Payout) {
	if s.bus == nil {
		return
	}
	event, err := eventbus.NewEvent(subject, eventSource, payout)
	if err == nil {
		err = s.bus.Publish(ctx, subject, event)
	}
	if err != nil {
		logger.WarnContext(ctx, "failed to publish payout event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

func (s *Service) notifyUser(ctx context.Context, userID uuid.UUID, template string, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.Send(ctx, userID, notify.ChannelEmail, template, payload)
}
