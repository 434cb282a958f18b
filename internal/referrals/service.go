package referrals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/bunkmate/referral-service/internal/codes"
	"github.com/bunkmate/referral-service/internal/directory"
	"github.com/bunkmate/referral-service/internal/notify"
	"github.com/bunkmate/referral-service/internal/programs"
	"github.com/bunkmate/referral-service/internal/rewards"
	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/eventbus"
	"github.com/bunkmate/referral-service/pkg/logger"
)

const (
	eventSource = "referral-service.referrals"

	// SystemActor labels transitions performed by the service itself.
	SystemActor = "system"
)

var transitionConflictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "referral_transition_conflicts_total",
		Help: "Referral state transitions rejected because the referral was not pending",
	},
	[]string{"target"},
)

// ReferralsRepository defines the storage operations required by the service.
type ReferralsRepository interface {
	Create(ctx context.Context, referral *Referral) error
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Referral, int, error)
	Convert(ctx context.Context, id uuid.UUID, input ConvertInput) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, toStatus string) (bool, error)
	AppendHistory(ctx context.Context, change *StatusChange) error
	History(ctx context.Context, referralID uuid.UUID) ([]*StatusChange, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Referral, error)
}

// ProgramRegistry is the slice of the programs service the ledger needs.
type ProgramRegistry interface {
	GetProgram(ctx context.Context, id uuid.UUID) (*programs.ReferralProgram, error)
	CheckEligibility(ctx context.Context, program *programs.ReferralProgram, input programs.EligibilityInput) error
	ReferrerUsage(ctx context.Context, programID, referrerID uuid.UUID) (int, int, error)
	IncrementPending(ctx context.Context, id uuid.UUID) error
	MarkConverted(ctx context.Context, id uuid.UUID, rewardsPaid float64) error
	ReleasePending(ctx context.Context, id uuid.UUID) error
}

// CodeRegistry is the slice of the codes service the ledger needs.
type CodeRegistry interface {
	Redeem(ctx context.Context, code string) (*codes.ReferralCode, error)
	TrackEngagementByID(ctx context.Context, id uuid.UUID, event string) error
}

// RewardEngine creates the reward rows for a converted referral.
type RewardEngine interface {
	Create(ctx context.Context, input rewards.CreateInput) (*rewards.ReferralReward, error)
}

// Notifier requests user notifications fire-and-forget.
type Notifier interface {
	Send(ctx context.Context, userID uuid.UUID, channel, template string, payload map[string]interface{})
}

// Service handles referral lifecycle business logic
type Service struct {
	repo      ReferralsRepository
	programs  ProgramRegistry
	codes     CodeRegistry
	rewards   RewardEngine
	directory directory.Resolver
	notifier  Notifier
	bus       eventbus.Publisher

	sweepBatchSize int
}

// NewService creates a new referrals service. The publisher and notifier
// may be nil; events and notifications are then skipped.
func NewService(
	repo ReferralsRepository,
	programRegistry ProgramRegistry,
	codeRegistry CodeRegistry,
	rewardEngine RewardEngine,
	resolver directory.Resolver,
	notifier Notifier,
	bus eventbus.Publisher,
	sweepBatchSize int,
) *Service {
	if sweepBatchSize <= 0 {
		sweepBatchSize = 500
	}
	return &Service{
		repo:           repo,
		programs:       programRegistry,
		codes:          codeRegistry,
		rewards:        rewardEngine,
		directory:      resolver,
		notifier:       notifier,
		bus:            bus,
		sweepBatchSize: sweepBatchSize,
	}
}

// Create registers a new pending referral. The referrer must exist in the
// user directory and pass the program's eligibility policy. A supplied code
// is redeemed best-effort: an exhausted quota is reported in the result
// rather than failing the referral.
func (s *Service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	referral := &Referral{
		ProgramID:     input.ProgramID,
		ReferrerID:    input.ReferrerID,
		RefereeEmail:  input.RefereeEmail,
		RefereePhone:  input.RefereePhone,
		RefereeUserID: input.RefereeUserID,
		Status:        StatusPending,
	}
	if !referral.HasRefereeIdentity() {
		return nil, common.NewValidationError("referee must have an email, phone or user id")
	}

	referrer, err := s.directory.Resolve(ctx, input.ReferrerID)
	if err != nil {
		if common.IsNotFound(err) {
			return nil, common.NewValidationError("referrer does not exist")
		}
		return nil, fmt.Errorf("failed to resolve referrer: %w", err)
	}

	program, err := s.programs.GetProgram(ctx, input.ProgramID)
	if err != nil {
		return nil, err
	}

	totalCount, monthCount, err := s.programs.ReferrerUsage(ctx, input.ProgramID, input.ReferrerID)
	if err != nil {
		return nil, err
	}
	err = s.programs.CheckEligibility(ctx, program, programs.EligibilityInput{
		Role:           referrer.Role,
		UserMonthCount: monthCount,
		UserTotalCount: totalCount,
	})
	if err != nil {
		return nil, err
	}

	codeLinked := false
	if input.Code != "" {
		code, redeemErr := s.codes.Redeem(ctx, input.Code)
		switch {
		case redeemErr == nil:
			referral.CodeID = &code.ID
			codeLinked = true
		case common.IsQuotaExceeded(redeemErr):
			// The referral itself is still worth recording.
			logger.WarnContext(ctx, "referral code quota exhausted, creating referral without code",
				zap.String("code", input.Code),
				zap.String("referrer_id", input.ReferrerID.String()),
			)
		default:
			return nil, redeemErr
		}
	}

	if err := s.repo.Create(ctx, referral); err != nil {
		return nil, err
	}

	s.appendHistory(ctx, referral.ID, "", StatusPending, input.ReferrerID.String(), "referral created")

	if err := s.programs.IncrementPending(ctx, referral.ProgramID); err != nil {
		logger.ErrorContext(ctx, "failed to bump program counters",
			zap.String("referral_id", referral.ID.String()),
			zap.Error(err),
		)
	}

	s.publish(ctx, eventbus.SubjectReferralCreated, referral)
	s.notify(ctx, referral.ReferrerID, notify.TemplateReferralInvite, map[string]interface{}{
		"referral_id": referral.ID,
	})

	return &CreateResult{Referral: referral, CodeLinked: codeLinked}, nil
}

// Convert completes a pending referral against its booking. Redelivered
// webhooks hit the status precondition and fail with a conflict, leaving the
// first conversion's fields untouched.
func (s *Service) Convert(ctx context.Context, id uuid.UUID, input ConvertInput) (*Referral, error) {
	if input.StayMonths < 1 || input.StayMonths > 24 {
		return nil, common.NewValidationError("stay_months must be between 1 and 24")
	}
	if input.BookingAmount <= 0 {
		return nil, common.NewValidationError("booking_amount must be positive")
	}

	referral, err := s.getReferral(ctx, id)
	if err != nil {
		return nil, err
	}
	if referral.Status == StatusCompleted {
		transitionConflictsTotal.WithLabelValues(StatusCompleted).Inc()
		return nil, common.NewConflictError("referral is already converted")
	}
	if referral.IsTerminal() {
		transitionConflictsTotal.WithLabelValues(StatusCompleted).Inc()
		return nil, common.NewConflictError(fmt.Sprintf("cannot convert a referral in status %q", referral.Status))
	}

	program, err := s.programs.GetProgram(ctx, referral.ProgramID)
	if err != nil {
		return nil, err
	}
	err = s.programs.CheckEligibility(ctx, program, programs.EligibilityInput{
		BookingAmount: input.BookingAmount,
		StayMonths:    input.StayMonths,
	})
	if err != nil {
		return nil, err
	}

	if input.ReferrerReward == 0 {
		input.ReferrerReward = program.ReferrerReward
	}
	if input.RefereeReward == 0 {
		input.RefereeReward = program.RefereeReward
	}

	converted, err := s.repo.Convert(ctx, id, input)
	if err != nil {
		return nil, err
	}
	if !converted {
		transitionConflictsTotal.WithLabelValues(StatusCompleted).Inc()
		return nil, common.NewConflictError("referral is already converted")
	}

	actor := input.Actor
	if actor == "" {
		actor = SystemActor
	}
	s.appendHistory(ctx, id, StatusPending, StatusCompleted, actor,
		fmt.Sprintf("converted by booking %s", input.BookingID))

	referral, err = s.getReferral(ctx, id)
	if err != nil {
		return nil, err
	}

	s.createRewards(ctx, referral, program)

	if err := s.programs.MarkConverted(ctx, referral.ProgramID, referral.ReferrerRewardAmount+referral.RefereeRewardAmount); err != nil {
		logger.ErrorContext(ctx, "failed to update program counters after conversion",
			zap.String("referral_id", id.String()),
			zap.Error(err),
		)
	}

	if referral.CodeID != nil {
		if err := s.codes.TrackEngagementByID(ctx, *referral.CodeID, codes.EventBooking); err != nil {
			logger.WarnContext(ctx, "failed to track booking engagement",
				zap.String("referral_id", id.String()),
				zap.Error(err),
			)
		}
	}

	s.publish(ctx, eventbus.SubjectReferralCompleted, referral)
	s.notify(ctx, referral.ReferrerID, notify.TemplateReferralConverted, map[string]interface{}{
		"referral_id":   referral.ID,
		"reward_amount": referral.ReferrerRewardAmount,
	})

	return referral, nil
}

// Cancel moves a pending referral to cancelled
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor, reason string) (*Referral, error) {
	return s.terminate(ctx, id, StatusCancelled, actor, reason, eventbus.SubjectReferralCancelled)
}

// Expire moves a pending referral to expired
func (s *Service) Expire(ctx context.Context, id uuid.UUID, actor, reason string) (*Referral, error) {
	return s.terminate(ctx, id, StatusExpired, actor, reason, eventbus.SubjectReferralExpired)
}

func (s *Service) terminate(ctx context.Context, id uuid.UUID, toStatus, actor, reason, subject string) (*Referral, error) {
	referral, err := s.getReferral(ctx, id)
	if err != nil {
		return nil, err
	}
	if referral.IsTerminal() {
		transitionConflictsTotal.WithLabelValues(toStatus).Inc()
		return nil, common.NewConflictError(fmt.Sprintf(
			"cannot move a referral from %q to %q", referral.Status, toStatus))
	}

	ok, err := s.repo.Transition(ctx, id, toStatus)
	if err != nil {
		return nil, err
	}
	if !ok {
		// A concurrent transition won the race.
		transitionConflictsTotal.WithLabelValues(toStatus).Inc()
		return nil, common.NewConflictError("referral is no longer pending")
	}

	if actor == "" {
		actor = SystemActor
	}
	s.appendHistory(ctx, id, StatusPending, toStatus, actor, reason)

	if err := s.programs.ReleasePending(ctx, referral.ProgramID); err != nil {
		logger.ErrorContext(ctx, "failed to release pending counter",
			zap.String("referral_id", id.String()),
			zap.Error(err),
		)
	}

	referral, err = s.getReferral(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, subject, referral)
	return referral, nil
}

// SweepExpired expires pending referrals older than the given age. Items
// fail independently; the sweep is idempotent because only pending rows
// match.
func (s *Service) SweepExpired(ctx context.Context, olderThanDays int) (*SweepResult, error) {
	if olderThanDays <= 0 {
		return nil, common.NewValidationError("older_than_days must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	stale, err := s.repo.ListStalePending(ctx, cutoff, s.sweepBatchSize)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Matched: len(stale)}
	reason := fmt.Sprintf("no conversion within %d days", olderThanDays)
	for _, referral := range stale {
		_, err := s.Expire(ctx, referral.ID, SystemActor, reason)
		if err != nil {
			if common.IsConflict(err) {
				// Another worker got there first; nothing lost.
				continue
			}
			result.Failed++
			logger.ErrorContext(ctx, "failed to expire stale referral",
				zap.String("referral_id", referral.ID.String()),
				zap.Error(err),
			)
			continue
		}
		result.Expired++
	}

	logger.InfoContext(ctx, "expiry sweep finished",
		zap.Int("matched", result.Matched),
		zap.Int("expired", result.Expired),
		zap.Int("failed", result.Failed),
	)

	return result, nil
}

// Get retrieves a referral with its ordered status history
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ReferralDetail, error) {
	referral, err := s.getReferral(ctx, id)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.History(ctx, id)
	if err != nil {
		return nil, err
	}

	return &ReferralDetail{Referral: referral, History: history}, nil
}

// List retrieves referrals matching the filter with pagination
func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Referral, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}

func (s *Service) getReferral(ctx context.Context, id uuid.UUID) (*Referral, error) {
	referral, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if common.IsNotFound(err) {
			return nil, common.NewNotFoundError("referral not found")
		}
		return nil, err
	}
	return referral, nil
}

// createRewards writes both sides' reward rows. Failures are logged, not
// propagated: the conversion itself has committed and reward creation can be
// replayed from the event stream.
func (s *Service) createRewards(ctx context.Context, referral *Referral, program *programs.ReferralProgram) {
	refereeRecipient := uuid.Nil
	if referral.RefereeUserID != nil {
		refereeRecipient = *referral.RefereeUserID
	}

	inputs := []rewards.CreateInput{
		{
			ReferralID:    referral.ID,
			RecipientType: rewards.RecipientReferrer,
			RecipientID:   referral.ReferrerID,
			BaseAmount:    referral.ReferrerRewardAmount,
			Currency:      program.Currency,
		},
		{
			ReferralID:    referral.ID,
			RecipientType: rewards.RecipientReferee,
			RecipientID:   refereeRecipient,
			BaseAmount:    referral.RefereeRewardAmount,
			Currency:      program.Currency,
		},
	}

	for _, input := range inputs {
		if _, err := s.rewards.Create(ctx, input); err != nil {
			if common.IsConflict(err) {
				// Reward already exists from an earlier partial conversion.
				continue
			}
			logger.ErrorContext(ctx, "failed to create reward for converted referral",
				zap.String("referral_id", referral.ID.String()),
				zap.String("recipient_type", input.RecipientType),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) appendHistory(ctx context.Context, referralID uuid.UUID, oldStatus, newStatus, actor, reason string) {
	err := s.repo.AppendHistory(ctx, &StatusChange{
		ReferralID: referralID,
		OldStatus:  oldStatus,
		NewStatus:  newStatus,
		Actor:      actor,
		Reason:     reason,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to append status history",
			zap.String("referral_id", referralID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) publish(ctx context.Context, subject string, referral *Referral) {
	if s.bus == nil {
		return
	}
	event, err := eventbus.NewEvent(subject, eventSource, referral)
	if err == nil {
		err = s.bus.Publish(ctx, subject, event)
	}
	if err != nil {
		logger.WarnContext(ctx, "failed to publish referral event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, template string, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.Send(ctx, userID, notify.ChannelEmail, template, payload)
}
