package programs

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/logger"
)

// ProgramsRepository defines the storage operations required by the service.
type ProgramsRepository interface {
	Create(ctx context.Context, program *ReferralProgram) error
	GetByID(ctx context.Context, id uuid.UUID) (*ReferralProgram, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*ReferralProgram, int, error)
	Update(ctx context.Context, program *ReferralProgram) error
	SoftDelete(ctx context.Context, id uuid.UUID, deletedBy *uuid.UUID) error
	IncrementPending(ctx context.Context, id uuid.UUID) error
	MarkConverted(ctx context.Context, id uuid.UUID, rewardsPaid float64) error
	ReleasePending(ctx context.Context, id uuid.UUID) error
	CountReferrerUsage(ctx context.Context, programID, referrerID uuid.UUID) (int, int, error)
}

// Service handles referral program business logic
type Service struct {
	repo ProgramsRepository
}

// NewService creates a new programs service
func NewService(repo ProgramsRepository) *Service {
	return &Service{repo: repo}
}

// CreateProgram creates a new referral program
func (s *Service) CreateProgram(ctx context.Context, program *ReferralProgram) error {
	if err := validateProgramPolicy(program); err != nil {
		return err
	}

	if err := s.repo.Create(ctx, program); err != nil {
		return fmt.Errorf("failed to create program: %w", err)
	}

	logger.InfoContext(ctx, "referral program created",
		zap.String("program_id", program.ID.String()),
		zap.String("name", program.Name),
	)

	return nil
}

// GetProgram retrieves a referral program by ID
func (s *Service) GetProgram(ctx context.Context, id uuid.UUID) (*ReferralProgram, error) {
	program, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if common.IsNotFound(err) {
			return nil, common.NewNotFoundError("referral program not found")
		}
		return nil, err
	}
	return program, nil
}

// ListPrograms retrieves programs with pagination
func (s *Service) ListPrograms(ctx context.Context, activeOnly bool, limit, offset int) ([]*ReferralProgram, int, error) {
	return s.repo.List(ctx, activeOnly, limit, offset)
}

// UpdateProgram updates a program's policy fields
func (s *Service) UpdateProgram(ctx context.Context, program *ReferralProgram) error {
	if err := validateProgramPolicy(program); err != nil {
		return err
	}

	err := s.repo.Update(ctx, program)
	if err != nil {
		if common.IsNotFound(err) {
			return common.NewNotFoundError("referral program not found")
		}
		return err
	}

	return nil
}

// DeleteProgram soft-deletes a program; existing referrals keep their history
func (s *Service) DeleteProgram(ctx context.Context, id uuid.UUID, deletedBy *uuid.UUID) error {
	err := s.repo.SoftDelete(ctx, id, deletedBy)
	if err != nil {
		if common.IsNotFound(err) {
			return common.NewNotFoundError("referral program not found")
		}
		return err
	}

	logger.InfoContext(ctx, "referral program deleted", zap.String("program_id", id.String()))
	return nil
}

// CheckEligibility evaluates a referrer and prospective booking against the
// program's policy. Zero booking amount and stay months mean the values are
// not yet known (referral creation time) and those checks are skipped; they
// are enforced again at conversion time with the real booking.
func (s *Service) CheckEligibility(ctx context.Context, program *ReferralProgram, input EligibilityInput) error {
	if !program.IsActive || program.DeletedAt != nil {
		return common.NewBusinessRuleError("referral program is not active")
	}
	if !program.IsWithinValidity(time.Now()) {
		return common.NewBusinessRuleError("referral program is outside its validity window")
	}

	// An empty role means the caller has nothing to check against (the role
	// was verified when the referral was created); skip like the booking
	// checks below.
	if input.Role != "" && len(program.EligibleRoles) > 0 && !slices.Contains(program.EligibleRoles, input.Role) {
		return common.NewBusinessRuleError(fmt.Sprintf("role %q is not eligible for this program", input.Role))
	}

	if input.BookingAmount > 0 && input.BookingAmount < program.MinBookingAmount {
		return common.NewBusinessRuleError(fmt.Sprintf(
			"booking amount %.2f is below the program minimum %.2f",
			input.BookingAmount, program.MinBookingAmount))
	}

	if input.StayMonths > 0 && input.StayMonths < program.MinStayMonths {
		return common.NewBusinessRuleError(fmt.Sprintf(
			"stay of %d months is below the program minimum %d",
			input.StayMonths, program.MinStayMonths))
	}

	if program.MaxReferralsPerUser > 0 && input.UserTotalCount >= program.MaxReferralsPerUser {
		return common.NewBusinessRuleError("referral cap for this user reached")
	}
	if program.MaxReferralsPerMonth > 0 && input.UserMonthCount >= program.MaxReferralsPerMonth {
		return common.NewBusinessRuleError("monthly referral cap for this user reached")
	}

	return nil
}

// ReferrerUsage returns the referrer's all-time and current-month counts.
func (s *Service) ReferrerUsage(ctx context.Context, programID, referrerID uuid.UUID) (total int, thisMonth int, err error) {
	return s.repo.CountReferrerUsage(ctx, programID, referrerID)
}

// IncrementPending records a newly created referral on the program counters.
func (s *Service) IncrementPending(ctx context.Context, id uuid.UUID) error {
	return s.repo.IncrementPending(ctx, id)
}

// MarkConverted records a successful conversion on the program counters.
func (s *Service) MarkConverted(ctx context.Context, id uuid.UUID, rewardsPaid float64) error {
	return s.repo.MarkConverted(ctx, id, rewardsPaid)
}

// ReleasePending drops the pending counter after a cancellation or expiry.
func (s *Service) ReleasePending(ctx context.Context, id uuid.UUID) error {
	return s.repo.ReleasePending(ctx, id)
}

func validateProgramPolicy(program *ReferralProgram) error {
	if program.Name == "" {
		return common.NewValidationError("program name is required")
	}
	if program.ReferrerReward < 0 || program.RefereeReward < 0 {
		return common.NewValidationError("reward amounts cannot be negative")
	}
	if program.MinStayMonths < 1 || program.MinStayMonths > 24 {
		return common.NewValidationError("min_stay_months must be between 1 and 24")
	}
	if program.MinBookingAmount < 0 {
		return common.NewValidationError("min_booking_amount cannot be negative")
	}
	if program.ValidFrom != nil && program.ValidTo != nil && !program.ValidTo.After(*program.ValidFrom) {
		return common.NewValidationError("valid_to must be after valid_from")
	}
	return nil
}
