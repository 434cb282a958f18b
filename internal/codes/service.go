package codes

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/bunkmate/referral-service/internal/programs"
	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/database"
	"github.com/bunkmate/referral-service/pkg/logger"
)

const (
	// MaxUsesLimit caps the per-code redemption quota.
	MaxUsesLimit = 1000

	// codeGenerationAttempts bounds retries on code-string collisions.
	codeGenerationAttempts = 5
)

var redemptionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "referral_code_redemptions_total",
		Help: "Referral code redemption attempts by outcome",
	},
	[]string{"outcome"},
)

// CodesRepository defines the storage operations required by the service.
type CodesRepository interface {
	Create(ctx context.Context, code *ReferralCode) error
	GetByCode(ctx context.Context, code string) (*ReferralCode, error)
	GetByID(ctx context.Context, id uuid.UUID) (*ReferralCode, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*ReferralCode, int, error)
	Redeem(ctx context.Context, code string) (*ReferralCode, error)
	TrackEngagement(ctx context.Context, code string, event string) error
	Deactivate(ctx context.Context, code string) error
}

// ProgramDirectory is the slice of the programs service the registry needs.
type ProgramDirectory interface {
	GetProgram(ctx context.Context, id uuid.UUID) (*programs.ReferralProgram, error)
}

// Service handles referral code business logic
type Service struct {
	repo     CodesRepository
	programs ProgramDirectory
}

// NewService creates a new codes service
func NewService(repo CodesRepository, programDir ProgramDirectory) *Service {
	return &Service{repo: repo, programs: programDir}
}

// Issue mints a new code for a referrer under an active program. Code strings
// are a normalized prefix plus a random suffix; collisions with existing
// codes retry generation a bounded number of times.
func (s *Service) Issue(ctx context.Context, ownerID, programID uuid.UUID, prefix string, maxUses int, expiresAt *time.Time) (*ReferralCode, error) {
	if maxUses < 1 || maxUses > MaxUsesLimit {
		return nil, common.NewValidationError(fmt.Sprintf("max_uses must be between 1 and %d", MaxUsesLimit))
	}
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		return nil, common.NewValidationError("expires_at must be in the future")
	}

	program, err := s.programs.GetProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	if !program.IsActive {
		return nil, common.NewBusinessRuleError("referral program is not active")
	}
	if !program.IsWithinValidity(time.Now()) {
		return nil, common.NewBusinessRuleError("referral program is outside its validity window")
	}

	for attempt := 0; attempt < codeGenerationAttempts; attempt++ {
		code := &ReferralCode{
			ProgramID: programID,
			OwnerID:   ownerID,
			Code:      generateCode(prefix),
			MaxUses:   maxUses,
			IsActive:  true,
			ExpiresAt: expiresAt,
		}

		err := s.repo.Create(ctx, code)
		if err == nil {
			return code, nil
		}
		if !database.IsUniqueViolation(err, "referral_codes_code_key") {
			return nil, err
		}

		logger.WarnContext(ctx, "referral code collision, regenerating",
			zap.String("code", code.Code),
			zap.Int("attempt", attempt+1),
		)
	}

	return nil, common.NewValidationError("could not generate a unique referral code")
}

// Validate answers whether a code is currently redeemable without consuming
// a use. Redeem re-checks everything atomically; this is advisory only.
func (s *Service) Validate(ctx context.Context, codeStr string) (*CodeValidation, error) {
	code, err := s.repo.GetByCode(ctx, codeStr)
	if err != nil {
		if common.IsNotFound(err) {
			return &CodeValidation{Valid: false, Reason: "code does not exist"}, nil
		}
		return nil, err
	}

	if !code.IsActive {
		return &CodeValidation{Valid: false, Reason: "code is inactive", Code: code}, nil
	}
	if code.IsExpired(time.Now()) {
		return &CodeValidation{Valid: false, Reason: "code has expired", Code: code}, nil
	}
	if code.TimesUsed >= code.MaxUses {
		return &CodeValidation{Valid: false, Reason: "code redemption quota exhausted", Code: code}, nil
	}

	program, err := s.programs.GetProgram(ctx, code.ProgramID)
	if err != nil {
		return nil, err
	}
	if !program.IsActive || !program.IsWithinValidity(time.Now()) {
		return &CodeValidation{Valid: false, Reason: "referral program is not accepting redemptions", Code: code}, nil
	}

	return &CodeValidation{Valid: true, Code: code}, nil
}

// Redeem consumes one use of the code. The quota guard lives in the storage
// conditional update; this layer only diagnoses why a redemption matched
// nothing.
func (s *Service) Redeem(ctx context.Context, codeStr string) (*ReferralCode, error) {
	code, err := s.repo.Redeem(ctx, codeStr)
	if err == nil {
		redemptionsTotal.WithLabelValues("success").Inc()
		return code, nil
	}
	if !common.IsNotFound(err) {
		// A retryable storage conflict surviving here means the bounded
		// retries inside the repo were exhausted by contention on the code
		// row. Treat that the same as losing the quota race rather than
		// surfacing a 500.
		if database.IsRetryable(err) {
			redemptionsTotal.WithLabelValues("quota_exceeded").Inc()
			return nil, common.NewQuotaExceededError("referral code redemption quota exhausted")
		}
		redemptionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	// The guard matched zero rows. Re-read to tell the caller why.
	existing, getErr := s.repo.GetByCode(ctx, codeStr)
	if getErr != nil {
		if common.IsNotFound(getErr) {
			redemptionsTotal.WithLabelValues("not_found").Inc()
			return nil, common.NewNotFoundError("referral code not found")
		}
		return nil, getErr
	}

	switch {
	case existing.TimesUsed >= existing.MaxUses:
		redemptionsTotal.WithLabelValues("quota_exceeded").Inc()
		return nil, common.NewQuotaExceededError("referral code redemption quota exhausted")
	case existing.IsExpired(time.Now()):
		redemptionsTotal.WithLabelValues("expired").Inc()
		return nil, common.NewConflictError("referral code has expired")
	default:
		redemptionsTotal.WithLabelValues("inactive").Inc()
		return nil, common.NewConflictError("referral code is not active")
	}
}

// TrackEngagement bumps a funnel counter on the code
func (s *Service) TrackEngagement(ctx context.Context, codeStr, event string) error {
	err := s.repo.TrackEngagement(ctx, codeStr, event)
	if err != nil {
		if common.IsNotFound(err) {
			return common.NewNotFoundError("referral code not found")
		}
		return err
	}
	return nil
}

// TrackEngagementByID bumps a funnel counter when only the code's ID is on
// hand, as with referrals that store the linked code by reference.
func (s *Service) TrackEngagementByID(ctx context.Context, id uuid.UUID, event string) error {
	code, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if common.IsNotFound(err) {
			return common.NewNotFoundError("referral code not found")
		}
		return err
	}
	return s.TrackEngagement(ctx, code.Code, event)
}

// GetCode retrieves a code by its code string
func (s *Service) GetCode(ctx context.Context, codeStr string) (*ReferralCode, error) {
	code, err := s.repo.GetByCode(ctx, codeStr)
	if err != nil {
		if common.IsNotFound(err) {
			return nil, common.NewNotFoundError("referral code not found")
		}
		return nil, err
	}
	return code, nil
}

// ListCodes retrieves a referrer's codes with pagination
func (s *Service) ListCodes(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*ReferralCode, int, error) {
	return s.repo.ListByOwner(ctx, ownerID, limit, offset)
}

// DeactivateCode turns a code off
func (s *Service) DeactivateCode(ctx context.Context, code string) error {
	err := s.repo.Deactivate(ctx, code)
	if err != nil {
		if common.IsNotFound(err) {
			return common.NewNotFoundError("referral code not found")
		}
		return err
	}
	return nil
}

// generateCode builds a code string from a normalized prefix and a random
// suffix. The full string stays within the column's 16 characters.
func generateCode(prefix string) string {
	prefix = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(prefix), " ", ""))
	if len(prefix) > 6 {
		prefix = prefix[:6]
	}
	if prefix == "" {
		prefix = "REF"
	}

	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = charset[rand.Intn(len(charset))]
	}

	return prefix + string(suffix)
}
