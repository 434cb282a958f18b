package programs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bunkmate/referral-service/pkg/common"
)

// Repository handles database operations for referral programs
type Repository struct {
	db *pgxpool.Pool
}

// Ensure Repository implements ProgramsRepository.
var _ ProgramsRepository = (*Repository)(nil)

// NewRepository creates a new programs repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const programColumns = `id, name, description, referrer_reward, referee_reward, currency,
		eligible_roles, min_booking_amount, min_stay_months, max_referrals_per_user,
		max_referrals_per_month, valid_from, valid_to, is_active, total_referrals,
		pending_referrals, successful_referrals, total_rewards_paid,
		created_by, updated_by, created_at, updated_at, deleted_at`

func scanProgram(row pgx.Row) (*ReferralProgram, error) {
	p := &ReferralProgram{}
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.ReferrerReward,
		&p.RefereeReward,
		&p.Currency,
		&p.EligibleRoles,
		&p.MinBookingAmount,
		&p.MinStayMonths,
		&p.MaxReferralsPerUser,
		&p.MaxReferralsPerMonth,
		&p.ValidFrom,
		&p.ValidTo,
		&p.IsActive,
		&p.TotalReferrals,
		&p.PendingReferrals,
		&p.SuccessfulReferrals,
		&p.TotalRewardsPaid,
		&p.CreatedBy,
		&p.UpdatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create creates a new referral program
func (r *Repository) Create(ctx context.Context, program *ReferralProgram) error {
	query := `
		INSERT INTO referral_programs (id, name, description, referrer_reward, referee_reward,
			currency, eligible_roles, min_booking_amount, min_stay_months,
			max_referrals_per_user, max_referrals_per_month, valid_from, valid_to,
			is_active, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	program.ID = uuid.New()
	now := time.Now()
	program.CreatedAt = now
	program.UpdatedAt = now

	_, err := r.db.Exec(ctx, query,
		program.ID,
		program.Name,
		program.Description,
		program.ReferrerReward,
		program.RefereeReward,
		program.Currency,
		program.EligibleRoles,
		program.MinBookingAmount,
		program.MinStayMonths,
		program.MaxReferralsPerUser,
		program.MaxReferralsPerMonth,
		program.ValidFrom,
		program.ValidTo,
		program.IsActive,
		program.CreatedBy,
		program.UpdatedBy,
		program.CreatedAt,
		program.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create referral program: %w", err)
	}

	return nil
}

// GetByID retrieves a referral program by ID, excluding soft-deleted rows
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*ReferralProgram, error) {
	query := `
		SELECT ` + programColumns + `
		FROM referral_programs
		WHERE id = $1 AND deleted_at IS NULL
	`

	program, err := scanProgram(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get referral program: %w", err)
	}

	return program, nil
}

// List retrieves referral programs with pagination, optionally only active ones
func (r *Repository) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*ReferralProgram, int, error) {
	filter := `deleted_at IS NULL`
	if activeOnly {
		filter += ` AND is_active = true`
	}

	var total int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM referral_programs WHERE `+filter).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count referral programs: %w", err)
	}

	query := `
		SELECT ` + programColumns + `
		FROM referral_programs
		WHERE ` + filter + `
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list referral programs: %w", err)
	}
	defer rows.Close()

	programs := []*ReferralProgram{}
	for rows.Next() {
		program, err := scanProgram(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan referral program: %w", err)
		}
		programs = append(programs, program)
	}

	return programs, total, nil
}

// Update updates a referral program's policy fields
func (r *Repository) Update(ctx context.Context, program *ReferralProgram) error {
	query := `
		UPDATE referral_programs
		SET name = $2,
		    description = $3,
		    referrer_reward = $4,
		    referee_reward = $5,
		    currency = $6,
		    eligible_roles = $7,
		    min_booking_amount = $8,
		    min_stay_months = $9,
		    max_referrals_per_user = $10,
		    max_referrals_per_month = $11,
		    valid_from = $12,
		    valid_to = $13,
		    is_active = $14,
		    updated_by = $15,
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	tag, err := r.db.Exec(ctx, query,
		program.ID,
		program.Name,
		program.Description,
		program.ReferrerReward,
		program.RefereeReward,
		program.Currency,
		program.EligibleRoles,
		program.MinBookingAmount,
		program.MinStayMonths,
		program.MaxReferralsPerUser,
		program.MaxReferralsPerMonth,
		program.ValidFrom,
		program.ValidTo,
		program.IsActive,
		program.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to update referral program: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}

	return nil
}

// SoftDelete marks a referral program as deleted
func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID, deletedBy *uuid.UUID) error {
	query := `
		UPDATE referral_programs
		SET deleted_at = NOW(),
		    is_active = false,
		    updated_by = $2,
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`

	tag, err := r.db.Exec(ctx, query, id, deletedBy)
	if err != nil {
		return fmt.Errorf("failed to delete referral program: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}

	return nil
}

// IncrementPending bumps both the total and pending referral counters
func (r *Repository) IncrementPending(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE referral_programs
		SET total_referrals = total_referrals + 1,
		    pending_referrals = pending_referrals + 1,
		    updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment pending referrals: %w", err)
	}

	return nil
}

// MarkConverted moves a referral from the pending to the successful counter
// and accrues the rewards paid total
func (r *Repository) MarkConverted(ctx context.Context, id uuid.UUID, rewardsPaid float64) error {
	query := `
		UPDATE referral_programs
		SET pending_referrals = GREATEST(0, pending_referrals - 1),
		    successful_referrals = successful_referrals + 1,
		    total_rewards_paid = total_rewards_paid + $2,
		    updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id, rewardsPaid)
	if err != nil {
		return fmt.Errorf("failed to mark referral converted: %w", err)
	}

	return nil
}

// ReleasePending drops the pending counter when a referral is cancelled or expires
func (r *Repository) ReleasePending(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE referral_programs
		SET pending_referrals = GREATEST(0, pending_referrals - 1),
		    updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to release pending referral: %w", err)
	}

	return nil
}

// CountReferrerUsage returns the referrer's all-time and current-month
// referral counts for cap checks
func (r *Repository) CountReferrerUsage(ctx context.Context, programID, referrerID uuid.UUID) (total int, thisMonth int, err error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE created_at >= date_trunc('month', NOW()))
		FROM referrals
		WHERE program_id = $1 AND referrer_id = $2 AND status != 'cancelled'
	`

	err = r.db.QueryRow(ctx, query, programID, referrerID).Scan(&total, &thisMonth)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count referrer usage: %w", err)
	}

	return total, thisMonth, nil
}
