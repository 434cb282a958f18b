package referrals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bunkmate/referral-service/pkg/common"
	"github.com/bunkmate/referral-service/pkg/database"
)

// Repository handles database operations for referrals and their history
type Repository struct {
	db *pgxpool.Pool
}

// Ensure Repository implements ReferralsRepository.
var _ ReferralsRepository = (*Repository)(nil)

// NewRepository creates a new referrals repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const referralColumns = `id, program_id, referrer_id, code_id, referee_email, referee_phone,
		referee_user_id, status, booking_id, booking_amount, stay_months, conversion_date,
		referrer_reward_amount, referee_reward_amount, referrer_reward_status,
		referee_reward_status, created_at, updated_at`

func scanReferral(row pgx.Row) (*Referral, error) {
	r := &Referral{}
	err := row.Scan(
		&r.ID,
		&r.ProgramID,
		&r.ReferrerID,
		&r.CodeID,
		&r.RefereeEmail,
		&r.RefereePhone,
		&r.RefereeUserID,
		&r.Status,
		&r.BookingID,
		&r.BookingAmount,
		&r.StayMonths,
		&r.ConversionDate,
		&r.ReferrerRewardAmount,
		&r.RefereeRewardAmount,
		&r.ReferrerRewardStatus,
		&r.RefereeRewardStatus,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Create inserts a new pending referral
func (r *Repository) Create(ctx context.Context, referral *Referral) error {
	query := `
		INSERT INTO referrals (id, program_id, referrer_id, code_id, referee_email,
			referee_phone, referee_user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	referral.ID = uuid.New()
	now := time.Now()
	referral.CreatedAt = now
	referral.UpdatedAt = now

	_, err := r.db.Exec(ctx, query,
		referral.ID,
		referral.ProgramID,
		referral.ReferrerID,
		referral.CodeID,
		referral.RefereeEmail,
		referral.RefereePhone,
		referral.RefereeUserID,
		referral.Status,
		referral.CreatedAt,
		referral.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create referral: %w", err)
	}

	return nil
}

// GetByID retrieves a referral by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE id = $1`

	referral, err := scanReferral(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}

	return referral, nil
}

// List retrieves referrals matching the filter with pagination
func (r *Repository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Referral, int, error) {
	where := `1=1`
	args := []interface{}{}

	appendCond := func(cond string, value interface{}) {
		args = append(args, value)
		where += fmt.Sprintf(" AND "+cond, len(args))
	}

	if filter.Status != "" {
		appendCond("status = $%d", filter.Status)
	}
	if filter.ProgramID != nil {
		appendCond("program_id = $%d", *filter.ProgramID)
	}
	if filter.ReferrerID != nil {
		appendCond("referrer_id = $%d", *filter.ReferrerID)
	}
	if filter.From != nil {
		appendCond("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		appendCond("created_at < $%d", *filter.To)
	}

	var total int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM referrals WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count referrals: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT `+referralColumns+`
		FROM referrals
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list referrals: %w", err)
	}
	defer rows.Close()

	result := []*Referral{}
	for rows.Next() {
		referral, err := scanReferral(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan referral: %w", err)
		}
		result = append(result, referral)
	}

	return result, total, nil
}

// Convert completes a pending referral with its booking facts. The status
// precondition in the WHERE clause makes redelivered booking webhooks
// harmless: only the first conversion matches a row.
func (r *Repository) Convert(ctx context.Context, id uuid.UUID, input ConvertInput) (bool, error) {
	query := `
		UPDATE referrals
		SET status = 'completed',
		    booking_id = $2,
		    booking_amount = $3,
		    stay_months = $4,
		    referee_user_id = COALESCE($5, referee_user_id),
		    conversion_date = NOW(),
		    referrer_reward_amount = $6,
		    referee_reward_amount = $7,
		    referrer_reward_status = 'pending',
		    referee_reward_status = 'pending',
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := database.RetryableExec(ctx, r.db, "referral_convert", query,
		id,
		input.BookingID,
		input.BookingAmount,
		input.StayMonths,
		input.RefereeUserID,
		input.ReferrerReward,
		input.RefereeReward,
	)
	if err != nil {
		return false, fmt.Errorf("failed to convert referral: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Transition moves a pending referral to a terminal state. Zero rows
// affected means the referral was not pending.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, toStatus string) (bool, error) {
	query := `
		UPDATE referrals
		SET status = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := database.RetryableExec(ctx, r.db, "referral_transition", query, id, toStatus)
	if err != nil {
		return false, fmt.Errorf("failed to transition referral: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// AppendHistory records one immutable status-change row
func (r *Repository) AppendHistory(ctx context.Context, change *StatusChange) error {
	query := `
		INSERT INTO referral_status_history (id, referral_id, old_status, new_status, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	change.ID = uuid.New()
	change.CreatedAt = time.Now()

	_, err := r.db.Exec(ctx, query,
		change.ID,
		change.ReferralID,
		change.OldStatus,
		change.NewStatus,
		change.Actor,
		change.Reason,
		change.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append status history: %w", err)
	}

	return nil
}

// History retrieves a referral's status changes in chronological order
func (r *Repository) History(ctx context.Context, referralID uuid.UUID) ([]*StatusChange, error) {
	query := `
		SELECT id, referral_id, old_status, new_status, actor, reason, created_at
		FROM referral_status_history
		WHERE referral_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to get status history: %w", err)
	}
	defer rows.Close()

	result := []*StatusChange{}
	for rows.Next() {
		change := &StatusChange{}
		err := rows.Scan(
			&change.ID,
			&change.ReferralID,
			&change.OldStatus,
			&change.NewStatus,
			&change.Actor,
			&change.Reason,
			&change.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		result = append(result, change)
	}

	return result, nil
}

// ListStalePending retrieves pending referrals created before the cutoff
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Referral, error) {
	query := `
		SELECT ` + referralColumns + `
		FROM referrals
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale referrals: %w", err)
	}
	defer rows.Close()

	result := []*Referral{}
	for rows.Next() {
		referral, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan referral: %w", err)
		}
		result = append(result, referral)
	}

	return result, nil
}
