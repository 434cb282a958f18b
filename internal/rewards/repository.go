package rewards

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

// Repository handles database operations for referral rewards
type Repository struct {
	db *pgxpool.Pool
}

// Ensure Repository implements RewardsRepository.
var _ RewardsRepository = (*Repository)(nil)

// NewRepository creates a new rewards repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const rewardColumns = `id, referral_id, recipient_type, recipient_id, base_amount, bonus_amount,
		total_amount, tax_deduction, processing_fee, net_amount, currency, status,
		approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
		paid_by, paid_at, transaction_id, payment_method, created_at, updated_at`

func scanReward(row pgx.Row) (*ReferralReward, error) {
	r := &ReferralReward{}
	err := row.Scan(
		&r.ID,
		&r.ReferralID,
		&r.RecipientType,
		&r.RecipientID,
		&r.BaseAmount,
		&r.BonusAmount,
		&r.TotalAmount,
		&r.TaxDeduction,
		&r.ProcessingFee,
		&r.NetAmount,
		&r.Currency,
		&r.Status,
		&r.ApprovedBy,
		&r.ApprovedAt,
		&r.RejectedBy,
		&r.RejectedAt,
		&r.RejectionReason,
		&r.PaidBy,
		&r.PaidAt,
		&r.TransactionID,
		&r.PaymentMethod,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Create inserts a new reward row
func (r *Repository) Create(ctx context.Context, reward *ReferralReward) error {
	query := `
		INSERT INTO referral_rewards (id, referral_id, recipient_type, recipient_id,
			base_amount, bonus_amount, total_amount, tax_deduction, processing_fee,
			net_amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	reward.ID = uuid.New()
	now := time.Now()
	reward.CreatedAt = now
	reward.UpdatedAt = now

	_, err := r.db.Exec(ctx, query,
		reward.ID,
		reward.ReferralID,
		reward.RecipientType,
		reward.RecipientID,
		reward.BaseAmount,
		reward.BonusAmount,
		reward.TotalAmount,
		reward.TaxDeduction,
		reward.ProcessingFee,
		reward.NetAmount,
		reward.Currency,
		reward.Status,
		reward.CreatedAt,
		reward.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err, "referral_rewards_one_per_recipient") {
			return common.ErrConflict
		}
		return fmt.Errorf("failed to create reward: %w", err)
	}

	return nil
}

// GetByID retrieves a reward by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*ReferralReward, error) {
	query := `SELECT ` + rewardColumns + ` FROM referral_rewards WHERE id = $1`

	reward, err := scanReward(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get reward: %w", err)
	}

	return reward, nil
}

// ListByRecipient retrieves a recipient's rewards, optionally filtered by status
func (r *Repository) ListByRecipient(ctx context.Context, recipientID uuid.UUID, status string, limit, offset int) ([]*ReferralReward, int, error) {
	filter := `recipient_id = $1`
	args := []interface{}{recipientID}
	if status != "" {
		filter += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM referral_rewards WHERE `+filter, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count rewards: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT `+rewardColumns+`
		FROM referral_rewards
		WHERE `+filter+`
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list rewards: %w", err)
	}
	defer rows.Close()

	result := []*ReferralReward{}
	for rows.Next() {
		reward, err := scanReward(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan reward: %w", err)
		}
		result = append(result, reward)
	}

	return result, total, nil
}

// ListByReferral retrieves both reward rows of a referral
func (r *Repository) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*ReferralReward, error) {
	query := `
		SELECT ` + rewardColumns + `
		FROM referral_rewards
		WHERE referral_id = $1
		ORDER BY recipient_type
	`

	rows, err := r.db.Query(ctx, query, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to list referral rewards: %w", err)
	}
	defer rows.Close()

	result := []*ReferralReward{}
	for rows.Next() {
		reward, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		result = append(result, reward)
	}

	return result, nil
}

// Approve transitions pending→approved. Zero rows affected means the reward
// was not pending.
func (r *Repository) Approve(ctx context.Context, id uuid.UUID, approver uuid.UUID) (bool, error) {
	query := `
		UPDATE referral_rewards
		SET status = 'approved',
		    approved_by = $2,
		    approved_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := database.RetryableExec(ctx, r.db, "reward_approve", query, id, approver)
	if err != nil {
		return false, fmt.Errorf("failed to approve reward: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Reject transitions pending|approved→rejected with a structured reason
func (r *Repository) Reject(ctx context.Context, id uuid.UUID, rejector uuid.UUID, reason string) (bool, error) {
	query := `
		UPDATE referral_rewards
		SET status = 'rejected',
		    rejected_by = $2,
		    rejected_at = NOW(),
		    rejection_reason = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'approved')
	`

	tag, err := database.RetryableExec(ctx, r.db, "reward_reject", query, id, rejector, reason)
	if err != nil {
		return false, fmt.Errorf("failed to reject reward: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// MarkPaid transitions approved→paid and stamps the payment reference
func (r *Repository) MarkPaid(ctx context.Context, id uuid.UUID, payer uuid.UUID, transactionID, method string) (bool, error) {
	query := `
		UPDATE referral_rewards
		SET status = 'paid',
		    paid_by = $2,
		    paid_at = NOW(),
		    transaction_id = $3,
		    payment_method = $4,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'approved'
	`

	tag, err := database.RetryableExec(ctx, r.db, "reward_mark_paid", query, id, payer, transactionID, method)
	if err != nil {
		if database.IsUniqueViolation(err, "referral_rewards_transaction_id_key") {
			return false, common.ErrConflict
		}
		return false, fmt.Errorf("failed to mark reward paid: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// TransactionIDExists checks the reward ledger and the payout ledger for a
// payment reference. The unique indexes are the final authority; this
// pre-check produces a friendlier conflict before the write.
func (r *Repository) TransactionIDExists(ctx context.Context, transactionID string) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM referral_rewards WHERE transaction_id = $1)
		    OR EXISTS (SELECT 1 FROM reward_payouts WHERE transaction_id = $1)
	`

	var exists bool
	err := r.db.QueryRow(ctx, query, transactionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check transaction id: %w", err)
	}

	return exists, nil
}

// ApprovedUnpaidBalance sums a recipient's approved, not yet paid, net amounts
func (r *Repository) ApprovedUnpaidBalance(ctx context.Context, recipientID uuid.UUID) (float64, error) {
	query := `
		SELECT COALESCE(SUM(net_amount), 0)
		FROM referral_rewards
		WHERE recipient_id = $1 AND status = 'approved'
	`

	var balance float64
	err := r.db.QueryRow(ctx, query, recipientID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to get approved balance: %w", err)
	}

	return balance, nil
}
