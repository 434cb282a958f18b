package payouts

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

// Repository handles database operations for reward payouts
type Repository struct {
	db *pgxpool.Pool
}

// Ensure Repository implements PayoutsRepository.
var _ PayoutsRepository = (*Repository)(nil)

// NewRepository creates a new payouts repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const payoutColumns = `id, user_id, amount, processing_fee, tax_deduction, net_amount, currency,
		method, payout_details, status, requested_at, approved_by, approved_at,
		estimated_completion_date, processing_by, processing_at, paid_at,
		transaction_id, failure_reason, created_at, updated_at`

func scanPayout(row pgx.Row) (*Payout, error) {
	p := &Payout{}
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Amount,
		&p.ProcessingFee,
		&p.TaxDeduction,
		&p.NetAmount,
		&p.Currency,
		&p.Method,
		&p.PayoutDetails,
		&p.Status,
		&p.RequestedAt,
		&p.ApprovedBy,
		&p.ApprovedAt,
		&p.EstimatedCompletionDate,
		&p.ProcessingBy,
		&p.ProcessingAt,
		&p.PaidAt,
		&p.TransactionID,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create inserts a new pending payout
func (r *Repository) Create(ctx context.Context, payout *Payout) error {
	query := `
		INSERT INTO reward_payouts (id, user_id, amount, processing_fee, tax_deduction,
			net_amount, currency, method, payout_details, status, requested_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	payout.ID = uuid.New()
	now := time.Now()
	payout.RequestedAt = now
	payout.CreatedAt = now
	payout.UpdatedAt = now

	_, err := r.db.Exec(ctx, query,
		payout.ID,
		payout.UserID,
		payout.Amount,
		payout.ProcessingFee,
		payout.TaxDeduction,
		payout.NetAmount,
		payout.Currency,
		payout.Method,
		payout.PayoutDetails,
		payout.Status,
		payout.RequestedAt,
		payout.CreatedAt,
		payout.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payout: %w", err)
	}

	return nil
}

// GetByID retrieves a payout by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM reward_payouts WHERE id = $1`

	payout, err := scanPayout(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}

	return payout, nil
}

// ListByUser retrieves a user's payouts, optionally filtered by status
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]*Payout, int, error) {
	filter := `user_id = $1`
	args := []interface{}{userID}
	if status != "" {
		filter += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM reward_payouts WHERE `+filter, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count payouts: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT `+payoutColumns+`
		FROM reward_payouts
		WHERE `+filter+`
		ORDER BY requested_at DESC
		LIMIT $%d OFFSET $%d
	`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payouts: %w", err)
	}
	defer rows.Close()

	result := []*Payout{}
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan payout: %w", err)
		}
		result = append(result, payout)
	}

	return result, total, nil
}

// Approve transitions pending→approved. Zero rows affected means the payout
// was not pending.
func (r *Repository) Approve(ctx context.Context, id, approver uuid.UUID, estimatedCompletion time.Time) (bool, error) {
	query := `
		UPDATE reward_payouts
		SET status = 'approved',
		    approved_by = $2,
		    approved_at = NOW(),
		    estimated_completion_date = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := database.RetryableExec(ctx, r.db, "payout_approve", query, id, approver, estimatedCompletion)
	if err != nil {
		return false, fmt.Errorf("failed to approve payout: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// MarkProcessing transitions approved→processing
func (r *Repository) MarkProcessing(ctx context.Context, id, processor uuid.UUID) (bool, error) {
	query := `
		UPDATE reward_payouts
		SET status = 'processing',
		    processing_by = $2,
		    processing_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'approved'
	`

	tag, err := database.RetryableExec(ctx, r.db, "payout_processing", query, id, processor)
	if err != nil {
		return false, fmt.Errorf("failed to mark payout processing: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Complete transitions processing→paid with the settlement transaction id.
// A duplicate transaction id surfaces as a conflict.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, transactionID string) (bool, error) {
	query := `
		UPDATE reward_payouts
		SET status = 'paid',
		    paid_at = NOW(),
		    transaction_id = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`

	tag, err := database.RetryableExec(ctx, r.db, "payout_complete", query, id, transactionID)
	if err != nil {
		if database.IsUniqueViolation(err, "reward_payouts_transaction_id_key") {
			return false, common.ErrConflict
		}
		return false, fmt.Errorf("failed to complete payout: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Fail transitions any non-terminal payout to failed
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	query := `
		UPDATE reward_payouts
		SET status = 'failed',
		    failure_reason = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('paid', 'failed')
	`

	tag, err := database.RetryableExec(ctx, r.db, "payout_fail", query, id, reason)
	if err != nil {
		return false, fmt.Errorf("failed to fail payout: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// TransactionIDExists checks both money ledgers for a transaction id
func (r *Repository) TransactionIDExists(ctx context.Context, transactionID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM reward_payouts WHERE transaction_id = $1
			UNION ALL
			SELECT 1 FROM referral_rewards WHERE transaction_id = $1
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, transactionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check transaction id: %w", err)
	}

	return exists, nil
}

// TotalsByStatus sums payout net amounts grouped by status
func (r *Repository) TotalsByStatus(ctx context.Context) (map[string]float64, error) {
	query := `SELECT status, COALESCE(SUM(net_amount), 0) FROM reward_payouts GROUP BY status`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to sum payouts: %w", err)
	}
	defer rows.Close()

	totals := map[string]float64{}
	for rows.Next() {
		var status string
		var total float64
		if err := rows.Scan(&status, &total); err != nil {
			return nil, fmt.Errorf("failed to scan payout totals: %w", err)
		}
		totals[status] = total
	}

	return totals, nil
}
