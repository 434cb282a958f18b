package codes

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

// Repository handles database operations for referral codes
type Repository struct {
	db *pgxpool.Pool
}

// Ensure Repository implements CodesRepository.
var _ CodesRepository = (*Repository)(nil)

// NewRepository creates a new codes repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const codeColumns = `id, program_id, owner_id, code, max_uses, times_used, is_active,
		expires_at, share_count, click_count, registration_count, booking_count,
		created_at, updated_at`

func scanCode(row pgx.Row) (*ReferralCode, error) {
	c := &ReferralCode{}
	err := row.Scan(
		&c.ID,
		&c.ProgramID,
		&c.OwnerID,
		&c.Code,
		&c.MaxUses,
		&c.TimesUsed,
		&c.IsActive,
		&c.ExpiresAt,
		&c.ShareCount,
		&c.ClickCount,
		&c.RegistrationCount,
		&c.BookingCount,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Create inserts a new referral code. A unique violation on the code string
// is surfaced unwrapped so the service can retry generation.
func (r *Repository) Create(ctx context.Context, code *ReferralCode) error {
	query := `
		INSERT INTO referral_codes (id, program_id, owner_id, code, max_uses, times_used,
			is_active, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	code.ID = uuid.New()
	now := time.Now()
	code.CreatedAt = now
	code.UpdatedAt = now

	_, err := r.db.Exec(ctx, query,
		code.ID,
		code.ProgramID,
		code.OwnerID,
		code.Code,
		code.MaxUses,
		code.TimesUsed,
		code.IsActive,
		code.ExpiresAt,
		code.CreatedAt,
		code.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err, "referral_codes_code_key") {
			return err
		}
		return fmt.Errorf("failed to create referral code: %w", err)
	}

	return nil
}

// GetByCode retrieves a referral code by its code string
func (r *Repository) GetByCode(ctx context.Context, code string) (*ReferralCode, error) {
	query := `SELECT ` + codeColumns + ` FROM referral_codes WHERE code = $1`

	result, err := scanCode(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get referral code: %w", err)
	}

	return result, nil
}

// GetByID retrieves a referral code by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*ReferralCode, error) {
	query := `SELECT ` + codeColumns + ` FROM referral_codes WHERE id = $1`

	result, err := scanCode(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get referral code: %w", err)
	}

	return result, nil
}

// ListByOwner retrieves a referrer's codes with pagination
func (r *Repository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*ReferralCode, int, error) {
	var total int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM referral_codes WHERE owner_id = $1`, ownerID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count referral codes: %w", err)
	}

	query := `
		SELECT ` + codeColumns + `
		FROM referral_codes
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list referral codes: %w", err)
	}
	defer rows.Close()

	result := []*ReferralCode{}
	for rows.Next() {
		code, err := scanCode(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan referral code: %w", err)
		}
		result = append(result, code)
	}

	return result, total, nil
}

// Redeem consumes one use of the code in a single conditional update. The
// guard enforces quota, liveness and expiry in the same statement that
// increments, so concurrent redeemers can never exceed max_uses. Zero rows
// matched is reported as common.ErrNotFound for the service to diagnose.
func (r *Repository) Redeem(ctx context.Context, code string) (*ReferralCode, error) {
	query := `
		UPDATE referral_codes
		SET times_used = times_used + 1,
		    is_active = (times_used + 1 < max_uses),
		    updated_at = NOW()
		WHERE code = $1
		  AND is_active
		  AND times_used < max_uses
		  AND (expires_at IS NULL OR expires_at > NOW())
		RETURNING ` + codeColumns + `
	`

	result, err := database.RetryableQueryRow(ctx, r.db, "code_redeem", query,
		[]interface{}{code}, scanCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to redeem referral code: %w", err)
	}

	return result, nil
}

// TrackEngagement bumps one of the monotonic funnel counters
func (r *Repository) TrackEngagement(ctx context.Context, code string, event string) error {
	var column string
	switch event {
	case EventShare:
		column = "share_count"
	case EventClick:
		column = "click_count"
	case EventRegistration:
		column = "registration_count"
	case EventBooking:
		column = "booking_count"
	default:
		return common.NewValidationError(fmt.Sprintf("unknown engagement event %q", event))
	}

	query := fmt.Sprintf(`
		UPDATE referral_codes
		SET %s = %s + 1,
		    updated_at = NOW()
		WHERE code = $1
	`, column, column)

	tag, err := r.db.Exec(ctx, query, code)
	if err != nil {
		return fmt.Errorf("failed to track engagement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}

	return nil
}

// Deactivate turns a code off without touching its counters
func (r *Repository) Deactivate(ctx context.Context, code string) error {
	query := `
		UPDATE referral_codes
		SET is_active = false,
		    updated_at = NOW()
		WHERE code = $1
	`

	tag, err := r.db.Exec(ctx, query, code)
	if err != nil {
		return fmt.Errorf("failed to deactivate referral code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}

	return nil
}
