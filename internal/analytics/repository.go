package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles database operations for analytics. Every query is a
// plain read: snapshots tolerate concurrent writes and are only atomic per
// row.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new analytics repository
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) countByStatus(ctx context.Context, table string) (map[string]int, error) {
	// table comes from a fixed call-site whitelist, never user input.
	query := fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, table)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", table, err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan %s counts: %w", table, err)
		}
		counts[status] = count
	}

	return counts, nil
}

// GetOverview assembles entity counts by status plus headline money totals
func (r *Repository) GetOverview(ctx context.Context) (*Overview, error) {
	overview := &Overview{GeneratedAt: time.Now()}

	var err error
	if overview.Referrals, err = r.countByStatus(ctx, "referrals"); err != nil {
		return nil, err
	}
	if overview.Rewards, err = r.countByStatus(ctx, "referral_rewards"); err != nil {
		return nil, err
	}
	if overview.Payouts, err = r.countByStatus(ctx, "reward_payouts"); err != nil {
		return nil, err
	}

	programQuery := `
		SELECT
			COUNT(*) FILTER (WHERE is_active AND deleted_at IS NULL) as active,
			COUNT(*) FILTER (WHERE NOT is_active AND deleted_at IS NULL) as inactive,
			COUNT(*) FILTER (WHERE deleted_at IS NOT NULL) as deleted
		FROM referral_programs
	`
	var active, inactive, deleted int
	if err := r.db.QueryRow(ctx, programQuery).Scan(&active, &inactive, &deleted); err != nil {
		return nil, fmt.Errorf("failed to count programs: %w", err)
	}
	overview.Programs = map[string]int{"active": active, "inactive": inactive, "deleted": deleted}

	rewardsQuery := `SELECT COALESCE(SUM(net_amount), 0) FROM referral_rewards WHERE status != 'cancelled'`
	if err := r.db.QueryRow(ctx, rewardsQuery).Scan(&overview.TotalRewardsNet); err != nil {
		return nil, fmt.Errorf("failed to sum rewards: %w", err)
	}

	return overview, nil
}

// GetFunnel aggregates a program's engagement counters and completed
// referrals over a period
func (r *Repository) GetFunnel(ctx context.Context, programID uuid.UUID, startDate, endDate time.Time) (*Funnel, error) {
	codesQuery := `
		SELECT
			COALESCE(SUM(share_count), 0),
			COALESCE(SUM(click_count), 0),
			COALESCE(SUM(registration_count), 0),
			COALESCE(SUM(booking_count), 0)
		FROM referral_codes
		WHERE program_id = $1
	`

	funnel := &Funnel{ProgramID: programID}
	err := r.db.QueryRow(ctx, codesQuery, programID).Scan(
		&funnel.Shares,
		&funnel.Clicks,
		&funnel.Registrations,
		&funnel.Bookings,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate engagement counters: %w", err)
	}

	completionsQuery := `
		SELECT COUNT(*)
		FROM referrals
		WHERE program_id = $1
		  AND status = 'completed'
		  AND conversion_date >= $2
		  AND conversion_date <= $3
	`
	err = r.db.QueryRow(ctx, completionsQuery, programID, startDate, endDate).Scan(&funnel.Completions)
	if err != nil {
		return nil, fmt.Errorf("failed to count completions: %w", err)
	}

	funnel.ClickRate = rate(funnel.Clicks, funnel.Shares)
	funnel.RegistrationRate = rate(funnel.Registrations, funnel.Clicks)
	funnel.BookingRate = rate(funnel.Bookings, funnel.Registrations)
	funnel.CompletionRate = rate(funnel.Completions, funnel.Bookings)
	funnel.Period = fmt.Sprintf("%s to %s", startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))

	return funnel, nil
}

func rate(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

// GetLeaderboard ranks referrers by successful referrals, ties broken by
// the booking revenue they brought in
func (r *Repository) GetLeaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	query := `
		SELECT
			r.referrer_id,
			COUNT(*) FILTER (WHERE r.status = 'completed') as successful,
			COUNT(*) as total,
			COALESCE(SUM(r.booking_amount) FILTER (WHERE r.status = 'completed'), 0) as revenue,
			COALESCE(SUM(rw.net_amount), 0) as rewards_earned
		FROM referrals r
		LEFT JOIN referral_rewards rw
			ON rw.referral_id = r.id
			AND rw.recipient_type = 'referrer'
			AND rw.status IN ('approved', 'paid')
		GROUP BY r.referrer_id
		HAVING COUNT(*) FILTER (WHERE r.status = 'completed') > 0
		ORDER BY successful DESC, revenue DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []*LeaderboardEntry
	for rows.Next() {
		entry := &LeaderboardEntry{}
		err := rows.Scan(
			&entry.ReferrerID,
			&entry.SuccessfulReferrals,
			&entry.TotalReferrals,
			&entry.RevenueGenerated,
			&entry.RewardsEarned,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// GetReconciliation computes outstanding liability vs recognized expense
// across rewards and payouts
func (r *Repository) GetReconciliation(ctx context.Context) (*Reconciliation, error) {
	rewardsQuery := `
		SELECT
			COALESCE(SUM(net_amount) FILTER (WHERE status IN ('pending', 'approved')), 0) as liability,
			COALESCE(SUM(net_amount) FILTER (WHERE status = 'paid'), 0) as expense
		FROM referral_rewards
	`

	rec := &Reconciliation{GeneratedAt: time.Now()}
	err := r.db.QueryRow(ctx, rewardsQuery).Scan(&rec.OutstandingLiability, &rec.RecognizedExpense)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile rewards: %w", err)
	}

	payoutsQuery := `SELECT status, COALESCE(SUM(net_amount), 0) FROM reward_payouts GROUP BY status`
	rows, err := r.db.Query(ctx, payoutsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile payouts: %w", err)
	}
	defer rows.Close()

	rec.PayoutTotals = map[string]float64{}
	for rows.Next() {
		var status string
		var total float64
		if err := rows.Scan(&status, &total); err != nil {
			return nil, fmt.Errorf("failed to scan payout totals: %w", err)
		}
		rec.PayoutTotals[status] = total
	}

	return rec, nil
}

// GetTrends buckets referral creations, completions and reward spend over
// time via date_trunc
func (r *Repository) GetTrends(ctx context.Context, bucket string, startDate, endDate time.Time) ([]*TrendPoint, error) {
	switch bucket {
	case BucketDay, BucketWeek, BucketMonth:
	default:
		return nil, fmt.Errorf("unsupported trend bucket %q", bucket)
	}

	query := fmt.Sprintf(`
		SELECT
			date_trunc('%s', r.created_at) as bucket,
			COUNT(*) as created,
			COUNT(*) FILTER (WHERE r.status = 'completed') as completed,
			COALESCE(SUM(rw.net_amount), 0) as rewards_paid
		FROM referrals r
		LEFT JOIN referral_rewards rw
			ON rw.referral_id = r.id AND rw.status = 'paid'
		WHERE r.created_at >= $1 AND r.created_at <= $2
		GROUP BY bucket
		ORDER BY bucket
	`, bucket)

	rows, err := r.db.Query(ctx, query, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to get trends: %w", err)
	}
	defer rows.Close()

	var points []*TrendPoint
	for rows.Next() {
		point := &TrendPoint{}
		if err := rows.Scan(&point.Bucket, &point.Created, &point.Completed, &point.RewardsPaid); err != nil {
			return nil, fmt.Errorf("failed to scan trend point: %w", err)
		}
		points = append(points, point)
	}

	return points, nil
}
