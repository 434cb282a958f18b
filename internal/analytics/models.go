package analytics

import (
	"time"

	"github.com/google/uuid"
)

// Trend buckets accepted by the trends report.
const (
	BucketDay   = "day"
	BucketWeek  = "week"
	BucketMonth = "month"
)

// Overview is the headline snapshot across every referral entity.
type Overview struct {
	Programs        map[string]int     `json:"programs"`
	Referrals       map[string]int     `json:"referrals"`
	Rewards         map[string]int     `json:"rewards"`
	Payouts         map[string]int     `json:"payouts"`
	TotalRewardsNet float64            `json:"total_rewards_net"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// Funnel tracks one program's conversion pipeline from code shares down to
// completed referrals.
type Funnel struct {
	ProgramID        uuid.UUID `json:"program_id"`
	Shares           int       `json:"shares"`
	Clicks           int       `json:"clicks"`
	Registrations    int       `json:"registrations"`
	Bookings         int       `json:"bookings"`
	Completions      int       `json:"completions"`
	ClickRate        float64   `json:"click_rate"`
	RegistrationRate float64   `json:"registration_rate"`
	BookingRate      float64   `json:"booking_rate"`
	CompletionRate   float64   `json:"completion_rate"`
	Period           string    `json:"period"`
}

// LeaderboardEntry ranks one referrer.
type LeaderboardEntry struct {
	ReferrerID          uuid.UUID `json:"referrer_id"`
	SuccessfulReferrals int       `json:"successful_referrals"`
	TotalReferrals      int       `json:"total_referrals"`
	RevenueGenerated    float64   `json:"revenue_generated"`
	RewardsEarned       float64   `json:"rewards_earned"`
}

// Reconciliation is the finance snapshot: what the program still owes and
// what it has already recognized as spend.
type Reconciliation struct {
	OutstandingLiability float64            `json:"outstanding_liability"`
	RecognizedExpense    float64            `json:"recognized_expense"`
	PayoutTotals         map[string]float64 `json:"payout_totals"`
	GeneratedAt          time.Time          `json:"generated_at"`
}

// TrendPoint is one time bucket of referral activity.
type TrendPoint struct {
	Bucket      time.Time `json:"bucket"`
	Created     int       `json:"created"`
	Completed   int       `json:"completed"`
	RewardsPaid float64   `json:"rewards_paid"`
}
