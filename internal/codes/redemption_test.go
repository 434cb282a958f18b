package codes

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/bunkmate/referral-service/internal/programs"
	"github.com/bunkmate/referral-service/pkg/common"
)

// fakeCodeStore enforces the same guard as the storage conditional update:
// the check and the increment happen under one lock, exactly like a single
// UPDATE ... WHERE times_used < max_uses statement.
type fakeCodeStore struct {
	mu    sync.Mutex
	codes map[string]*ReferralCode
}

func newFakeCodeStore() *fakeCodeStore {
	return &fakeCodeStore{codes: make(map[string]*ReferralCode)}
}

func (f *fakeCodeStore) Create(ctx context.Context, code *ReferralCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.codes[code.Code]; exists {
		return common.ErrConflict
	}
	code.ID = uuid.New()
	f.codes[code.Code] = code
	return nil
}

func (f *fakeCodeStore) GetByCode(ctx context.Context, code string) (*ReferralCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.codes[code]
	if !ok {
		return nil, common.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (f *fakeCodeStore) GetByID(ctx context.Context, id uuid.UUID) (*ReferralCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, stored := range f.codes {
		if stored.ID == id {
			copied := *stored
			return &copied, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeCodeStore) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*ReferralCode, int, error) {
	return nil, 0, nil
}

func (f *fakeCodeStore) Redeem(ctx context.Context, code string) (*ReferralCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.codes[code]
	if !ok || !stored.IsActive || stored.TimesUsed >= stored.MaxUses || stored.IsExpired(time.Now()) {
		return nil, common.ErrNotFound
	}

	stored.TimesUsed++
	stored.IsActive = stored.TimesUsed < stored.MaxUses
	copied := *stored
	return &copied, nil
}

func (f *fakeCodeStore) TrackEngagement(ctx context.Context, code string, event string) error {
	return nil
}

func (f *fakeCodeStore) Deactivate(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.codes[code]
	if !ok {
		return common.ErrNotFound
	}
	stored.IsActive = false
	return nil
}

type staticProgramDirectory struct {
	program *programs.ReferralProgram
}

func (d *staticProgramDirectory) GetProgram(ctx context.Context, id uuid.UUID) (*programs.ReferralProgram, error) {
	return d.program, nil
}

func TestConcurrentRedemptionNeverExceedsQuota(t *testing.T) {
	ctx := context.Background()
	store := newFakeCodeStore()
	service := NewService(store, &staticProgramDirectory{program: &programs.ReferralProgram{IsActive: true}})

	const maxUses = 5
	const redeemers = 10

	err := store.Create(ctx, &ReferralCode{
		Code:     "HOSTEL5",
		MaxUses:  maxUses,
		IsActive: true,
	})
	assert.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, redeemers)
	for i := 0; i < redeemers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Redeem(ctx, "HOSTEL5")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, quotaExceeded, other int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case common.IsQuotaExceeded(err):
			quotaExceeded++
		default:
			other++
		}
	}

	assert.Equal(t, maxUses, succeeded)
	assert.Equal(t, redeemers-maxUses, quotaExceeded)
	assert.Zero(t, other)

	final, err := store.GetByCode(ctx, "HOSTEL5")
	assert.NoError(t, err)
	assert.Equal(t, maxUses, final.TimesUsed)
	assert.False(t, final.IsActive)
}

func TestRedeemDeactivatesOnFinalUse(t *testing.T) {
	ctx := context.Background()
	store := newFakeCodeStore()
	service := NewService(store, &staticProgramDirectory{program: &programs.ReferralProgram{IsActive: true}})

	err := store.Create(ctx, &ReferralCode{Code: "LAST1", MaxUses: 1, IsActive: true})
	assert.NoError(t, err)

	code, err := service.Redeem(ctx, "LAST1")
	assert.NoError(t, err)
	assert.Equal(t, 1, code.TimesUsed)
	assert.False(t, code.IsActive)

	_, err = service.Redeem(ctx, "LAST1")
	assert.True(t, common.IsQuotaExceeded(err))
}
