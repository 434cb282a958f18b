package referrals

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/bunkmate/referral-service/internal/codes"
	"github.com/bunkmate/referral-service/internal/directory"
	"github.com/bunkmate/referral-service/internal/programs"
	"github.com/bunkmate/referral-service/internal/rewards"
	"github.com/bunkmate/referral-service/pkg/common"
)

type mockReferralsRepository struct {
	mock.Mock
}

func (m *mockReferralsRepository) Create(ctx context.Context, referral *Referral) error {
	args := m.Called(ctx, referral)
	if args.Error(0) == nil {
		referral.ID = uuid.New()
		referral.CreatedAt = time.Now()
		referral.UpdatedAt = time.Now()
	}
	return args.Error(0)
}

func (m *mockReferralsRepository) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Referral), args.Error(1)
}

func (m *mockReferralsRepository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Referral, int, error) {
	args := m.Called(ctx, filter, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*Referral), args.Int(1), args.Error(2)
}

func (m *mockReferralsRepository) Convert(ctx context.Context, id uuid.UUID, input ConvertInput) (bool, error) {
	args := m.Called(ctx, id, input)
	return args.Bool(0), args.Error(1)
}

func (m *mockReferralsRepository) Transition(ctx context.Context, id uuid.UUID, toStatus string) (bool, error) {
	args := m.Called(ctx, id, toStatus)
	return args.Bool(0), args.Error(1)
}

func (m *mockReferralsRepository) AppendHistory(ctx context.Context, change *StatusChange) error {
	args := m.Called(ctx, change)
	return args.Error(0)
}

func (m *mockReferralsRepository) History(ctx context.Context, referralID uuid.UUID) ([]*StatusChange, error) {
	args := m.Called(ctx, referralID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*StatusChange), args.Error(1)
}

func (m *mockReferralsRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Referral, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Referral), args.Error(1)
}

type mockProgramRegistry struct {
	mock.Mock
}

func (m *mockProgramRegistry) GetProgram(ctx context.Context, id uuid.UUID) (*programs.ReferralProgram, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*programs.ReferralProgram), args.Error(1)
}

func (m *mockProgramRegistry) CheckEligibility(ctx context.Context, program *programs.ReferralProgram, input programs.EligibilityInput) error {
	args := m.Called(ctx, program, input)
	return args.Error(0)
}

func (m *mockProgramRegistry) ReferrerUsage(ctx context.Context, programID, referrerID uuid.UUID) (int, int, error) {
	args := m.Called(ctx, programID, referrerID)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *mockProgramRegistry) IncrementPending(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockProgramRegistry) MarkConverted(ctx context.Context, id uuid.UUID, rewardsPaid float64) error {
	args := m.Called(ctx, id, rewardsPaid)
	return args.Error(0)
}

func (m *mockProgramRegistry) ReleasePending(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockCodeRegistry struct {
	mock.Mock
}

func (m *mockCodeRegistry) Redeem(ctx context.Context, code string) (*codes.ReferralCode, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*codes.ReferralCode), args.Error(1)
}

func (m *mockCodeRegistry) TrackEngagementByID(ctx context.Context, id uuid.UUID, event string) error {
	args := m.Called(ctx, id, event)
	return args.Error(0)
}

type mockRewardEngine struct {
	mock.Mock
}

func (m *mockRewardEngine) Create(ctx context.Context, input rewards.CreateInput) (*rewards.ReferralReward, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rewards.ReferralReward), args.Error(1)
}

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, userID uuid.UUID) (*directory.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*directory.User), args.Error(1)
}

type testDeps struct {
	repo     *mockReferralsRepository
	programs *mockProgramRegistry
	codes    *mockCodeRegistry
	rewards  *mockRewardEngine
	resolver *mockResolver
	service  *Service
}

func newTestService() *testDeps {
	d := &testDeps{
		repo:     new(mockReferralsRepository),
		programs: new(mockProgramRegistry),
		codes:    new(mockCodeRegistry),
		rewards:  new(mockRewardEngine),
		resolver: new(mockResolver),
	}
	d.service = NewService(d.repo, d.programs, d.codes, d.rewards, d.resolver, nil, nil, 100)
	return d
}

func hostelProgram() *programs.ReferralProgram {
	return &programs.ReferralProgram{
		ID:             uuid.New(),
		Name:           "Monsoon Referrals",
		ReferrerReward: 500,
		RefereeReward:  200,
		Currency:       "INR",
		IsActive:       true,
	}
}

func pendingReferral(programID uuid.UUID) *Referral {
	return &Referral{
		ID:           uuid.New(),
		ProgramID:    programID,
		ReferrerID:   uuid.New(),
		RefereeEmail: "priya@example.com",
		Status:       StatusPending,
		CreatedAt:    time.Now().Add(-time.Hour),
	}
}

func TestCreateRequiresRefereeIdentity(t *testing.T) {
	d := newTestService()

	_, err := d.service.Create(context.Background(), CreateInput{
		ProgramID:  uuid.New(),
		ReferrerID: uuid.New(),
	})

	assert.Error(t, err)
	var appErr *common.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, 400, appErr.Code)
	d.repo.AssertNotCalled(t, "Create")
}

func TestCreateRejectsUnknownReferrer(t *testing.T) {
	d := newTestService()
	referrerID := uuid.New()

	d.resolver.On("Resolve", mock.Anything, referrerID).Return(nil, common.ErrNotFound).Once()

	_, err := d.service.Create(context.Background(), CreateInput{
		ProgramID:    uuid.New(),
		ReferrerID:   referrerID,
		RefereeEmail: "priya@example.com",
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "referrer does not exist")
	d.repo.AssertNotCalled(t, "Create")
	d.resolver.AssertExpectations(t)
}

func TestCreatePendingReferral(t *testing.T) {
	d := newTestService()
	program := hostelProgram()
	referrerID := uuid.New()

	d.resolver.On("Resolve", mock.Anything, referrerID).
		Return(&directory.User{ID: referrerID, Role: "resident"}, nil).Once()
	d.programs.On("GetProgram", mock.Anything, program.ID).Return(program, nil).Once()
	d.programs.On("ReferrerUsage", mock.Anything, program.ID, referrerID).Return(3, 1, nil).Once()
	d.programs.On("CheckEligibility", mock.Anything, program, programs.EligibilityInput{
		Role:           "resident",
		UserMonthCount: 1,
		UserTotalCount: 3,
	}).Return(nil).Once()
	d.repo.On("Create", mock.Anything, mock.MatchedBy(func(r *Referral) bool {
		return r.Status == StatusPending && r.RefereeEmail == "priya@example.com"
	})).Return(nil).Once()
	d.repo.On("AppendHistory", mock.Anything, mock.MatchedBy(func(ch *StatusChange) bool {
		return ch.OldStatus == "" && ch.NewStatus == StatusPending
	})).Return(nil).Once()
	d.programs.On("IncrementPending", mock.Anything, program.ID).Return(nil).Once()

	result, err := d.service.Create(context.Background(), CreateInput{
		ProgramID:    program.ID,
		ReferrerID:   referrerID,
		RefereeEmail: "priya@example.com",
	})

	assert.NoError(t, err)
	assert.False(t, result.CodeLinked)
	assert.Equal(t, StatusPending, result.Referral.Status)
	d.repo.AssertExpectations(t)
	d.programs.AssertExpectations(t)
}

func TestCreateLinksRedeemedCode(t *testing.T) {
	d := newTestService()
	program := hostelProgram()
	referrerID := uuid.New()
	code := &codes.ReferralCode{ID: uuid.New(), Code: "AMIT3F7K2Q"}

	d.resolver.On("Resolve", mock.Anything, referrerID).
		Return(&directory.User{ID: referrerID, Role: "resident"}, nil).Once()
	d.programs.On("GetProgram", mock.Anything, program.ID).Return(program, nil).Once()
	d.programs.On("ReferrerUsage", mock.Anything, program.ID, referrerID).Return(0, 0, nil).Once()
	d.programs.On("CheckEligibility", mock.Anything, program, mock.Anything).Return(nil).Once()
	d.codes.On("Redeem", mock.Anything, "AMIT3F7K2Q").Return(code, nil).Once()
	d.repo.On("Create", mock.Anything, mock.MatchedBy(func(r *Referral) bool {
		return r.CodeID != nil && *r.CodeID == code.ID
	})).Return(nil).Once()
	d.repo.On("AppendHistory", mock.Anything, mock.Anything).Return(nil).Once()
	d.programs.On("IncrementPending", mock.Anything, program.ID).Return(nil).Once()

	result, err := d.service.Create(context.Background(), CreateInput{
		ProgramID:    program.ID,
		ReferrerID:   referrerID,
		RefereeEmail: "priya@example.com",
		Code:         "AMIT3F7K2Q",
	})

	assert.NoError(t, err)
	assert.True(t, result.CodeLinked)
	d.codes.AssertExpectations(t)
}

func TestCreateSurvivesExhaustedCode(t *testing.T) {
	d := newTestService()
	program := hostelProgram()
	referrerID := uuid.New()

	d.resolver.On("Resolve", mock.Anything, referrerID).
		Return(&directory.User{ID: referrerID, Role: "resident"}, nil).Once()
	d.programs.On("GetProgram", mock.Anything, program.ID).Return(program, nil).Once()
	d.programs.On("ReferrerUsage", mock.Anything, program.ID, referrerID).Return(0, 0, nil).Once()
	d.programs.On("CheckEligibility", mock.Anything, program, mock.Anything).Return(nil).Once()
	d.codes.On("Redeem", mock.Anything, "USED00").
		Return(nil, common.NewQuotaExceededError("referral code has no remaining uses")).Once()
	d.repo.On("Create", mock.Anything, mock.MatchedBy(func(r *Referral) bool {
		return r.CodeID == nil
	})).Return(nil).Once()
	d.repo.On("AppendHistory", mock.Anything, mock.Anything).Return(nil).Once()
	d.programs.On("IncrementPending", mock.Anything, program.ID).Return(nil).Once()

	result, err := d.service.Create(context.Background(), CreateInput{
		ProgramID:    program.ID,
		ReferrerID:   referrerID,
		RefereeEmail: "priya@example.com",
		Code:         "USED00",
	})

	assert.NoError(t, err)
	assert.False(t, result.CodeLinked)
	assert.Nil(t, result.Referral.CodeID)
	d.repo.AssertExpectations(t)
}

func TestCreateFailsOnInactiveCode(t *testing.T) {
	d := newTestService()
	program := hostelProgram()
	referrerID := uuid.New()

	d.resolver.On("Resolve", mock.Anything, referrerID).
		Return(&directory.User{ID: referrerID, Role: "resident"}, nil).Once()
	d.programs.On("GetProgram", mock.Anything, program.ID).Return(program, nil).Once()
	d.programs.On("ReferrerUsage", mock.Anything, program.ID, referrerID).Return(0, 0, nil).Once()
	d.programs.On("CheckEligibility", mock.Anything, program, mock.Anything).Return(nil).Once()
	d.codes.On("Redeem", mock.Anything, "DEAD00").
		Return(nil, common.NewConflictError("referral code is not active")).Once()

	_, err := d.service.Create(context.Background(), CreateInput{
		ProgramID:    program.ID,
		ReferrerID:   referrerID,
		RefereeEmail: "priya@example.com",
		Code:         "DEAD00",
	})

	assert.Error(t, err)
	assert.True(t, common.IsConflict(err))
	d.repo.AssertNotCalled(t, "Create")
}

func TestConvertCompletesReferralAndCreatesRewards(t *testing.T) {
	d := newTestService()
	program := hostelProgram()
	referral := pendingReferral(program.ID)
	bookingID := uuid.New()
	refereeID := uuid.New()

	amount := 15000.0
	stay := 6
	converted := *referral
	converted.Status = StatusCompleted
	converted.BookingID = &bookingID
	converted.BookingAmount = &amount
	converted.StayMonths = &stay
	converted.RefereeUserID = &refereeID
	converted.ReferrerRewardAmount = 500
	converted.RefereeRewardAmount = 200

	d.repo.On("GetByID", mock.Anything, referral.ID).Return(referral, nil).Once()
	d.programs.On("GetProgram", mock.Anything, program.ID).Return(program, nil).Once()
	d.programs.On("CheckEligibility", mock.Anything, program, programs.EligibilityInput{
		BookingAmount: 15000,
		StayMonths:    6,
	}).Return(nil).Once()
	d.repo.On("Convert", mock.Anything, referral.ID, mock.MatchedBy(func(in ConvertInput) bool {
		return in.ReferrerReward == 500 && in.RefereeReward == 200
	})).Return(true, nil).Once()
	d.repo.On("AppendHistory", mock.Anything, mock.MatchedBy(func(ch *StatusChange) bool {
		return ch.OldStatus == StatusPending && ch.NewStatus == StatusCompleted
	})).Return(nil).Once()
	d.repo.On("GetByID", mock.Anything, referral.ID).Return(&converted, nil).Once()
	d.rewards.On("Create", mock.Anything, rewards.CreateInput{
		ReferralID:    referral.ID,
		RecipientType: rewards.RecipientReferrer,
		RecipientID:   referral.ReferrerID,
		BaseAmount:    500,
		Currency:      "INR",
	}).Return(&rewards.ReferralReward{}, nil).Once()
	d.rewards.On("Create", mock.Anything, rewards.CreateInput{
		ReferralID:    referral.ID,
		RecipientType: rewards.RecipientReferee,
		RecipientID:   refereeID,
		BaseAmount:    200,
		Currency:      "INR",
	}).Return(&rewards.ReferralReward{}, nil).Once()
	d.programs.On("MarkConverted", mock.Anything, program.ID, 700.0).Return(nil).Once()

	result, err := d.service.Convert(context.Background(), referral.ID, ConvertInput{
		BookingID:     bookingID,
		BookingAmount: 15000,
		StayMonths:    6,
		RefereeUserID: &refereeID,
	})

	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	d.repo.AssertExpectations(t)
	d.rewards.AssertExpectations(t)
	d.programs.AssertExpectations(t)
}

func TestConvertTwiceIsRejected(t *testing.T) {
	d := newTestService()
	program := hostelProgram()
	referral := pendingReferral(program.ID)
	referral.Status = StatusCompleted

	d.repo.On("GetByID", mock.Anything, referral.ID).Return(referral, nil).Once()

	_, err := d.service.Convert(context.Background(), referral.ID, ConvertInput{
		BookingID:     uuid.New(),
		BookingAmount: 15000,
		StayMonths:    6,
	})

	assert.True(t, common.IsConflict(err))
	d.repo.AssertNotCalled(t, "Convert")
	d.rewards.AssertNotCalled(t, "Create")
}

func TestConvertLosingTheRaceYieldsConflict(t *testing.T) {
	d := newTestService()
	program := hostelProgram()
	referral := pendingReferral(program.ID)

	d.repo.On("GetByID", mock.Anything, referral.ID).Return(referral, nil).Once()
	d.programs.On("GetProgram", mock.Anything, program.ID).Return(program, nil).Once()
	d.programs.On("CheckEligibility", mock.Anything, program, mock.Anything).Return(nil).Once()
	d.repo.On("Convert", mock.Anything, referral.ID, mock.Anything).Return(false, nil).Once()

	_, err := d.service.Convert(context.Background(), referral.ID, ConvertInput{
		BookingID:     uuid.New(),
		BookingAmount: 15000,
		StayMonths:    6,
	})

	assert.True(t, common.IsConflict(err))
	d.rewards.AssertNotCalled(t, "Create")
	d.programs.AssertNotCalled(t, "MarkConverted")
}

func TestConvertValidatesStayMonths(t *testing.T) {
	d := newTestService()

	for _, stay := range []int{0, -1, 25} {
		_, err := d.service.Convert(context.Background(), uuid.New(), ConvertInput{
			BookingID:     uuid.New(),
			BookingAmount: 15000,
			StayMonths:    stay,
		})
		assert.Error(t, err, "stay_months %d should be rejected", stay)
	}
	d.repo.AssertNotCalled(t, "GetByID")
}

func TestTerminalTransitions(t *testing.T) {
	cases := []struct {
		name       string
		from       string
		wantErr    bool
		transition bool
	}{
		{name: "pending can be cancelled", from: StatusPending, transition: true},
		{name: "completed cannot be cancelled", from: StatusCompleted, wantErr: true},
		{name: "cancelled cannot be cancelled again", from: StatusCancelled, wantErr: true},
		{name: "expired cannot be cancelled", from: StatusExpired, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestService()
			program := hostelProgram()
			referral := pendingReferral(program.ID)
			referral.Status = tc.from

			d.repo.On("GetByID", mock.Anything, referral.ID).Return(referral, nil).Once()
			if tc.transition {
				cancelled := *referral
				cancelled.Status = StatusCancelled
				d.repo.On("Transition", mock.Anything, referral.ID, StatusCancelled).Return(true, nil).Once()
				d.repo.On("AppendHistory", mock.Anything, mock.Anything).Return(nil).Once()
				d.programs.On("ReleasePending", mock.Anything, program.ID).Return(nil).Once()
				d.repo.On("GetByID", mock.Anything, referral.ID).Return(&cancelled, nil).Once()
			}

			result, err := d.service.Cancel(context.Background(), referral.ID, "ops", "duplicate entry")

			if tc.wantErr {
				assert.True(t, common.IsConflict(err))
				d.repo.AssertNotCalled(t, "Transition")
			} else {
				assert.NoError(t, err)
				assert.Equal(t, StatusCancelled, result.Status)
				d.programs.AssertExpectations(t)
			}
		})
	}
}

func TestExpireReleasesPendingCounter(t *testing.T) {
	d := newTestService()
	program := hostelProgram()
	referral := pendingReferral(program.ID)
	expired := *referral
	expired.Status = StatusExpired

	d.repo.On("GetByID", mock.Anything, referral.ID).Return(referral, nil).Once()
	d.repo.On("Transition", mock.Anything, referral.ID, StatusExpired).Return(true, nil).Once()
	d.repo.On("AppendHistory", mock.Anything, mock.MatchedBy(func(ch *StatusChange) bool {
		return ch.NewStatus == StatusExpired && ch.Actor == SystemActor
	})).Return(nil).Once()
	d.programs.On("ReleasePending", mock.Anything, program.ID).Return(nil).Once()
	d.repo.On("GetByID", mock.Anything, referral.ID).Return(&expired, nil).Once()

	result, err := d.service.Expire(context.Background(), referral.ID, "", "no conversion within 90 days")

	assert.NoError(t, err)
	assert.Equal(t, StatusExpired, result.Status)
	d.programs.AssertExpectations(t)
}

func TestSweepExpiredCountsOutcomes(t *testing.T) {
	d := newTestService()
	program := hostelProgram()

	good := pendingReferral(program.ID)
	flaky := pendingReferral(program.ID)

	d.repo.On("ListStalePending", mock.Anything, mock.Anything, 100).
		Return([]*Referral{good, flaky}, nil).Once()

	goodExpired := *good
	goodExpired.Status = StatusExpired
	d.repo.On("GetByID", mock.Anything, good.ID).Return(good, nil).Once()
	d.repo.On("Transition", mock.Anything, good.ID, StatusExpired).Return(true, nil).Once()
	d.repo.On("AppendHistory", mock.Anything, mock.Anything).Return(nil)
	d.programs.On("ReleasePending", mock.Anything, program.ID).Return(nil)
	d.repo.On("GetByID", mock.Anything, good.ID).Return(&goodExpired, nil).Once()

	d.repo.On("GetByID", mock.Anything, flaky.ID).Return(nil, assert.AnError).Once()

	result, err := d.service.SweepExpired(context.Background(), 90)

	assert.NoError(t, err)
	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 1, result.Failed)
}

func TestSweepSkipsReferralsAnotherWorkerAlreadyExpired(t *testing.T) {
	d := newTestService()
	program := hostelProgram()
	raced := pendingReferral(program.ID)
	alreadyExpired := *raced
	alreadyExpired.Status = StatusExpired

	d.repo.On("ListStalePending", mock.Anything, mock.Anything, 100).
		Return([]*Referral{raced}, nil).Once()
	d.repo.On("GetByID", mock.Anything, raced.ID).Return(&alreadyExpired, nil).Once()

	result, err := d.service.SweepExpired(context.Background(), 90)

	assert.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 0, result.Expired)
	assert.Equal(t, 0, result.Failed)
	d.repo.AssertNotCalled(t, "Transition")
}

func TestGetReturnsOrderedHistory(t *testing.T) {
	d := newTestService()
	program := hostelProgram()
	referral := pendingReferral(program.ID)
	history := []*StatusChange{
		{ReferralID: referral.ID, OldStatus: "", NewStatus: StatusPending},
	}

	d.repo.On("GetByID", mock.Anything, referral.ID).Return(referral, nil).Once()
	d.repo.On("History", mock.Anything, referral.ID).Return(history, nil).Once()

	detail, err := d.service.Get(context.Background(), referral.ID)

	assert.NoError(t, err)
	assert.Equal(t, referral.ID, detail.Referral.ID)
	assert.Len(t, detail.History, 1)
}

func TestGetUnknownReferral(t *testing.T) {
	d := newTestService()
	id := uuid.New()

	d.repo.On("GetByID", mock.Anything, id).Return(nil, common.ErrNotFound).Once()

	_, err := d.service.Get(context.Background(), id)

	assert.True(t, common.IsNotFound(err))
	var appErr *common.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, 404, appErr.Code)
}
