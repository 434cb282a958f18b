package codes

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/bunkmate/referral-service/internal/programs"
	"github.com/bunkmate/referral-service/pkg/common"
)

type mockCodesRepository struct {
	mock.Mock
}

func (m *mockCodesRepository) Create(ctx context.Context, code *ReferralCode) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *mockCodesRepository) GetByCode(ctx context.Context, code string) (*ReferralCode, error) {
	args := m.Called(ctx, code)
	result, _ := args.Get(0).(*ReferralCode)
	return result, args.Error(1)
}

func (m *mockCodesRepository) GetByID(ctx context.Context, id uuid.UUID) (*ReferralCode, error) {
	args := m.Called(ctx, id)
	result, _ := args.Get(0).(*ReferralCode)
	return result, args.Error(1)
}

func (m *mockCodesRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*ReferralCode, int, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	result, _ := args.Get(0).([]*ReferralCode)
	return result, args.Int(1), args.Error(2)
}

func (m *mockCodesRepository) Redeem(ctx context.Context, code string) (*ReferralCode, error) {
	args := m.Called(ctx, code)
	result, _ := args.Get(0).(*ReferralCode)
	return result, args.Error(1)
}

func (m *mockCodesRepository) TrackEngagement(ctx context.Context, code string, event string) error {
	args := m.Called(ctx, code, event)
	return args.Error(0)
}

func (m *mockCodesRepository) Deactivate(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

type mockProgramDirectory struct {
	mock.Mock
}

func (m *mockProgramDirectory) GetProgram(ctx context.Context, id uuid.UUID) (*programs.ReferralProgram, error) {
	args := m.Called(ctx, id)
	program, _ := args.Get(0).(*programs.ReferralProgram)
	return program, args.Error(1)
}

func testProgram() *programs.ReferralProgram {
	return &programs.ReferralProgram{
		ID:            uuid.New(),
		Name:          "Hostel Huddle",
		Currency:      "INR",
		MinStayMonths: 1,
		IsActive:      true,
	}
}

func codeUniqueViolation() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: "referral_codes_code_key"}
}

func TestIssueRejectsMaxUsesOutOfRange(t *testing.T) {
	ctx := context.Background()
	service := NewService(new(mockCodesRepository), new(mockProgramDirectory))

	_, err := service.Issue(ctx, uuid.New(), uuid.New(), "AMIT", 0, nil)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = service.Issue(ctx, uuid.New(), uuid.New(), "AMIT", 1001, nil)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestIssueRejectsInactiveProgram(t *testing.T) {
	ctx := context.Background()
	repo := new(mockCodesRepository)
	programDir := new(mockProgramDirectory)
	service := NewService(repo, programDir)

	program := testProgram()
	program.IsActive = false
	programDir.On("GetProgram", ctx, program.ID).Return(program, nil).Once()

	_, err := service.Issue(ctx, uuid.New(), program.ID, "AMIT", 10, nil)
	assert.ErrorIs(t, err, common.ErrBusinessRule)
	repo.AssertNotCalled(t, "Create")
}

func TestIssueGeneratesCodeFromPrefix(t *testing.T) {
	ctx := context.Background()
	repo := new(mockCodesRepository)
	programDir := new(mockProgramDirectory)
	service := NewService(repo, programDir)

	program := testProgram()
	ownerID := uuid.New()
	programDir.On("GetProgram", ctx, program.ID).Return(program, nil).Once()
	repo.On("Create", ctx, mock.MatchedBy(func(c *ReferralCode) bool {
		return c.OwnerID == ownerID &&
			c.ProgramID == program.ID &&
			c.MaxUses == 10 &&
			c.IsActive &&
			len(c.Code) > 4 &&
			c.Code[:4] == "AMIT"
	})).Return(nil).Once()

	code, err := service.Issue(ctx, ownerID, program.ID, "amit", 10, nil)
	assert.NoError(t, err)
	assert.NotNil(t, code)
	repo.AssertExpectations(t)
}

func TestIssueRetriesOnCodeCollision(t *testing.T) {
	ctx := context.Background()
	repo := new(mockCodesRepository)
	programDir := new(mockProgramDirectory)
	service := NewService(repo, programDir)

	program := testProgram()
	programDir.On("GetProgram", ctx, program.ID).Return(program, nil).Once()
	repo.On("Create", ctx, mock.Anything).Return(codeUniqueViolation()).Twice()
	repo.On("Create", ctx, mock.Anything).Return(nil).Once()

	code, err := service.Issue(ctx, uuid.New(), program.ID, "PRIYA", 5, nil)
	assert.NoError(t, err)
	assert.NotNil(t, code)
	repo.AssertExpectations(t)
}

func TestIssueGivesUpAfterRepeatedCollisions(t *testing.T) {
	ctx := context.Background()
	repo := new(mockCodesRepository)
	programDir := new(mockProgramDirectory)
	service := NewService(repo, programDir)

	program := testProgram()
	programDir.On("GetProgram", ctx, program.ID).Return(program, nil).Once()
	repo.On("Create", ctx, mock.Anything).Return(codeUniqueViolation()).Times(codeGenerationAttempts)

	_, err := service.Issue(ctx, uuid.New(), program.ID, "PRIYA", 5, nil)
	assert.ErrorIs(t, err, common.ErrValidation)
	repo.AssertExpectations(t)
}

func TestValidateReportsExhaustedQuota(t *testing.T) {
	ctx := context.Background()
	repo := new(mockCodesRepository)
	programDir := new(mockProgramDirectory)
	service := NewService(repo, programDir)

	code := &ReferralCode{Code: "AMIT42", MaxUses: 5, TimesUsed: 5, IsActive: true}
	repo.On("GetByCode", ctx, "AMIT42").Return(code, nil).Once()

	validation, err := service.Validate(ctx, "AMIT42")
	assert.NoError(t, err)
	assert.False(t, validation.Valid)
	assert.Contains(t, validation.Reason, "quota")
	repo.AssertExpectations(t)
}

func TestValidateReportsMissingCode(t *testing.T) {
	ctx := context.Background()
	repo := new(mockCodesRepository)
	service := NewService(repo, new(mockProgramDirectory))

	repo.On("GetByCode", ctx, "NOPE").Return(nil, common.ErrNotFound).Once()

	validation, err := service.Validate(ctx, "NOPE")
	assert.NoError(t, err)
	assert.False(t, validation.Valid)
	repo.AssertExpectations(t)
}

func TestValidateChecksProgramWindow(t *testing.T) {
	ctx := context.Background()
	repo := new(mockCodesRepository)
	programDir := new(mockProgramDirectory)
	service := NewService(repo, programDir)

	program := testProgram()
	program.IsActive = false

	code := &ReferralCode{Code: "AMIT42", ProgramID: program.ID, MaxUses: 5, TimesUsed: 1, IsActive: true}
	repo.On("GetByCode", ctx, "AMIT42").Return(code, nil).Once()
	programDir.On("GetProgram", ctx, program.ID).Return(program, nil).Once()

	validation, err := service.Validate(ctx, "AMIT42")
	assert.NoError(t, err)
	assert.False(t, validation.Valid)
	assert.Contains(t, validation.Reason, "program")
}

func TestRedeemSuccess(t *testing.T) {
	ctx := context.Background()
	repo := new(mockCodesRepository)
	service := NewService(repo, new(mockProgramDirectory))

	redeemed := &ReferralCode{Code: "AMIT42", MaxUses: 5, TimesUsed: 3, IsActive: true}
	repo.On("Redeem", ctx, "AMIT42").Return(redeemed, nil).Once()

	code, err := service.Redeem(ctx, "AMIT42")
	assert.NoError(t, err)
	assert.Equal(t, 3, code.TimesUsed)
	repo.AssertExpectations(t)
}

func TestRedeemDiagnosesQuotaExhaustion(t *testing.T) {
	ctx := context.Background()
	repo := new(mockCodesRepository)
	service := NewService(repo, new(mockProgramDirectory))

	exhausted := &ReferralCode{Code: "AMIT42", MaxUses: 5, TimesUsed: 5, IsActive: false}
	repo.On("Redeem", ctx, "AMIT42").Return(nil, common.ErrNotFound).Once()
	repo.On("GetByCode", ctx, "AMIT42").Return(exhausted, nil).Once()

	_, err := service.Redeem(ctx, "AMIT42")
	assert.True(t, common.IsQuotaExceeded(err))
	assert.True(t, common.IsConflict(err))
	repo.AssertExpectations(t)
}

func TestRedeemMapsExhaustedRetriesToQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	repo := new(mockCodesRepository)
	service := NewService(repo, new(mockProgramDirectory))

	// What the repo surfaces once its bounded retries give up on a
	// serialization failure under redemption contention.
	contended := fmt.Errorf("failed to redeem referral code: %w",
		&pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"})
	repo.On("Redeem", ctx, "AMIT42").Return(nil, contended).Once()

	_, err := service.Redeem(ctx, "AMIT42")
	assert.True(t, common.IsQuotaExceeded(err))
	repo.AssertNotCalled(t, "GetByCode")
	repo.AssertExpectations(t)
}

func TestRedeemPropagatesDeterministicStorageErrors(t *testing.T) {
	ctx := context.Background()
	repo := new(mockCodesRepository)
	service := NewService(repo, new(mockProgramDirectory))

	broken := fmt.Errorf("failed to redeem referral code: %w",
		&pgconn.PgError{Code: "42703", Message: "column does not exist"})
	repo.On("Redeem", ctx, "AMIT42").Return(nil, broken).Once()

	_, err := service.Redeem(ctx, "AMIT42")
	assert.Error(t, err)
	assert.False(t, common.IsQuotaExceeded(err))
	repo.AssertExpectations(t)
}

func TestRedeemDiagnosesExpiredCode(t *testing.T) {
	ctx := context.Background()
	repo := new(mockCodesRepository)
	service := NewService(repo, new(mockProgramDirectory))

	past := time.Now().Add(-time.Hour)
	expired := &ReferralCode{Code: "AMIT42", MaxUses: 5, TimesUsed: 1, IsActive: true, ExpiresAt: &past}
	repo.On("Redeem", ctx, "AMIT42").Return(nil, common.ErrNotFound).Once()
	repo.On("GetByCode", ctx, "AMIT42").Return(expired, nil).Once()

	_, err := service.Redeem(ctx, "AMIT42")
	assert.True(t, common.IsConflict(err))
	assert.False(t, common.IsQuotaExceeded(err))
	repo.AssertExpectations(t)
}

func TestRedeemDiagnosesMissingCode(t *testing.T) {
	ctx := context.Background()
	repo := new(mockCodesRepository)
	service := NewService(repo, new(mockProgramDirectory))

	repo.On("Redeem", ctx, "NOPE").Return(nil, common.ErrNotFound).Once()
	repo.On("GetByCode", ctx, "NOPE").Return(nil, common.ErrNotFound).Once()

	_, err := service.Redeem(ctx, "NOPE")
	assert.True(t, common.IsNotFound(err))
	repo.AssertExpectations(t)
}

func TestTrackEngagementMapsNotFound(t *testing.T) {
	ctx := context.Background()
	repo := new(mockCodesRepository)
	service := NewService(repo, new(mockProgramDirectory))

	repo.On("TrackEngagement", ctx, "NOPE", EventClick).Return(common.ErrNotFound).Once()

	err := service.TrackEngagement(ctx, "NOPE", EventClick)
	assert.True(t, common.IsNotFound(err))
	repo.AssertExpectations(t)
}

func TestGenerateCodeNormalizesPrefix(t *testing.T) {
	code := generateCode("  rahul sharma  ")
	assert.Equal(t, "RAHULS", code[:6])
	assert.Len(t, code, 12)

	fallback := generateCode("")
	assert.Equal(t, "REF", fallback[:3])
}
