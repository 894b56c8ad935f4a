package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/reckonhq/reckon/internal/domain/entitlement"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/testutil"
	"github.com/reckonhq/reckon/internal/types"
)

type EntitlementServiceSuite struct {
	testutil.BaseServiceTestSuite
	service EntitlementService
}

func TestEntitlementService(t *testing.T) {
	suite.Run(t, new(EntitlementServiceSuite))
}

func (s *EntitlementServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewEntitlementService(newTestServiceParams(&s.BaseServiceTestSuite))
}

func (s *EntitlementServiceSuite) seedDefinition(def *entitlement.Definition) *entitlement.Definition {
	def.BaseModel = types.GetDefaultBaseModel(s.GetContext())
	s.NoError(s.GetStores().EntitlementRepo.CreateDefinition(s.GetContext(), def))
	return def
}

func (s *EntitlementServiceSuite) meteredMonthly(code string, mode types.EnforcementMode) *entitlement.Definition {
	return s.seedDefinition(&entitlement.Definition{
		ID:              "def_" + code,
		Code:            code,
		Name:            code,
		EntitlementType: types.EntitlementTypeMeteredQuota,
		AggregationMode: types.AggregationModeSum,
		EnforcementMode: mode,
		WindowInterval:  types.WindowIntervalMonth,
	})
}

func (s *EntitlementServiceSuite) TestGrantAndConsume() {
	def := s.meteredMonthly("calculations", types.EnforcementModeHardDeny)
	ctx := s.GetContext()

	balance, err := s.service.Grant(ctx, &GrantRequest{
		SubjectID:  "be_1",
		Code:       def.Code,
		Amount:     100,
		DedupeKey:  "grant-1",
		SourceType: "manual",
	})
	s.NoError(err)
	s.Equal(int64(100), balance.GrantedAmount)
	s.Equal(int64(100), balance.EffectiveAmount)
	s.False(balance.OverLimit)

	balance, err = s.service.Consume(ctx, &ConsumeRequest{
		SubjectID: "be_1",
		Code:      def.Code,
		Amount:    30,
		DedupeKey: "use-1",
	})
	s.NoError(err)
	s.Equal(int64(30), balance.ConsumedAmount)
	s.Equal(int64(70), balance.EffectiveAmount)
}

func (s *EntitlementServiceSuite) TestConsumeReplayIsIdempotent() {
	def := s.meteredMonthly("calculations", types.EnforcementModeHardDeny)
	ctx := s.GetContext()

	_, err := s.service.Grant(ctx, &GrantRequest{
		SubjectID: "be_1", Code: def.Code, Amount: 100, DedupeKey: "grant-1",
	})
	s.NoError(err)

	for i := 0; i < 3; i++ {
		balance, err := s.service.Consume(ctx, &ConsumeRequest{
			SubjectID: "be_1",
			Code:      def.Code,
			Amount:    30,
			DedupeKey: "use-1",
		})
		s.NoError(err)
		s.Equal(int64(30), balance.ConsumedAmount)
		s.Equal(int64(70), balance.EffectiveAmount)
	}
}

func (s *EntitlementServiceSuite) TestHardDenyBlocksOverConsumption() {
	def := s.meteredMonthly("calculations", types.EnforcementModeHardDeny)
	ctx := s.GetContext()

	_, err := s.service.Grant(ctx, &GrantRequest{
		SubjectID: "be_1", Code: def.Code, Amount: 10, DedupeKey: "grant-1",
	})
	s.NoError(err)

	_, err = s.service.Consume(ctx, &ConsumeRequest{
		SubjectID: "be_1", Code: def.Code, Amount: 11, DedupeKey: "use-1",
	})
	s.Error(err)
	s.True(ierr.IsPermissionDenied(err))

	// the rejected debit never landed in the ledger
	balance, err := s.service.RecomputeBalance(ctx, "be_1", def.ID)
	s.NoError(err)
	s.Zero(balance.ConsumedAmount)
}

func (s *EntitlementServiceSuite) TestSoftWarnAllowsOverage() {
	def := s.meteredMonthly("exports", types.EnforcementModeSoftWarn)
	ctx := s.GetContext()

	_, err := s.service.Grant(ctx, &GrantRequest{
		SubjectID: "be_1", Code: def.Code, Amount: 5, DedupeKey: "grant-1",
	})
	s.NoError(err)

	balance, err := s.service.Consume(ctx, &ConsumeRequest{
		SubjectID: "be_1", Code: def.Code, Amount: 8, DedupeKey: "use-1",
	})
	s.NoError(err)
	s.True(balance.OverLimit)
	s.Equal(types.LockStateWarned, balance.LockState)

	allowed, _, err := s.service.CheckAccess(ctx, "be_1", def.Code, 1)
	s.NoError(err)
	s.True(allowed)
}

func (s *EntitlementServiceSuite) TestCapacityUsesLiveRecount() {
	def := s.seedDefinition(&entitlement.Definition{
		ID:              "def_projects",
		Code:            "projects.max",
		Name:            "Projects",
		EntitlementType: types.EntitlementTypeCapacity,
		AggregationMode: types.AggregationModeMax,
		EnforcementMode: types.EnforcementModeHardLock,
		ResourceKind:    "project",
	})
	ctx := s.GetContext()

	_, err := s.service.Grant(ctx, &GrantRequest{
		SubjectID: "be_1", Code: def.Code, Amount: 3, DedupeKey: "grant-1",
	})
	s.NoError(err)

	s.GetResourceCounter().SetCount("project", 2)
	balance, err := s.service.RecomputeBalance(ctx, "be_1", def.ID)
	s.NoError(err)
	s.Equal(int64(2), balance.ConsumedAmount)
	s.False(balance.OverLimit)
	s.Equal(types.LockStateUnlocked, balance.LockState)

	// breaching capacity locks creation only; existing resources keep working
	s.GetResourceCounter().SetCount("project", 4)
	balance, err = s.service.RecomputeBalance(ctx, "be_1", def.ID)
	s.NoError(err)
	s.True(balance.OverLimit)
	s.Equal(types.LockStateCreationLocked, balance.LockState)

	allowed, _, err := s.service.CheckAccess(ctx, "be_1", def.Code, 1)
	s.NoError(err)
	s.False(allowed)
}

func (s *EntitlementServiceSuite) TestMonthlyWindowKeyAndBounds() {
	def := s.meteredMonthly("calculations", types.EnforcementModeHardDeny)
	ctx := s.GetContext()

	balance, err := s.service.Grant(ctx, &GrantRequest{
		SubjectID: "be_1", Code: def.Code, Amount: 100, DedupeKey: "grant-1",
	})
	s.NoError(err)

	now := time.Now().UTC()
	s.Equal("month:"+now.Format("2006-01"), balance.WindowKey)
	s.NotNil(balance.WindowStart)
	s.NotNil(balance.WindowEnd)
	s.Equal(time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), *balance.WindowStart)
	s.Equal(balance.WindowStart.AddDate(0, 1, 0), *balance.WindowEnd)

	// the window roll is the next scheduled change
	s.NotNil(balance.NextChangeAt)
	s.Equal(*balance.WindowEnd, *balance.NextChangeAt)
}

func (s *EntitlementServiceSuite) TestAnchoredWindowFollowsBillingCycle() {
	anchor := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	def := &entitlement.Definition{
		EntitlementType: types.EntitlementTypeMeteredQuota,
		WindowInterval:  types.WindowIntervalMonth,
		WindowAnchor:    &anchor,
	}

	window := def.ResolveWindow(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	s.Equal(time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC), window.Start)
	s.Equal(time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC), window.End)

	// before the anchor day the current cycle started last month
	window = def.ResolveWindow(time.Date(2026, 8, 14, 23, 0, 0, 0, time.UTC))
	s.Equal(time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC), window.Start)

	// times before the anchor itself resolve to earlier cycles
	window = def.ResolveWindow(time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC))
	s.Equal(time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC), window.Start)
	s.Equal(time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC), window.End)

	// without an anchor the window snaps to calendar boundaries
	def.WindowAnchor = nil
	window = def.ResolveWindow(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	s.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), window.Start)
}

func (s *EntitlementServiceSuite) TestConsumptionOutsideWindowExcluded() {
	def := s.meteredMonthly("calculations", types.EnforcementModeHardDeny)
	ctx := s.GetContext()

	_, err := s.service.Grant(ctx, &GrantRequest{
		SubjectID: "be_1", Code: def.Code, Amount: 100, DedupeKey: "grant-1",
	})
	s.NoError(err)

	// last month's usage belongs to last month's window
	balance, err := s.service.Consume(ctx, &ConsumeRequest{
		SubjectID:  "be_1",
		Code:       def.Code,
		Amount:     40,
		OccurredAt: time.Now().UTC().AddDate(0, -1, 0),
		DedupeKey:  "use-last-month",
	})
	s.NoError(err)
	s.Zero(balance.ConsumedAmount)
	s.Equal(int64(100), balance.EffectiveAmount)
}

func (s *EntitlementServiceSuite) TestGrantExpirySchedulesNextChange() {
	def := s.seedDefinition(&entitlement.Definition{
		ID:              "def_trial",
		Code:            "trial.credits",
		Name:            "Trial credits",
		EntitlementType: types.EntitlementTypeBalance,
		AggregationMode: types.AggregationModeSum,
		EnforcementMode: types.EnforcementModeHardDeny,
	})
	ctx := s.GetContext()

	expires := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	balance, err := s.service.Grant(ctx, &GrantRequest{
		SubjectID: "be_1",
		Code:      def.Code,
		Amount:    50,
		ExpiresAt: &expires,
		DedupeKey: "grant-trial",
	})
	s.NoError(err)
	s.NotNil(balance.NextChangeAt)
	s.True(balance.NextChangeAt.Equal(expires))
}

func (s *EntitlementServiceSuite) TestBooleanAggregation() {
	def := s.seedDefinition(&entitlement.Definition{
		ID:              "def_sso",
		Code:            "sso.enabled",
		Name:            "SSO",
		EntitlementType: types.EntitlementTypeState,
		AggregationMode: types.AggregationModeBooleanAnyTrue,
		EnforcementMode: types.EnforcementModeHardDeny,
	})
	ctx := s.GetContext()

	balance, err := s.service.Grant(ctx, &GrantRequest{
		SubjectID: "be_1", Code: def.Code, Amount: 5, DedupeKey: "grant-1",
	})
	s.NoError(err)
	s.Equal(int64(1), balance.GrantedAmount)
}

func (s *EntitlementServiceSuite) TestApplyPlanGrantsIsIdempotent() {
	def := s.meteredMonthly("calculations", types.EnforcementModeHardDeny)
	ctx := s.GetContext()

	seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")
	s.NoError(s.GetStores().EntitlementRepo.CreatePlanEntitlement(ctx, &entitlement.PlanEntitlement{
		ID:           "pe_1",
		PlanID:       "plan_pro",
		DefinitionID: def.ID,
		Amount:       500,
		BaseModel:    types.GetDefaultBaseModel(ctx),
	}))

	at := time.Now().UTC()
	applied, err := s.service.ApplyPlanGrants(ctx, "be_1", "plan_pro", "sub_1", at)
	s.NoError(err)
	s.Equal(1, applied)

	// replaying the same activation grants nothing new
	applied, err = s.service.ApplyPlanGrants(ctx, "be_1", "plan_pro", "sub_1", at)
	s.NoError(err)
	s.Zero(applied)

	balance, err := s.service.RecomputeBalance(ctx, "be_1", def.ID)
	s.NoError(err)
	s.Equal(int64(500), balance.GrantedAmount)
}

func (s *EntitlementServiceSuite) TestRecomputeDue() {
	def := s.meteredMonthly("calculations", types.EnforcementModeHardDeny)
	ctx := s.GetContext()

	balance, err := s.service.Grant(ctx, &GrantRequest{
		SubjectID: "be_1", Code: def.Code, Amount: 100, DedupeKey: "grant-1",
	})
	s.NoError(err)

	// force the schedule into the past
	past := time.Now().UTC().Add(-time.Minute)
	expectedVersion := balance.Version
	balance.NextChangeAt = &past
	balance.Version = expectedVersion + 1
	s.NoError(s.GetStores().BalanceRepo.UpsertBalance(ctx, balance, expectedVersion))

	recomputed, err := s.service.RecomputeDue(ctx, 10)
	s.NoError(err)
	s.Equal(1, recomputed)

	refreshed, err := s.GetStores().BalanceRepo.GetBalance(ctx, "be_1", def.ID, balance.WindowKey)
	s.NoError(err)
	s.True(refreshed.NextChangeAt.After(time.Now().UTC()))
}

func (s *EntitlementServiceSuite) TestRecomputeBumpsVersion() {
	def := s.meteredMonthly("calculations", types.EnforcementModeHardDeny)
	ctx := s.GetContext()

	balance, err := s.service.Grant(ctx, &GrantRequest{
		SubjectID: "be_1", Code: def.Code, Amount: 100, DedupeKey: "grant-1",
	})
	s.NoError(err)
	s.Equal(int64(1), balance.Version)

	// each recompute bumps the version past the snapshot it read
	balance, err = s.service.RecomputeBalance(ctx, "be_1", def.ID)
	s.NoError(err)
	s.Equal(int64(2), balance.Version)
}

func (s *EntitlementServiceSuite) TestListLimitations() {
	s.meteredMonthly("calculations", types.EnforcementModeHardDeny)
	s.seedDefinition(&entitlement.Definition{
		ID:              "def_projects",
		Code:            "projects.max",
		Name:            "Projects",
		EntitlementType: types.EntitlementTypeCapacity,
		AggregationMode: types.AggregationModeMax,
		EnforcementMode: types.EnforcementModeHardLock,
		ResourceKind:    "project",
	})

	balances, err := s.service.ListLimitations(s.GetContext(), "be_1")
	s.NoError(err)
	s.Len(balances, 2)
}
