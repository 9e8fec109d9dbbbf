package approval

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/expenseflow/internal/expense"
	"github.com/expenseflow/expenseflow/internal/shared"
	"github.com/expenseflow/expenseflow/internal/users"
)

type stubRuleStore struct {
	rules []ApprovalRule
}

func (s *stubRuleStore) ListActiveRules(context.Context, uuid.UUID) ([]ApprovalRule, error) {
	return s.rules, nil
}

type stubUserDir struct {
	users map[uuid.UUID]users.User
}

func (s *stubUserDir) Get(_ context.Context, id uuid.UUID) (users.User, error) {
	u, ok := s.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

func (s *stubUserDir) ListByIDs(_ context.Context, ids []uuid.UUID) ([]users.User, error) {
	var out []users.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok && u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}

func approver(companyID uuid.UUID, role shared.Role) users.User {
	return users.User{ID: uuid.New(), CompanyID: companyID, Role: role, IsActive: true}
}

func TestResolveManagerFallback(t *testing.T) {
	companyID := uuid.New()
	manager := approver(companyID, shared.RoleManager)
	submitter := users.User{ID: uuid.New(), CompanyID: companyID, Role: shared.RoleEmployee, IsActive: true, ManagerID: &manager.ID}
	dir := &stubUserDir{users: map[uuid.UUID]users.User{manager.ID: manager, submitter.ID: submitter}}
	r := NewResolver(&stubRuleStore{}, dir)

	plan, err := r.Resolve(context.Background(), expense.Expense{CompanyID: companyID, SubmitterID: submitter.ID, Amount: decimal.NewFromInt(30)}, submitter)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{manager.ID}, plan.ApproverIDs)
	require.Equal(t, SequenceSequential, plan.Sequence)
	require.Equal(t, 100, plan.MinApprovalPercentage)
	require.Nil(t, plan.RuleID)
}

func TestResolveNoManagerNoRules(t *testing.T) {
	companyID := uuid.New()
	submitter := users.User{ID: uuid.New(), CompanyID: companyID, Role: shared.RoleEmployee, IsActive: true}
	r := NewResolver(&stubRuleStore{}, &stubUserDir{users: map[uuid.UUID]users.User{submitter.ID: submitter}})

	_, err := r.Resolve(context.Background(), expense.Expense{CompanyID: companyID, SubmitterID: submitter.ID}, submitter)
	require.Error(t, err)
	var rule *shared.BusinessRuleError
	require.ErrorAs(t, err, &rule)
}

func TestResolveSpecificity(t *testing.T) {
	companyID := uuid.New()
	categoryID := uuid.New()
	amountApprover := approver(companyID, shared.RoleManager)
	categoryApprover := approver(companyID, shared.RoleManager)
	submitter := users.User{ID: uuid.New(), CompanyID: companyID, Role: shared.RoleEmployee, IsActive: true}
	dir := &stubUserDir{users: map[uuid.UUID]users.User{
		amountApprover.ID:   amountApprover,
		categoryApprover.ID: categoryApprover,
		submitter.ID:        submitter,
	}}

	threshold := decimal.NewFromInt(100)
	amountRule := ApprovalRule{
		ID: uuid.New(), CompanyID: companyID, Name: "large amounts",
		Conditions:  RuleConditions{AmountAtLeast: &threshold},
		ApproverIDs: []uuid.UUID{amountApprover.ID},
		Sequence:    SequenceSequential, MinApprovalPercentage: 100, IsActive: true,
	}
	categoryRule := ApprovalRule{
		ID: uuid.New(), CompanyID: companyID, Name: "travel",
		Conditions:  RuleConditions{CategoryIDs: []uuid.UUID{categoryID}},
		ApproverIDs: []uuid.UUID{categoryApprover.ID},
		Sequence:    SequenceSequential, MinApprovalPercentage: 100, IsActive: true,
	}
	r := NewResolver(&stubRuleStore{rules: []ApprovalRule{amountRule, categoryRule}}, dir)

	exp := expense.Expense{
		CompanyID: companyID, SubmitterID: submitter.ID, CategoryID: categoryID,
		Amount: decimal.NewFromInt(250), ExpenseDate: time.Now(),
	}
	plan, err := r.Resolve(context.Background(), exp, submitter)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{categoryApprover.ID}, plan.ApproverIDs)
	require.Equal(t, &categoryRule.ID, plan.RuleID)
}

func TestResolveRequireManagerFirst(t *testing.T) {
	companyID := uuid.New()
	manager := approver(companyID, shared.RoleManager)
	second := approver(companyID, shared.RoleAdmin)
	submitter := users.User{ID: uuid.New(), CompanyID: companyID, Role: shared.RoleEmployee, IsActive: true, ManagerID: &manager.ID}
	dir := &stubUserDir{users: map[uuid.UUID]users.User{manager.ID: manager, second.ID: second, submitter.ID: submitter}}

	rule := ApprovalRule{
		ID: uuid.New(), CompanyID: companyID, Name: "chain",
		ApproverIDs: []uuid.UUID{second.ID, manager.ID}, // manager repeated via fallback position
		Sequence:    SequenceSequential, MinApprovalPercentage: 100,
		RequireManagerFirst: true, IsActive: true,
	}
	r := NewResolver(&stubRuleStore{rules: []ApprovalRule{rule}}, dir)

	plan, err := r.Resolve(context.Background(), expense.Expense{CompanyID: companyID, SubmitterID: submitter.ID}, submitter)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{manager.ID, second.ID}, plan.ApproverIDs, "manager first, duplicates removed")
}

func TestResolveFiltersInactiveAndSelf(t *testing.T) {
	companyID := uuid.New()
	inactive := users.User{ID: uuid.New(), CompanyID: companyID, Role: shared.RoleManager, IsActive: false}
	self := users.User{ID: uuid.New(), CompanyID: companyID, Role: shared.RoleManager, IsActive: true}
	dir := &stubUserDir{users: map[uuid.UUID]users.User{inactive.ID: inactive, self.ID: self}}

	rule := ApprovalRule{
		ID: uuid.New(), CompanyID: companyID, Name: "broken",
		ApproverIDs: []uuid.UUID{inactive.ID, self.ID},
		Sequence:    SequenceParallel, MinApprovalPercentage: 50, IsActive: true,
	}
	r := NewResolver(&stubRuleStore{rules: []ApprovalRule{rule}}, dir)

	// the submitter is one of the rule's approvers; self-approval is skipped
	_, err := r.Resolve(context.Background(), expense.Expense{CompanyID: companyID, SubmitterID: self.ID}, self)
	require.ErrorIs(t, err, ErrNoApprovers)
}

func TestRequiredApprovals(t *testing.T) {
	cases := []struct {
		total, pct, want int
	}{
		{1, 100, 1},
		{2, 100, 2},
		{3, 50, 2},
		{3, 34, 2},
		{3, 33, 1},
		{4, 50, 2},
		{5, 60, 3},
		{0, 100, 1},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, RequiredApprovals(tc.total, tc.pct), "total=%d pct=%d", tc.total, tc.pct)
	}
}

func TestRuleValidate(t *testing.T) {
	base := ApprovalRule{
		Name:        "rule",
		ApproverIDs: []uuid.UUID{uuid.New(), uuid.New()},
		Sequence:    SequenceParallel, MinApprovalPercentage: 50,
	}
	require.NoError(t, base.Validate())

	sequential := base
	sequential.Sequence = SequenceSequential
	require.Error(t, sequential.Validate(), "sequential requires 100 percent")

	single := base
	single.ApproverIDs = single.ApproverIDs[:1]
	require.Error(t, single.Validate(), "single approver requires 100 percent")

	empty := base
	empty.ApproverIDs = nil
	require.Error(t, empty.Validate())

	badPct := base
	badPct.MinApprovalPercentage = 0
	require.Error(t, badPct.Validate())
}
