package approval

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/expenseflow/expenseflow/internal/expense"
	"github.com/expenseflow/expenseflow/internal/shared"
	"github.com/expenseflow/expenseflow/internal/users"
)

// ErrNoApprovers occurs when rule resolution yields an empty approver set,
// e.g. the rule references deleted users or the submitter has no manager.
// Submission must not proceed in that case.
var ErrNoApprovers = shared.NewBusinessRuleError("approval routing produced no approvers; check approval rules and manager assignment")

// RuleStore lists the configured rules of a company.
type RuleStore interface {
	ListActiveRules(ctx context.Context, companyID uuid.UUID) ([]ApprovalRule, error)
}

// UserDirectory resolves approver references to live accounts.
type UserDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (users.User, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]users.User, error)
}

// Resolver turns a company's rule set into the approver plan for an expense.
type Resolver struct {
	rules   RuleStore
	userDir UserDirectory
}

// NewResolver constructs a Resolver.
func NewResolver(rules RuleStore, userDir UserDirectory) *Resolver {
	return &Resolver{rules: rules, userDir: userDir}
}

// Resolve picks the most specific matching active rule and materializes its
// approver list. Specificity: exact category match beats role/department
// match beats amount-threshold-only; with no matching rule the submitter's
// direct manager is required.
func (r *Resolver) Resolve(ctx context.Context, exp expense.Expense, submitter users.User) (ApproverPlan, error) {
	rules, err := r.rules.ListActiveRules(ctx, exp.CompanyID)
	if err != nil {
		return ApproverPlan{}, err
	}

	var best *ApprovalRule
	bestScore := -1
	for i := range rules {
		rule := rules[i]
		if !matches(rule.Conditions, exp, submitter) {
			continue
		}
		score := specificity(rule.Conditions)
		if score > bestScore {
			best = &rule
			bestScore = score
		}
	}

	if best == nil {
		return r.managerFallback(ctx, submitter)
	}
	return r.materialize(ctx, *best, submitter)
}

func matches(c RuleConditions, exp expense.Expense, submitter users.User) bool {
	if c.AmountAtLeast != nil && exp.Amount.LessThan(*c.AmountAtLeast) {
		return false
	}
	if len(c.CategoryIDs) > 0 && !containsUUID(c.CategoryIDs, exp.CategoryID) {
		return false
	}
	if len(c.Roles) > 0 && !containsRole(c.Roles, submitter.Role) {
		return false
	}
	if len(c.Departments) > 0 && !containsString(c.Departments, submitter.Department) {
		return false
	}
	return true
}

func specificity(c RuleConditions) int {
	switch {
	case len(c.CategoryIDs) > 0:
		return 3
	case len(c.Roles) > 0 || len(c.Departments) > 0:
		return 2
	case c.AmountAtLeast != nil:
		return 1
	}
	return 0
}

func (r *Resolver) materialize(ctx context.Context, rule ApprovalRule, submitter users.User) (ApproverPlan, error) {
	ordered := rule.ApproverIDs
	if rule.RequireManagerFirst && submitter.ManagerID != nil {
		ordered = append([]uuid.UUID{*submitter.ManagerID}, ordered...)
	}

	resolved, err := r.userDir.ListByIDs(ctx, ordered)
	if err != nil {
		return ApproverPlan{}, err
	}
	alive := make(map[uuid.UUID]users.User, len(resolved))
	for _, u := range resolved {
		if u.IsActive && u.Role.CanApprove() {
			alive[u.ID] = u
		}
	}

	var approvers []uuid.UUID
	seen := make(map[uuid.UUID]struct{}, len(ordered))
	for _, id := range ordered {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if id == submitter.ID {
			// nobody approves their own expense
			continue
		}
		if _, ok := alive[id]; ok {
			approvers = append(approvers, id)
		}
	}
	if len(approvers) == 0 {
		return ApproverPlan{}, fmt.Errorf("rule %s: %w", rule.Name, ErrNoApprovers)
	}

	plan := ApproverPlan{
		RuleID:                &rule.ID,
		ApproverIDs:           approvers,
		Sequence:              rule.Sequence,
		MinApprovalPercentage: rule.MinApprovalPercentage,
	}
	normalize(&plan)
	return plan, nil
}

func (r *Resolver) managerFallback(ctx context.Context, submitter users.User) (ApproverPlan, error) {
	if submitter.ManagerID == nil {
		return ApproverPlan{}, fmt.Errorf("no rule matched and submitter has no manager: %w", ErrNoApprovers)
	}
	manager, err := r.userDir.Get(ctx, *submitter.ManagerID)
	if err != nil || !manager.IsActive || !manager.Role.CanApprove() {
		return ApproverPlan{}, fmt.Errorf("no rule matched and manager is unavailable: %w", ErrNoApprovers)
	}
	plan := ApproverPlan{
		ApproverIDs:           []uuid.UUID{manager.ID},
		Sequence:              SequenceSequential,
		MinApprovalPercentage: 100,
	}
	return plan, nil
}

// normalize applies the plan invariants: sequential chains and single
// approvers always require full approval.
func normalize(plan *ApproverPlan) {
	if plan.Sequence == SequenceSequential || len(plan.ApproverIDs) == 1 {
		plan.MinApprovalPercentage = 100
	}
}

func containsUUID(list []uuid.UUID, v uuid.UUID) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsRole(list []shared.Role, v shared.Role) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
