package authz_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/expenseflow/internal/authz"
	"github.com/expenseflow/expenseflow/internal/shared"
)

func identity(role shared.Role, companyID uuid.UUID) shared.Identity {
	return shared.Identity{UserID: uuid.New(), CompanyID: companyID, Role: role}
}

func TestSameCompanyHidesCrossTenantResources(t *testing.T) {
	caller := identity(shared.RoleAdmin, uuid.New())
	err := authz.SameCompany(caller, uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.NotErrorIs(t, err, shared.ErrForbidden)
}

func TestCanViewExpense(t *testing.T) {
	companyID := uuid.New()
	submitter := identity(shared.RoleEmployee, companyID)
	manager := identity(shared.RoleManager, companyID)
	admin := identity(shared.RoleAdmin, companyID)
	stranger := identity(shared.RoleManager, companyID)
	outsider := identity(shared.RoleAdmin, uuid.New())

	managerID := manager.UserID

	require.NoError(t, authz.CanViewExpense(submitter, companyID, submitter.UserID, &managerID))
	require.NoError(t, authz.CanViewExpense(manager, companyID, submitter.UserID, &managerID))
	require.NoError(t, authz.CanViewExpense(admin, companyID, submitter.UserID, &managerID))

	require.ErrorIs(t, authz.CanViewExpense(stranger, companyID, submitter.UserID, &managerID), shared.ErrForbidden)
	require.ErrorIs(t, authz.CanViewExpense(stranger, companyID, submitter.UserID, nil), shared.ErrForbidden)
	// Cross-tenant admins see nothing, not even a 403.
	require.ErrorIs(t, authz.CanViewExpense(outsider, companyID, submitter.UserID, &managerID), shared.ErrNotFound)
}

func TestCanMutateExpense(t *testing.T) {
	companyID := uuid.New()
	owner := identity(shared.RoleEmployee, companyID)

	require.NoError(t, authz.CanMutateExpense(owner, companyID, owner.UserID))
	require.ErrorIs(t, authz.CanMutateExpense(identity(shared.RoleAdmin, companyID), companyID, owner.UserID), shared.ErrForbidden)
	require.ErrorIs(t, authz.CanMutateExpense(identity(shared.RoleEmployee, uuid.New()), companyID, owner.UserID), shared.ErrNotFound)
}

func TestCanDecideApproval(t *testing.T) {
	companyID := uuid.New()
	approver := identity(shared.RoleManager, companyID)

	require.NoError(t, authz.CanDecideApproval(approver, companyID, approver.UserID))

	// Assigned but not a manager or admin.
	employee := identity(shared.RoleEmployee, companyID)
	require.ErrorIs(t, authz.CanDecideApproval(employee, companyID, employee.UserID), shared.ErrForbidden)

	// Someone else's task looks like it does not exist.
	err := authz.CanDecideApproval(approver, companyID, uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.False(t, errors.Is(err, shared.ErrForbidden))

	require.ErrorIs(t, authz.CanDecideApproval(identity(shared.RoleManager, uuid.New()), companyID, approver.UserID), shared.ErrNotFound)
}
