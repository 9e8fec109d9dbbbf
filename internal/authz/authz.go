// Package authz centralizes permission decisions. Every check operates on the
// caller's {role, companyID, ownerID} triple rather than on string
// comparisons scattered across handlers. Cross-company access is always
// reported as not-found so resource existence never leaks across tenants.
package authz

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/expenseflow/expenseflow/internal/shared"
)

var (
	// ErrNotFound hides cross-tenant resources from the caller.
	ErrNotFound = fmt.Errorf("authz: %w", shared.ErrNotFound)
	// ErrForbidden indicates a role or ownership mismatch within the tenant.
	ErrForbidden = fmt.Errorf("authz: %w", shared.ErrForbidden)
)

// SameCompany denies access to resources outside the caller's tenant.
func SameCompany(caller shared.Identity, companyID uuid.UUID) error {
	if caller.CompanyID != companyID {
		return ErrNotFound
	}
	return nil
}

// RequireOwner allows only the resource owner.
func RequireOwner(caller shared.Identity, ownerID uuid.UUID) error {
	if caller.UserID != ownerID {
		return ErrForbidden
	}
	return nil
}

// RequireRole allows only callers holding one of the given roles.
func RequireRole(caller shared.Identity, roles ...shared.Role) error {
	for _, role := range roles {
		if caller.Role == role {
			return nil
		}
	}
	return ErrForbidden
}

// CanViewExpense decides read access to an expense: the submitter always, the
// submitter's direct manager, and same-company admins. submitterManagerID is
// the manager recorded on the submitting user, nil when there is none.
func CanViewExpense(caller shared.Identity, companyID, submitterID uuid.UUID, submitterManagerID *uuid.UUID) error {
	if err := SameCompany(caller, companyID); err != nil {
		return err
	}
	if caller.UserID == submitterID {
		return nil
	}
	if caller.Role == shared.RoleAdmin {
		return nil
	}
	if caller.Role == shared.RoleManager && submitterManagerID != nil && *submitterManagerID == caller.UserID {
		return nil
	}
	return ErrForbidden
}

// CanMutateExpense decides update/delete access: only the submitter, within
// the tenant. The allowed lifecycle states are enforced by the entity manager.
func CanMutateExpense(caller shared.Identity, companyID, submitterID uuid.UUID) error {
	if err := SameCompany(caller, companyID); err != nil {
		return err
	}
	return RequireOwner(caller, submitterID)
}

// CanDecideApproval decides whether the caller may process an approval task:
// a manager or admin who is the assigned approver, within the tenant. The
// PENDING-state requirement is enforced by the workflow engine so it can
// distinguish "not yours" from "already processed".
func CanDecideApproval(caller shared.Identity, companyID, approverID uuid.UUID) error {
	if err := SameCompany(caller, companyID); err != nil {
		return err
	}
	if caller.UserID != approverID {
		// A stranger probing another approver's task must not learn it exists.
		return ErrNotFound
	}
	if !caller.Role.CanApprove() {
		return ErrForbidden
	}
	return nil
}
