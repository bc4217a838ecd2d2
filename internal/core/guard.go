// services/iotcore/internal/core/guard.go
package core

// Authorization policy. All ownership and role rules live here so handlers
// and services never re-derive them ad hoc.

// Authorize decides whether the requester may act on the target account or
// its resources. Admins may act on anything except other admins via the
// user-management surface; everyone else is limited to their own account.
// A denial is always surfaced as ErrForbidden, never silently filtered.
func Authorize(claims *Claims, target *Account) error {
	if claims == nil || target == nil {
		return ErrForbidden
	}

	if claims.Role == RoleAdmin {
		if target.Role == RoleAdmin && claims.AccountID != target.ID {
			return ErrForbidden
		}
		return nil
	}

	if claims.AccountID != target.ID {
		return ErrForbidden
	}
	return nil
}

// ListableRoles returns the account roles visible to a requester in listing
// operations: admins see every non-admin account, everyone else sees only
// secondary users. The rule is deliberately tenant-unaware.
func ListableRoles(requesterRole string) []string {
	if requesterRole == RoleAdmin {
		return []string{RoleUser, RoleSecondaryUser}
	}
	return []string{RoleSecondaryUser}
}
