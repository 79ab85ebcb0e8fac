// Package auth holds the advisory role checks of the workspace. They mirror
// what the UI allows; enforcement belongs to the backing store's rules.
package auth

import (
	"fmt"

	"teamdeck/internal/domain"
)

// ForbiddenError indicates the actor's role does not allow an action.
type ForbiddenError struct {
	Action string
	Role   domain.Role
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

// RequireManager allows Owner and Admin.
func RequireManager(actor domain.Profile, action string) error {
	if actor.Role.CanManage() {
		return nil
	}
	return ForbiddenError{Action: action, Role: actor.Role}
}

// SameCompany reports whether a record of companyID is visible to actor.
func SameCompany(actor domain.Profile, companyID string) bool {
	return actor.CompanyID != "" && actor.CompanyID == companyID
}
