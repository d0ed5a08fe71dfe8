// Package authz holds the single role policy used by every protected route.
package authz

import "cajero/backend/internal/domain"

// Allow reports whether actual satisfies required. An empty required list
// admits any valid role.
func Allow(required []domain.Role, actual domain.Role) bool {
	if !actual.Valid() {
		return false
	}
	if len(required) == 0 {
		return true
	}
	for _, role := range required {
		if role == actual {
			return true
		}
	}
	return false
}

var (
	AnyRole   = []domain.Role{}
	AdminOnly = []domain.Role{domain.RoleAdmin}
)
