package apikit

// Well-known role names.
const (
	// DefaultRole keys the requirement used when the principal carries no role.
	DefaultRole = "@_default_role_"

	// RoleAnonymous is reported for requests without a principal.
	RoleAnonymous = "anonymous"

	// RoleQueueWorker is the role carried by tokens attached to queued messages.
	RoleQueueWorker = "queue-worker"

	// AnyRole matches any authenticated role in RouteRules.
	AnyRole = "*"
)

// Principal is the authenticated caller of a request.
// It is created by the authentication middleware and stored in context.
type Principal struct {
	UserID string
	Role   string
	Claims *Claims
}

// NewPrincipal creates a principal for a user and role.
func NewPrincipal(userID, role string) *Principal {
	return &Principal{UserID: userID, Role: role}
}

// IsAnonymous reports whether the principal carries no identity.
func (p *Principal) IsAnonymous() bool {
	return p == nil || p.UserID == ""
}

// IsInRole checks if the principal holds any of the given roles.
// AnyRole matches every authenticated principal.
//
// Example:
//
//	if principal.IsInRole("admin", "owner") {
//	    // show management features
//	}
func (p *Principal) IsInRole(roles ...string) bool {
	if p.IsAnonymous() {
		return false
	}
	for _, role := range roles {
		if role == AnyRole || role == p.Role {
			return true
		}
	}
	return false
}

// AuthorizationInfo is what requirement validators see about the caller.
type AuthorizationInfo struct {
	UserRole string
	UserID   string
}

// authorizationInfo resolves the caller into AuthorizationInfo.
// A principal without a role is keyed by DefaultRole.
func authorizationInfo(p *Principal) AuthorizationInfo {
	if p == nil {
		return AuthorizationInfo{UserRole: DefaultRole}
	}
	role := p.Role
	if role == "" {
		role = DefaultRole
	}
	return AuthorizationInfo{UserRole: role, UserID: p.UserID}
}
