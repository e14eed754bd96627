package domain

import "strings"

// Role is the caller's role as asserted by the access-control layer.
type Role string

const (
	RoleSales Role = "SALES"
	RoleAdmin Role = "ADMIN"
)

// ParseRole maps a wire role onto the closed enumeration.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SALES", "SALES_REP", "REP":
		return RoleSales, nil
	case "ADMIN", "ADMINISTRATOR":
		return RoleAdmin, nil
	}
	return "", Invalid("role", "unknown role %q", s)
}

// Actor identifies who is calling into the core.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Resource is a permission-guarded area of the service.
type Resource string

const (
	ResourceDeals      Resource = "deals"
	ResourcePolicies   Resource = "policies"
	ResourceOnboarding Resource = "onboarding"
	ResourceRiskRules  Resource = "risk_rules"
)

// Capability is a bitset of actions allowed on a resource.
type Capability uint8

const (
	CapRead Capability = 1 << iota
	CapWrite
	CapApprove
)

// Permissions maps each resource to the capabilities granted on it.
type Permissions map[Resource]Capability

// Allows reports whether every bit of c is granted on r.
func (p Permissions) Allows(r Resource, c Capability) bool {
	return p[r]&c == c
}

// RolePermissions returns the permission set of role.
func RolePermissions(role Role) Permissions {
	switch role {
	case RoleAdmin:
		return Permissions{
			ResourceDeals:      CapRead | CapWrite | CapApprove,
			ResourcePolicies:   CapRead | CapWrite,
			ResourceOnboarding: CapRead | CapWrite,
			ResourceRiskRules:  CapRead | CapWrite,
		}
	case RoleSales:
		return Permissions{
			ResourceDeals:      CapRead | CapWrite,
			ResourcePolicies:   CapRead,
			ResourceOnboarding: CapRead | CapWrite,
			ResourceRiskRules:  CapRead,
		}
	}
	return Permissions{}
}
