package enums

import "fmt"

// ActorRole identifies who is calling the back office API.
type ActorRole string

const (
	ActorRoleAdmin    ActorRole = "admin"
	ActorRoleMerchant ActorRole = "merchant"
	ActorRoleService  ActorRole = "service"
)

var validActorRoles = []ActorRole{
	ActorRoleAdmin,
	ActorRoleMerchant,
	ActorRoleService,
}

// String implements fmt.Stringer.
func (a ActorRole) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
