package auth

import (
	"fmt"
	"strings"

	"github.com/spec-kit/user-service/internal/access"
)

// RoutePolicy is the guard configuration of one endpoint. The zero value
// requires an authenticated, activated principal and restricts nothing.
type RoutePolicy struct {
	Public      bool
	Restriction *access.Rule
}

// PublicRoute skips the guard entirely.
func PublicRoute() RoutePolicy {
	return RoutePolicy{Public: true}
}

// AuthenticatedRoute requires a principal without restricting any field.
func AuthenticatedRoute() RoutePolicy {
	return RoutePolicy{}
}

// RestrictedRoute requires a principal and applies rule to non-admins.
func RestrictedRoute(rule access.Rule) RoutePolicy {
	return RoutePolicy{Restriction: &rule}
}

// RouteTable maps "METHOD /path" keys to policies. It is filled once at
// startup and read-only afterwards.
type RouteTable map[string]RoutePolicy

// RouteKey builds the table key for a Fiber route pattern.
func RouteKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Register adds a policy, refusing to overwrite an existing entry.
func (t RouteTable) Register(method, path string, policy RoutePolicy) error {
	key := RouteKey(method, path)
	if _, exists := t[key]; exists {
		return fmt.Errorf("route %q already registered", key)
	}
	t[key] = policy
	return nil
}

// Policy returns the policy for key; unknown keys get the zero policy.
func (t RouteTable) Policy(key string) RoutePolicy {
	return t[key]
}
