package rbac

import (
	"context"
	"strings"
)

// Checker answers permission questions for a fixed policy. Exact grants are
// indexed per role; wildcard grants are kept as prefixes.
type Checker struct {
	exact    map[string]map[Permission]struct{}
	prefixes map[string][]string
}

func NewChecker(policy map[string][]Permission) *Checker {
	if policy == nil {
		policy = RolePermissions
	}
	c := &Checker{
		exact:    make(map[string]map[Permission]struct{}, len(policy)),
		prefixes: make(map[string][]string, len(policy)),
	}
	for role, perms := range policy {
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			if s := string(p); strings.HasSuffix(s, "*") {
				c.prefixes[role] = append(c.prefixes[role], strings.TrimSuffix(s, "*"))
				continue
			}
			set[p] = struct{}{}
		}
		c.exact[role] = set
	}
	return c
}

func (c *Checker) Has(role string, perm Permission) bool {
	if _, ok := c.exact[role][perm]; ok {
		return true
	}
	for _, prefix := range c.prefixes[role] {
		if strings.HasPrefix(string(perm), prefix) {
			return true
		}
	}
	return false
}

func (c *Checker) Any(role string, perms ...Permission) bool {
	for _, p := range perms {
		if c.Has(role, p) {
			return true
		}
	}
	return false
}

type roleKey struct{}

// WithRole stores the caller's account role; the auth middleware sets it
// after the token and the stored account agree.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

func RoleFromContext(ctx context.Context) string {
	s, _ := ctx.Value(roleKey{}).(string)
	return s
}
