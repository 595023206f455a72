// internal/identity/resolver.go
package identity

import (
	"errors"
	"regexp"
	"strings"
)

// CommonAuthority is the generic multi-tenant authorization endpoint variant,
// used when an identifier cannot be pinned to a specific directory.
const CommonAuthority = "common"

var ErrMissingTenantIdentifier = errors.New("missing tenant identifier: provide an explicit directory id or a domain")

var guidRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsGUID reports whether s has the canonical directory-id shape.
func IsGUID(s string) bool { return guidRe.MatchString(s) }

// Resolved is the normalized tenant identity. AuthorityHint is a proposal:
// for a dotted domain the directory may later report it cannot be resolved,
// in which case provisioning finalizes the fallback to CommonAuthority.
type Resolved struct {
	TenantIdentifier string
	AuthorityHint    string
}

// Resolve normalizes a tenant identifier from an explicit directory id or a
// domain name. Exactly one of the two is expected; the explicit id wins when
// both are present. Domains (including *.onmicrosoft.com) are accepted
// verbatim after lower-casing — no DNS validation happens here.
// Pure function, no side effects.
func Resolve(explicitID, domain string) (Resolved, error) {
	var identifier string
	switch {
	case strings.TrimSpace(explicitID) != "":
		identifier = strings.TrimSpace(explicitID)
	case strings.TrimSpace(domain) != "":
		identifier = strings.ToLower(strings.TrimSpace(domain))
	default:
		return Resolved{}, ErrMissingTenantIdentifier
	}

	hint := CommonAuthority
	switch {
	case IsGUID(identifier):
		hint = identifier
	case strings.Contains(identifier, "."):
		// Dotted non-GUID: prefer the domain-specific authority; the common
		// fallback is decided at provisioning time if the directory rejects it.
		hint = identifier
	}
	return Resolved{TenantIdentifier: identifier, AuthorityHint: hint}, nil
}
