// internal/identity/resolver_test.go
package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveExplicitIDWins(t *testing.T) {
	r, err := Resolve("F47AC10B-58cc-4372-a567-0e02b2c3d479", "contoso.com")
	require.NoError(t, err)
	// Explicit id passes through verbatim, no case folding.
	assert.Equal(t, "F47AC10B-58cc-4372-a567-0e02b2c3d479", r.TenantIdentifier)
	assert.Equal(t, r.TenantIdentifier, r.AuthorityHint)
}

func TestResolveDomainLowercased(t *testing.T) {
	r, err := Resolve("", "  Contoso.OnMicrosoft.COM ")
	require.NoError(t, err)
	assert.Equal(t, "contoso.onmicrosoft.com", r.TenantIdentifier)
	assert.Equal(t, "contoso.onmicrosoft.com", r.AuthorityHint)
}

func TestResolveNonDottedFallsBackToCommon(t *testing.T) {
	r, err := Resolve("", "contoso")
	require.NoError(t, err)
	assert.Equal(t, "contoso", r.TenantIdentifier)
	assert.Equal(t, CommonAuthority, r.AuthorityHint)
}

func TestResolveMissingBoth(t *testing.T) {
	_, err := Resolve("  ", "")
	require.ErrorIs(t, err, ErrMissingTenantIdentifier)
}

func TestIsGUID(t *testing.T) {
	assert.True(t, IsGUID("f47ac10b-58cc-4372-a567-0e02b2c3d479"))
	assert.False(t, IsGUID("contoso.com"))
	assert.False(t, IsGUID("f47ac10b-58cc-4372-a567"))
}
