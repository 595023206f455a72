// internal/directory/client.go
package directory

import (
	"context"

	"entrascope/internal/permissions"
)

// App is the provisioned application / service-principal pair returned by the
// directory. ResolvedAuthority is set when the directory could pin the tenant
// to a specific authority; empty otherwise.
type App struct {
	ApplicationID      string
	ClientID           string
	ServicePrincipalID string
	ClientSecret       string
	ResolvedAuthority  string
}

// Client is the identity-provider boundary. The wire format behind it is a
// black box to the rest of the core.
type Client interface {
	CreateApplicationAndServicePrincipal(ctx context.Context, tenantIdentifier, displayName string, required []permissions.ResourceAccess) (App, error)
	// GetCurrentGrantedPermissions returns the app role ids currently granted
	// to the application's service principal in the tenant.
	GetCurrentGrantedPermissions(ctx context.Context, tenantIdentifier, clientID string) ([]string, error)
	UpdateRequiredPermissions(ctx context.Context, tenantIdentifier, applicationID string, required []permissions.ResourceAccess) error
}

// Unconfigured is wired when the platform automation identity is absent from
// the environment. Every call fails fast with remediation, which provisioning
// records as a terminal Error state.
type Unconfigured struct{}

func NewUnconfigured() Client { return Unconfigured{} }

func (Unconfigured) err() error {
	return &Error{
		Kind:    KindConfiguration,
		Message: "platform automation credentials are not configured",
		Remediation: []string{
			"set AUTOMATION_TENANT_ID, AUTOMATION_CLIENT_ID and AUTOMATION_CLIENT_SECRET",
			"or onboard the tenant with skipAutoAppRegistration=true and register the application manually",
		},
	}
}

func (u Unconfigured) CreateApplicationAndServicePrincipal(context.Context, string, string, []permissions.ResourceAccess) (App, error) {
	return App{}, u.err()
}
func (u Unconfigured) GetCurrentGrantedPermissions(context.Context, string, string) ([]string, error) {
	return nil, u.err()
}
func (u Unconfigured) UpdateRequiredPermissions(context.Context, string, string, []permissions.ResourceAccess) error {
	return u.err()
}
