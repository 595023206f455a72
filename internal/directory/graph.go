// internal/directory/graph.go
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"entrascope/internal/permissions"
	"entrascope/pkg/retry"
)

// GraphClient implements Client against the Microsoft Graph REST API using
// the platform automation identity. Every call runs under the shared retry
// executor; exhausted or rejected outcomes surface as *Error.
type GraphClient struct {
	graphBase     string
	authorityBase string
	homeTenant    string
	clientID      string
	clientSecret  string
	exec          retry.Executor
	log           *zap.SugaredLogger
}

func NewGraphClient(graphBase, authorityBase, homeTenant, clientID, clientSecret string, exec retry.Executor, log *zap.SugaredLogger) *GraphClient {
	return &GraphClient{
		graphBase:     strings.TrimRight(graphBase, "/"),
		authorityBase: strings.TrimRight(authorityBase, "/"),
		homeTenant:    homeTenant,
		clientID:      clientID,
		clientSecret:  clientSecret,
		exec:          exec,
		log:           log,
	}
}

func (g *GraphClient) restFor(ctx context.Context, authority string) *resty.Client {
	cc := clientcredentials.Config{
		ClientID:     g.clientID,
		ClientSecret: g.clientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", g.authorityBase, authority),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return resty.NewWithClient(cc.Client(ctx)).SetBaseURL(g.graphBase)
}

// call performs one Graph request under the retry policy. Token-endpoint and
// Graph failures are folded into retry.StatusError so the executor's status
// predicate decides retryability.
func (g *GraphClient) call(ctx context.Context, rc *resty.Client, method, path string, body, out any) error {
	op := func(ctx context.Context) error {
		req := rc.R().SetContext(ctx)
		if body != nil {
			req.SetBody(body)
		}
		if out != nil {
			req.SetResult(out)
		}
		resp, err := req.Execute(method, path)
		if err != nil {
			var re *oauth2.RetrieveError
			if errors.As(err, &re) {
				return &retry.StatusError{Status: re.Response.StatusCode, Message: string(re.Body)}
			}
			return err // network-level, retried
		}
		if resp.IsError() {
			return &retry.StatusError{Status: resp.StatusCode(), Message: string(resp.Body())}
		}
		return nil
	}
	return g.exec.Do(ctx, op)
}

// unknownTenant detects the token endpoint refusing to resolve an authority
// (domain or id not found in the directory).
func unknownTenant(err error) bool {
	var se *retry.StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == 400 &&
		(strings.Contains(se.Message, "AADSTS90002") || strings.Contains(se.Message, "invalid_tenant"))
}

type appResponse struct {
	ID    string `json:"id"`
	AppID string `json:"appId"`
}

type spResponse struct {
	ID string `json:"id"`
}

type passwordResponse struct {
	SecretText string `json:"secretText"`
}

type listResponse[T any] struct {
	Value []T `json:"value"`
}

func (g *GraphClient) CreateApplicationAndServicePrincipal(ctx context.Context, tenantIdentifier, displayName string, required []permissions.ResourceAccess) (App, error) {
	authority := tenantIdentifier
	rc := g.restFor(ctx, authority)

	var app appResponse
	createBody := map[string]any{
		"displayName":            displayName,
		"signInAudience":         "AzureADMultipleOrgs",
		"requiredResourceAccess": required,
	}
	err := g.call(ctx, rc, "POST", "/applications", createBody, &app)
	if err != nil && unknownTenant(err) {
		// The directory cannot resolve this identifier to an authority.
		// Create in the automation home tenant instead and leave the
		// authority unpinned; provisioning falls back to "common".
		g.log.Warnw("authority not resolvable, creating in home tenant", "identifier", tenantIdentifier)
		authority = g.homeTenant
		rc = g.restFor(ctx, authority)
		err = g.call(ctx, rc, "POST", "/applications", createBody, &app)
		if err != nil {
			return App{}, Classify(err)
		}
		authority = "" // unpinned
	} else if err != nil {
		return App{}, Classify(err)
	}

	var sp spResponse
	if err := g.call(ctx, rc, "POST", "/servicePrincipals", map[string]any{"appId": app.AppID}, &sp); err != nil {
		return App{}, Classify(err)
	}

	var pw passwordResponse
	pwBody := map[string]any{"passwordCredential": map[string]any{"displayName": "entrascope automation"}}
	if err := g.call(ctx, rc, "POST", "/applications/"+app.ID+"/addPassword", pwBody, &pw); err != nil {
		return App{}, Classify(err)
	}

	resolved := authority
	if resolved != "" {
		// Pin the authority to the tenant GUID when the directory will say.
		var org listResponse[struct {
			ID string `json:"id"`
		}]
		if err := g.call(ctx, rc, "GET", "/organization?$select=id", nil, &org); err == nil && len(org.Value) > 0 {
			resolved = org.Value[0].ID
		}
	}

	return App{
		ApplicationID:      app.ID,
		ClientID:           app.AppID,
		ServicePrincipalID: sp.ID,
		ClientSecret:       pw.SecretText,
		ResolvedAuthority:  resolved,
	}, nil
}

func (g *GraphClient) GetCurrentGrantedPermissions(ctx context.Context, tenantIdentifier, clientID string) ([]string, error) {
	rc := g.restFor(ctx, tenantIdentifier)
	var out listResponse[struct {
		AppRoleID string `json:"appRoleId"`
	}]
	path := fmt.Sprintf("/servicePrincipals(appId='%s')/appRoleAssignments", clientID)
	if err := g.call(ctx, rc, "GET", path, nil, &out); err != nil {
		return nil, Classify(err)
	}
	ids := make([]string, 0, len(out.Value))
	for _, v := range out.Value {
		ids = append(ids, v.AppRoleID)
	}
	return ids, nil
}

func (g *GraphClient) UpdateRequiredPermissions(ctx context.Context, tenantIdentifier, applicationID string, required []permissions.ResourceAccess) error {
	rc := g.restFor(ctx, tenantIdentifier)
	body := map[string]any{"requiredResourceAccess": required}
	if err := g.call(ctx, rc, "PATCH", "/applications/"+applicationID, body, nil); err != nil {
		return Classify(err)
	}
	return nil
}
