// internal/assessment/sources/graph.go
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"entrascope/internal/assessment"
	"entrascope/pkg/retry"
)

// graphSource fetches one Graph endpoint using the tenant's own provisioned
// application identity, under the shared retry policy.
type graphSource struct {
	category      string
	path          string
	graphBase     string
	authorityBase string
	exec          retry.Executor
}

// NewGraphSources returns the built-in category sources backed by Microsoft
// Graph: license (subscribed SKUs), secure-score (latest secure score) and
// identity-access (authentication method registration).
func NewGraphSources(graphBase, authorityBase string, exec retry.Executor) []assessment.Source {
	gb := strings.TrimRight(graphBase, "/")
	ab := strings.TrimRight(authorityBase, "/")
	return []assessment.Source{
		&graphSource{category: assessment.CategoryLicense, path: "/subscribedSkus", graphBase: gb, authorityBase: ab, exec: exec},
		&graphSource{category: assessment.CategorySecureScore, path: "/security/secureScores?$top=1", graphBase: gb, authorityBase: ab, exec: exec},
		&graphSource{category: assessment.CategoryIdentityAccess, path: "/reports/authenticationMethods/usersRegisteredByFeature", graphBase: gb, authorityBase: ab, exec: exec},
	}
}

func (g *graphSource) Category() string { return g.category }

func (g *graphSource) Fetch(ctx context.Context, creds assessment.SourceCredentials) (map[string]any, error) {
	cc := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", g.authorityBase, creds.Authority),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	rc := resty.NewWithClient(cc.Client(ctx)).SetBaseURL(g.graphBase)

	var payload map[string]any
	op := func(ctx context.Context) error {
		resp, err := rc.R().SetContext(ctx).Get(g.path)
		if err != nil {
			var re *oauth2.RetrieveError
			if errors.As(err, &re) {
				return &retry.StatusError{Status: re.Response.StatusCode, Message: string(re.Body)}
			}
			return err
		}
		if resp.IsError() {
			return &retry.StatusError{Status: resp.StatusCode(), Message: string(resp.Body())}
		}
		payload = map[string]any{}
		if err := json.Unmarshal(resp.Body(), &payload); err != nil {
			// decoding failures are permanent, not transient
			return &retry.StatusError{Status: 400, Message: "malformed response body"}
		}
		return nil
	}
	if err := g.exec.Do(ctx, op); err != nil {
		return nil, err
	}
	return payload, nil
}
