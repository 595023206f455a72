// internal/provisioning/consent.go
package provisioning

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ConsentState round-trips through the consent URL's state parameter as a
// signed token. Timestamp has second precision on the wire.
type ConsentState struct {
	CustomerID       string
	TenantIdentifier string
	RequestID        string
	Timestamp        time.Time
}

// ConsentBuilder issues admin-consent URLs and verifies returning state
// tokens. The state is an HS256 JWT so a tampered callback never maps back
// to a tenant account.
type ConsentBuilder struct {
	authorityBase string
	redirectURI   string
	key           []byte
	ttl           time.Duration
}

func NewConsentBuilder(authorityBase, redirectURI, key string, ttl time.Duration) *ConsentBuilder {
	k := []byte(key)
	if len(k) == 0 {
		// Ephemeral key: states will not survive a restart. Fine for dev,
		// set CONSENT_STATE_KEY in prod.
		k = make([]byte, 32)
		_, _ = rand.Read(k)
	}
	return &ConsentBuilder{
		authorityBase: strings.TrimRight(authorityBase, "/"),
		redirectURI:   redirectURI,
		key:           k,
		ttl:           ttl,
	}
}

func (b *ConsentBuilder) signState(st ConsentState) (string, error) {
	builder := jwt.NewBuilder().
		IssuedAt(st.Timestamp).
		Claim("customerId", st.CustomerID).
		Claim("tenantIdentifier", st.TenantIdentifier).
		Claim("requestId", st.RequestID)
	if b.ttl > 0 {
		builder = builder.Expiration(st.Timestamp.Add(b.ttl))
	}
	tok, err := builder.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, b.key))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// BuildConsentURL renders the admin-consent URL for the given authority and
// application, embedding the signed state.
func (b *ConsentBuilder) BuildConsentURL(authority, clientID string, st ConsentState) (string, error) {
	state, err := b.signState(st)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("redirect_uri", b.redirectURI)
	q.Set("state", state)
	return fmt.Sprintf("%s/%s/adminconsent?%s", b.authorityBase, authority, q.Encode()), nil
}

// ParseState verifies the signature and expiry of a returning state token and
// reconstructs the payload generated at issuance time.
func (b *ConsentBuilder) ParseState(raw string) (ConsentState, error) {
	tok, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256, b.key), jwt.WithValidate(true))
	if err != nil {
		return ConsentState{}, fmt.Errorf("consent state: %w", err)
	}
	st := ConsentState{Timestamp: tok.IssuedAt()}
	if v, ok := tok.Get("customerId"); ok {
		st.CustomerID, _ = v.(string)
	}
	if v, ok := tok.Get("tenantIdentifier"); ok {
		st.TenantIdentifier, _ = v.(string)
	}
	if v, ok := tok.Get("requestId"); ok {
		st.RequestID, _ = v.(string)
	}
	if st.CustomerID == "" || st.TenantIdentifier == "" {
		return ConsentState{}, fmt.Errorf("consent state: missing required claims")
	}
	return st, nil
}
