// internal/provisioning/consent_test.go
package provisioning

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testState() ConsentState {
	return ConsentState{
		CustomerID:       "acc-42",
		TenantIdentifier: "contoso.com",
		RequestID:        "req-7",
		Timestamp:        time.Now().UTC().Truncate(time.Second),
	}
}

func TestConsentStateRoundTrip(t *testing.T) {
	b := NewConsentBuilder("https://login.microsoftonline.com", "https://app.example.com/cb", "test-key", time.Hour)
	raw, err := b.signState(testState())
	require.NoError(t, err)

	got, err := b.ParseState(raw)
	require.NoError(t, err)
	want := testState()
	assert.Equal(t, want.CustomerID, got.CustomerID)
	assert.Equal(t, want.TenantIdentifier, got.TenantIdentifier)
	assert.Equal(t, want.RequestID, got.RequestID)
	// Second precision survives the wire exactly.
	assert.True(t, got.Timestamp.Equal(want.Timestamp), "got %v want %v", got.Timestamp, want.Timestamp)
}

func TestConsentStateTamperedSignatureRejected(t *testing.T) {
	b := NewConsentBuilder("https://login.microsoftonline.com", "https://app.example.com/cb", "key-a", time.Hour)
	raw, err := b.signState(testState())
	require.NoError(t, err)

	other := NewConsentBuilder("https://login.microsoftonline.com", "https://app.example.com/cb", "key-b", time.Hour)
	_, err = other.ParseState(raw)
	assert.Error(t, err)
}

func TestConsentStateExpired(t *testing.T) {
	b := NewConsentBuilder("https://login.microsoftonline.com", "https://app.example.com/cb", "test-key", time.Minute)
	st := testState()
	st.Timestamp = time.Now().UTC().Add(-2 * time.Minute)
	raw, err := b.signState(st)
	require.NoError(t, err)
	_, err = b.ParseState(raw)
	assert.Error(t, err)
}

func TestBuildConsentURL(t *testing.T) {
	b := NewConsentBuilder("https://login.microsoftonline.com/", "https://app.example.com/cb", "test-key", time.Hour)
	u, err := b.BuildConsentURL("contoso.com", "client-123", testState())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "https://login.microsoftonline.com/contoso.com/adminconsent?"), u)

	parsed, err := url.Parse(u)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "https://app.example.com/cb", q.Get("redirect_uri"))

	st, err := b.ParseState(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "acc-42", st.CustomerID)
}

func TestEphemeralKeyWhenUnset(t *testing.T) {
	a := NewConsentBuilder("https://login.microsoftonline.com", "https://app.example.com/cb", "", time.Hour)
	raw, err := a.signState(testState())
	require.NoError(t, err)
	_, err = a.ParseState(raw)
	require.NoError(t, err)

	b := NewConsentBuilder("https://login.microsoftonline.com", "https://app.example.com/cb", "", time.Hour)
	_, err = b.ParseState(raw)
	assert.Error(t, err, "a different builder instance must not verify the state")
}
