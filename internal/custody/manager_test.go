// internal/custody/manager_test.go
package custody

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"entrascope/pkg/accounts"
)

type fakeVault struct {
	data    map[string]string
	putErr  error
	getErr  error
	lastKey string
}

func (f *fakeVault) Put(_ context.Context, key, value string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	if f.data == nil {
		f.data = map[string]string{}
	}
	f.lastKey = key
	f.data[key] = value
	return "secret/" + key, nil
}

func (f *fakeVault) Get(_ context.Context, ref string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	v, ok := f.data[ref[len("secret/"):]]
	if !ok {
		return "", errors.New("missing")
	}
	return v, nil
}

func TestStorePrefersVault(t *testing.T) {
	v := &fakeVault{}
	m := NewManager(v, zap.NewNop().Sugar())
	loc := m.Store(context.Background(), "acc-1", "s3cr3t")
	assert.Equal(t, accounts.SecretVaulted, loc.Kind)
	assert.Equal(t, "secret/tenants/acc-1/client-secret", loc.VaultReference)
	assert.Empty(t, loc.SecretValue)
	assert.Equal(t, "tenants/acc-1/client-secret", v.lastKey)
}

func TestStoreFallsBackInlineOnVaultFailure(t *testing.T) {
	v := &fakeVault{putErr: errors.New("sealed")}
	m := NewManager(v, zap.NewNop().Sugar())
	loc := m.Store(context.Background(), "acc-1", "s3cr3t")
	assert.Equal(t, accounts.SecretInline, loc.Kind)
	assert.Equal(t, "s3cr3t", loc.SecretValue)
}

func TestStoreInlineWhenNoVault(t *testing.T) {
	m := NewManager(nil, zap.NewNop().Sugar())
	loc := m.Store(context.Background(), "acc-1", "s3cr3t")
	assert.Equal(t, accounts.SecretInline, loc.Kind)
}

func TestRetrieveRoundTrip(t *testing.T) {
	v := &fakeVault{}
	m := NewManager(v, zap.NewNop().Sugar())
	loc := m.Store(context.Background(), "acc-1", "s3cr3t")

	got, err := m.Retrieve(context.Background(), accounts.CredentialRecord{Secret: loc})
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", got)

	got, err = m.Retrieve(context.Background(), accounts.CredentialRecord{Secret: accounts.InlineSecret("plain")})
	require.NoError(t, err)
	assert.Equal(t, "plain", got)
}

func TestRetrieveNotReadyVariants(t *testing.T) {
	m := NewManager(nil, zap.NewNop().Sugar())

	_, err := m.Retrieve(context.Background(), accounts.CredentialRecord{Secret: accounts.ManualSetupSecret()})
	assert.ErrorIs(t, err, ErrSecretNotReady)

	_, err = m.Retrieve(context.Background(), accounts.CredentialRecord{Secret: accounts.ProvisioningErrorSecret("boom")})
	assert.ErrorIs(t, err, ErrSecretNotReady)
	assert.Contains(t, err.Error(), "boom")

	_, err = m.Retrieve(context.Background(), accounts.CredentialRecord{})
	assert.ErrorIs(t, err, ErrSecretNotReady)
}

func TestRetrieveVaultedWithoutVaultFails(t *testing.T) {
	m := NewManager(nil, zap.NewNop().Sugar())
	_, err := m.Retrieve(context.Background(), accounts.CredentialRecord{Secret: accounts.VaultedSecret("secret/x")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSecretNotReady)
}
