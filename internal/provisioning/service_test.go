// internal/provisioning/service_test.go
package provisioning

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"entrascope/internal/custody"
	"entrascope/internal/directory"
	"entrascope/internal/permissions"
	"entrascope/pkg/accounts"
	"entrascope/pkg/locks"
)

type fakeDirectory struct {
	app         directory.App
	createErr   error
	createCalls int
	updateErr   error
	updateCalls int
	grantedIDs  []string

	lastTenant      string
	lastDisplayName string
	lastRequired    []permissions.ResourceAccess
}

func (f *fakeDirectory) CreateApplicationAndServicePrincipal(_ context.Context, tenantIdentifier, displayName string, required []permissions.ResourceAccess) (directory.App, error) {
	f.createCalls++
	f.lastTenant = tenantIdentifier
	f.lastDisplayName = displayName
	f.lastRequired = required
	if f.createErr != nil {
		return directory.App{}, f.createErr
	}
	return f.app, nil
}

func (f *fakeDirectory) GetCurrentGrantedPermissions(context.Context, string, string) ([]string, error) {
	return f.grantedIDs, nil
}

func (f *fakeDirectory) UpdateRequiredPermissions(_ context.Context, _, _ string, required []permissions.ResourceAccess) error {
	f.updateCalls++
	f.lastRequired = required
	return f.updateErr
}

type testEnv struct {
	svc    *Service
	store  accounts.Store
	dir    *fakeDirectory
	locker locks.Locker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop().Sugar()
	store := accounts.NewMemoryStore(log)
	locker := locks.NewMemoryLocker()
	dir := &fakeDirectory{app: directory.App{
		ApplicationID:      "obj-123",
		ClientID:           "app-123",
		ServicePrincipalID: "sp-123",
		ClientSecret:       "fresh-secret",
		ResolvedAuthority:  "f47ac10b-58cc-4372-a567-0e02b2c3d479",
	}}
	gate, err := NewGate("", log)
	require.NoError(t, err)
	svc := NewService(Deps{
		Store:          store,
		Directory:      dir,
		Custody:        custody.NewManager(nil, log),
		Composer:       permissions.NewComposer(permissions.DefaultGroups()),
		Locker:         locker,
		Gate:           gate,
		Consent:        NewConsentBuilder("https://login.microsoftonline.com", "https://app.example.com/cb", "test-key", time.Hour),
		RedirectURI:    "https://app.example.com/cb",
		SecretValidity: 180 * 24 * time.Hour,
		Log:            log,
	})
	return &testEnv{svc: svc, store: store, dir: dir, locker: locker}
}

func TestOnboardCreatesActiveRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account, rec, err := env.svc.Onboard(ctx, ProvisionRequest{TenantName: "Contoso", TenantDomain: "Contoso.com"})
	require.NoError(t, err)

	assert.Equal(t, "contoso.com", account.TenantIdentifier)
	assert.Equal(t, accounts.StateActive, rec.State)
	assert.Equal(t, "obj-123", rec.ApplicationID)
	assert.Equal(t, "app-123", rec.ClientID)
	assert.Equal(t, "sp-123", rec.ServicePrincipalID)
	assert.Equal(t, accounts.SecretInline, rec.Secret.Kind)
	assert.Equal(t, "fresh-secret", rec.Secret.SecretValue)
	assert.Equal(t, env.svc.composer.Baseline(), rec.GrantedPermissions)

	// Consent URL carries the directory-resolved authority and the client id.
	u, err := url.Parse(rec.ConsentURL)
	require.NoError(t, err)
	assert.Contains(t, u.Path, "f47ac10b-58cc-4372-a567-0e02b2c3d479")
	assert.Equal(t, "app-123", u.Query().Get("client_id"))
	assert.Equal(t, "f47ac10b-58cc-4372-a567-0e02b2c3d479", rec.AuthorityHint)

	require.NotNil(t, rec.SecretIssuedAt)
	require.NotNil(t, rec.SecretExpiresAt)
	assert.Equal(t, rec.SecretIssuedAt.Add(180*24*time.Hour), *rec.SecretExpiresAt)

	// The placeholder write happened first, so the stored record saw exactly
	// two writes: Provisioning then Active.
	stored, err := env.store.GetCredential(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, accounts.StateActive, stored.State)
	assert.Equal(t, 2, stored.Version)

	got, err := env.store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, accounts.StatusActive, got.Status)
	assert.True(t, stored.Usable())
}

func TestOnboardSkipAutoAppRegistration(t *testing.T) {
	env := newTestEnv(t)
	_, rec, err := env.svc.Onboard(context.Background(), ProvisionRequest{
		TenantName:              "Contoso",
		TenantDomain:            "contoso.com",
		SkipAutoAppRegistration: true,
	})
	require.NoError(t, err)

	assert.Equal(t, accounts.StatePendingManualSetup, rec.State)
	assert.Equal(t, accounts.ManualSetupSentinel, rec.ApplicationID)
	assert.Equal(t, accounts.ManualSetupSentinel, rec.ClientID)
	assert.Equal(t, accounts.SecretManualSetup, rec.Secret.Kind)
	require.NotNil(t, rec.Troubleshooting)
	assert.NotEmpty(t, rec.Troubleshooting.Remediation)
	assert.Zero(t, env.dir.createCalls, "manual setup must not touch the directory")
	assert.False(t, rec.Usable())
}

func TestOnboardDirectoryFailureWritesErrorRecord(t *testing.T) {
	env := newTestEnv(t)
	env.dir.createErr = &directory.Error{
		Kind:        directory.KindRejected,
		Status:      403,
		Message:     "insufficient privileges",
		Remediation: []string{"grant the automation identity Application.ReadWrite.All"},
	}

	account, rec, err := env.svc.Onboard(context.Background(), ProvisionRequest{TenantName: "Contoso", TenantDomain: "contoso.com"})
	require.Error(t, err)

	assert.Equal(t, accounts.StateError, rec.State)
	assert.Equal(t, accounts.ErrorSentinel, rec.ApplicationID)
	assert.Equal(t, accounts.ErrorSentinel, rec.ClientID)
	assert.Equal(t, accounts.ErrorSentinel, rec.ServicePrincipalID)
	assert.Equal(t, accounts.SecretProvisioningError, rec.Secret.Kind)
	assert.Contains(t, rec.Secret.Detail, "insufficient privileges")
	require.NotNil(t, rec.Troubleshooting)
	assert.Equal(t, []string{"grant the automation identity Application.ReadWrite.All"}, rec.Troubleshooting.Remediation)

	// The terminal error record is committed, not rolled back.
	stored, err2 := env.store.GetCredential(context.Background(), account.ID)
	require.NoError(t, err2)
	assert.Equal(t, accounts.StateError, stored.State)
	assert.False(t, stored.Usable())
}

func TestOnboardExistingTenantRotatesInPlace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, rec1, err := env.svc.Onboard(ctx, ProvisionRequest{TenantName: "Contoso", TenantDomain: "contoso.com"})
	require.NoError(t, err)

	env.dir.app.ClientSecret = "rotated-secret"
	// Same tenant through a different payload spelling: still one account.
	second, rec2, err := env.svc.Onboard(ctx, ProvisionRequest{TenantName: "Contoso Renamed", TenantDomain: "CONTOSO.COM"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, env.dir.createCalls)
	assert.Equal(t, "rotated-secret", rec2.Secret.SecretValue)
	assert.Greater(t, rec2.Version, rec1.Version)

	stored, err := env.store.GetCredential(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated-secret", stored.Secret.SecretValue)
}

func TestOnboardMissingIdentifier(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.svc.Onboard(context.Background(), ProvisionRequest{TenantName: "Contoso"})
	require.Error(t, err)
}

func TestOnboardLockHeld(t *testing.T) {
	env := newTestEnv(t)
	release, err := env.locker.Acquire(context.Background(), "contoso.com", time.Minute)
	require.NoError(t, err)
	defer release()

	_, _, err = env.svc.Onboard(context.Background(), ProvisionRequest{TenantName: "Contoso", TenantDomain: "contoso.com"})
	require.ErrorIs(t, err, ErrProvisioningInProgress)
}

func TestOnboardGateBlocks(t *testing.T) {
	env := newTestEnv(t)
	policy := filepath.Join(t.TempDir(), "onboarding.rego")
	require.NoError(t, os.WriteFile(policy, []byte(`package onboarding

decide := {"allow": false, "reasons": ["blocked_domain"]}
`), 0o600))
	gate, err := NewGate(policy, zap.NewNop().Sugar())
	require.NoError(t, err)
	env.svc.gate = gate

	_, _, err = env.svc.Onboard(context.Background(), ProvisionRequest{TenantName: "Contoso", TenantDomain: "contoso.com"})
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, []string{"blocked_domain"}, blocked.Reasons)
}

func TestProvisionUnknownAccount(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Provision(context.Background(), "nope")
	require.ErrorIs(t, err, accounts.ErrNotFound)
}

func TestHandleConsentCallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account, rec, err := env.svc.Onboard(ctx, ProvisionRequest{TenantName: "Contoso", TenantDomain: "contoso.com"})
	require.NoError(t, err)

	u, err := url.Parse(rec.ConsentURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	got, err := env.svc.HandleConsentCallback(ctx, ConsentCallback{AdminConsent: true, State: state})
	require.NoError(t, err)
	require.NotNil(t, got.ConsentGrantedAt)
	assert.Empty(t, got.ConsentError)

	stored, err := env.store.GetCredential(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ConsentGrantedAt)

	// A later denial is recorded as well.
	got, err = env.svc.HandleConsentCallback(ctx, ConsentCallback{AdminConsent: false, State: state, Error: "declined by admin"})
	require.NoError(t, err)
	assert.Equal(t, "declined by admin", got.ConsentError)
}

func TestHandleConsentCallbackBadState(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.HandleConsentCallback(context.Background(), ConsentCallback{AdminConsent: true, State: "garbage"})
	require.Error(t, err)
}

func TestEnsurePermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account, _, err := env.svc.Onboard(ctx, ProvisionRequest{TenantName: "Contoso", TenantDomain: "contoso.com"})
	require.NoError(t, err)

	comp, consentNeeded, err := env.svc.EnsurePermissions(ctx, account.ID, []string{"audit"}, nil, false)
	require.NoError(t, err)
	assert.True(t, consentNeeded)
	assert.Contains(t, comp.NewlyAdded, "AuditLog.Read.All")
	assert.Equal(t, 1, env.dir.updateCalls)

	stored, err := env.store.GetCredential(ctx, account.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.GrantedPermissions, "AuditLog.Read.All")

	// Re-applying the same groups is a no-op.
	_, consentNeeded, err = env.svc.EnsurePermissions(ctx, account.ID, []string{"audit"}, nil, false)
	require.NoError(t, err)
	assert.False(t, consentNeeded)
	assert.Equal(t, 1, env.dir.updateCalls)
}

func TestGrantedPermissionsReverseMapsRoleIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account, _, err := env.svc.Onboard(ctx, ProvisionRequest{TenantName: "Contoso", TenantDomain: "contoso.com"})
	require.NoError(t, err)

	// Organization.Read.All's role id plus one id outside the mapping table.
	env.dir.grantedIDs = []string{"498476ce-e0fe-48b0-b801-37ba7e2685c6", "ffffffff-0000-0000-0000-000000000000"}

	requested, granted, err := env.svc.GrantedPermissions(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, env.svc.composer.Baseline(), requested)
	assert.Contains(t, granted, "Organization.Read.All")
	assert.Contains(t, granted, "ffffffff-0000-0000-0000-000000000000", "unmapped ids pass through raw")
}

func TestEnsurePermissionsRequiresActiveRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account, _, err := env.svc.Onboard(ctx, ProvisionRequest{
		TenantName:              "Contoso",
		TenantDomain:            "contoso.com",
		SkipAutoAppRegistration: true,
	})
	require.NoError(t, err)

	_, _, err = env.svc.EnsurePermissions(ctx, account.ID, []string{"audit"}, nil, false)
	require.Error(t, err)
	assert.Zero(t, env.dir.updateCalls)
}

func TestOnboardUnpinnedAuthorityFallsBackToCommon(t *testing.T) {
	env := newTestEnv(t)
	env.dir.app.ResolvedAuthority = ""

	_, rec, err := env.svc.Onboard(context.Background(), ProvisionRequest{TenantName: "Contoso", TenantDomain: "contoso.com"})
	require.NoError(t, err)
	assert.Equal(t, "common", rec.AuthorityHint)
	u, err := url.Parse(rec.ConsentURL)
	require.NoError(t, err)
	assert.Contains(t, u.Path, "/common/")
}

func TestOnboardUnconfiguredDirectory(t *testing.T) {
	env := newTestEnv(t)
	env.svc.dir = directory.NewUnconfigured()

	_, rec, err := env.svc.Onboard(context.Background(), ProvisionRequest{TenantName: "Contoso", TenantDomain: "contoso.com"})
	require.Error(t, err)
	assert.Equal(t, accounts.StateError, rec.State)
	require.NotNil(t, rec.Troubleshooting)
	assert.NotEmpty(t, rec.Troubleshooting.Remediation)
	var de *directory.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, directory.KindConfiguration, de.Kind)
}
