// internal/custody/manager.go
package custody

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"entrascope/pkg/accounts"
)

// Vault is the external secret vault boundary.
type Vault interface {
	// Put writes a secret and returns an opaque reference for later retrieval.
	Put(ctx context.Context, key, value string) (string, error)
	Get(ctx context.Context, ref string) (string, error)
}

var ErrSecretNotReady = errors.New("no retrievable secret on this credential record")

// Manager decides where freshly issued client secrets live: vault preferred,
// inline fallback. Vault failure is degraded mode, never fatal — credential
// issuance must still succeed.
type Manager struct {
	vault Vault // nil when no vault is configured
	log   *zap.SugaredLogger
}

func NewManager(v Vault, log *zap.SugaredLogger) *Manager {
	return &Manager{vault: v, log: log}
}

func keyFor(tenantAccountID string) string {
	return "tenants/" + tenantAccountID + "/client-secret"
}

// Store writes the secret to the vault under a key derived from the tenant
// account id. On any vault failure (including not configured) it returns an
// inline location and logs the degraded mode.
func (m *Manager) Store(ctx context.Context, tenantAccountID, secretValue string) accounts.SecretLocation {
	if m.vault == nil {
		m.log.Warnw("vault not configured, storing secret inline", "account", tenantAccountID)
		return accounts.InlineSecret(secretValue)
	}
	ref, err := m.vault.Put(ctx, keyFor(tenantAccountID), secretValue)
	if err != nil {
		m.log.Warnw("vault write failed, storing secret inline", "account", tenantAccountID, "err", err)
		return accounts.InlineSecret(secretValue)
	}
	return accounts.VaultedSecret(ref)
}

// Retrieve resolves the secret behind a credential record, handling both
// vaulted and inline locations transparently. Callers never branch on the
// location kind anywhere else.
func (m *Manager) Retrieve(ctx context.Context, rec accounts.CredentialRecord) (string, error) {
	switch rec.Secret.Kind {
	case accounts.SecretInline:
		if rec.Secret.SecretValue == "" {
			return "", ErrSecretNotReady
		}
		return rec.Secret.SecretValue, nil
	case accounts.SecretVaulted:
		if m.vault == nil {
			return "", fmt.Errorf("secret is vaulted at %s but no vault is configured", rec.Secret.VaultReference)
		}
		return m.vault.Get(ctx, rec.Secret.VaultReference)
	case accounts.SecretManualSetup:
		return "", fmt.Errorf("%w: credentials require manual setup", ErrSecretNotReady)
	case accounts.SecretProvisioningError:
		return "", fmt.Errorf("%w: last provisioning attempt failed: %s", ErrSecretNotReady, rec.Secret.Detail)
	default:
		return "", fmt.Errorf("%w: unknown secret location %q", ErrSecretNotReady, rec.Secret.Kind)
	}
}
