// internal/provisioning/service.go
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"entrascope/internal/custody"
	"entrascope/internal/directory"
	"entrascope/internal/identity"
	"entrascope/internal/metrics"
	"entrascope/internal/permissions"
	"entrascope/pkg/accounts"
	"entrascope/pkg/locks"
)

var ErrProvisioningInProgress = errors.New("a provisioning attempt for this tenant is already running")

// BlockedError means the onboarding admission policy declined the request.
type BlockedError struct{ Reasons []string }

func (e *BlockedError) Error() string {
	return "onboarding blocked by policy: " + strings.Join(e.Reasons, "; ")
}

// ProvisionRequest is the transport-agnostic onboarding request shape.
type ProvisionRequest struct {
	TenantName              string `json:"tenantName"`
	TenantDomain            string `json:"tenantDomain,omitempty"`
	TenantID                string `json:"tenantId,omitempty"`
	ContactEmail            string `json:"contactEmail,omitempty"`
	Notes                   string `json:"notes,omitempty"`
	SkipAutoAppRegistration bool   `json:"skipAutoAppRegistration"`
}

// ConsentCallback is the shape of the admin-consent redirect.
type ConsentCallback struct {
	AdminConsent bool
	Tenant       string
	Error        string
	State        string
}

// Deps is the explicitly constructed component graph for the service; nothing
// is looked up from globals.
type Deps struct {
	Store          accounts.Store
	Directory      directory.Client
	Custody        *custody.Manager
	Composer       *permissions.Composer
	Locker         locks.Locker
	Gate           *Gate
	Consent        *ConsentBuilder
	RedirectURI    string
	SecretValidity time.Duration
	Log            *zap.SugaredLogger
}

// Service drives the credential provisioning state machine:
// PendingManualSetup | Provisioning | Active | Error.
type Service struct {
	store          accounts.Store
	dir            directory.Client
	custody        *custody.Manager
	composer       *permissions.Composer
	locker         locks.Locker
	gate           *Gate
	consent        *ConsentBuilder
	redirectURI    string
	secretValidity time.Duration
	lockTTL        time.Duration
	log            *zap.SugaredLogger
}

func NewService(d Deps) *Service {
	return &Service{
		store:          d.Store,
		dir:            d.Directory,
		custody:        d.Custody,
		composer:       d.Composer,
		locker:         d.Locker,
		gate:           d.Gate,
		consent:        d.Consent,
		redirectURI:    d.RedirectURI,
		secretValidity: d.SecretValidity,
		lockTTL:        2 * time.Minute,
		log:            d.Log,
	}
}

// Onboard resolves the tenant identity, finds or creates the account, and
// either records a manual-setup placeholder or runs a full provisioning
// attempt. Re-running against an already provisioned tenant (looked up by
// resolved identifier, not payload equality) rotates credentials in place.
func (s *Service) Onboard(ctx context.Context, req ProvisionRequest) (accounts.TenantAccount, accounts.CredentialRecord, error) {
	resolved, err := identity.Resolve(req.TenantID, req.TenantDomain)
	if err != nil {
		return accounts.TenantAccount{}, accounts.CredentialRecord{}, err
	}

	if dec := s.gate.Evaluate(ctx, map[string]any{
		"tenantName":       req.TenantName,
		"tenantIdentifier": resolved.TenantIdentifier,
		"contactEmail":     req.ContactEmail,
		"skipAutoApp":      req.SkipAutoAppRegistration,
	}); !dec.Allowed {
		return accounts.TenantAccount{}, accounts.CredentialRecord{}, &BlockedError{Reasons: dec.Reasons}
	}

	// Single-writer discipline per resolved identifier.
	release, err := s.locker.Acquire(ctx, resolved.TenantIdentifier, s.lockTTL)
	if err != nil {
		if errors.Is(err, locks.ErrHeld) {
			return accounts.TenantAccount{}, accounts.CredentialRecord{}, ErrProvisioningInProgress
		}
		return accounts.TenantAccount{}, accounts.CredentialRecord{}, err
	}
	defer release()

	account, err := s.store.FindAccountByIdentifier(ctx, resolved.TenantIdentifier)
	switch {
	case err == nil:
		// Existing tenant: rotation, not duplication.
	case errors.Is(err, accounts.ErrNotFound):
		account = accounts.TenantAccount{
			ID:               uuid.NewString(),
			TenantIdentifier: resolved.TenantIdentifier,
			DisplayName:      req.TenantName,
			Domain:           strings.ToLower(req.TenantDomain),
			ContactEmail:     req.ContactEmail,
			Notes:            req.Notes,
			Status:           accounts.StatusPending,
		}
		if err := s.store.CreateAccount(ctx, account); err != nil {
			return accounts.TenantAccount{}, accounts.CredentialRecord{}, err
		}
	default:
		return accounts.TenantAccount{}, accounts.CredentialRecord{}, err
	}

	if req.SkipAutoAppRegistration {
		rec, err := s.writeManualSetup(ctx, account, resolved)
		return account, rec, err
	}

	rec, err := s.provision(ctx, &account, resolved)
	return account, rec, err
}

// Provision re-runs a full provisioning attempt for an existing account.
func (s *Service) Provision(ctx context.Context, accountID string) (accounts.CredentialRecord, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return accounts.CredentialRecord{}, err
	}
	resolved, err := identity.Resolve(account.TenantIdentifier, "")
	if err != nil {
		return accounts.CredentialRecord{}, err
	}
	release, err := s.locker.Acquire(ctx, resolved.TenantIdentifier, s.lockTTL)
	if err != nil {
		if errors.Is(err, locks.ErrHeld) {
			return accounts.CredentialRecord{}, ErrProvisioningInProgress
		}
		return accounts.CredentialRecord{}, err
	}
	defer release()
	return s.provision(ctx, &account, resolved)
}

// writeManualSetup records the terminal PendingManualSetup placeholder:
// synthetic identifiers, no directory calls, operator instructions attached.
func (s *Service) writeManualSetup(ctx context.Context, account accounts.TenantAccount, resolved identity.Resolved) (accounts.CredentialRecord, error) {
	rec := accounts.CredentialRecord{
		TenantAccountID:    account.ID,
		ApplicationID:      accounts.ManualSetupSentinel,
		ClientID:           accounts.ManualSetupSentinel,
		ServicePrincipalID: accounts.ManualSetupSentinel,
		Secret:             accounts.ManualSetupSecret(),
		RedirectURI:        s.redirectURI,
		AuthorityHint:      resolved.AuthorityHint,
		State:              accounts.StatePendingManualSetup,
		Troubleshooting: &accounts.Troubleshooting{
			Message: "Automatic app registration was skipped for this tenant.",
			Remediation: []string{
				"register an application in the tenant directory with the baseline permission set",
				"grant admin consent for the application",
				"store the resulting client id and secret on this account",
			},
		},
	}
	if cur, err := s.store.GetCredential(ctx, account.ID); err == nil {
		rec.Version = cur.Version
	}
	if err := s.store.UpsertCredential(ctx, rec); err != nil {
		return accounts.CredentialRecord{}, err
	}
	metrics.ProvisioningOutcomes.WithLabelValues("manual_setup").Inc()
	return rec, nil
}

// provision runs the five strictly sequential steps of Provisioning→Active:
// resolve (done by caller), compose baseline set, create app+SP, store the
// secret, persist the consent URL. Any failure lands the record in Error with
// one terminal write; nothing is partially committed.
func (s *Service) provision(ctx context.Context, account *accounts.TenantAccount, resolved identity.Resolved) (accounts.CredentialRecord, error) {
	version := 0
	if cur, err := s.store.GetCredential(ctx, account.ID); err == nil {
		version = cur.Version
	} else if !errors.Is(err, accounts.ErrNotFound) {
		return accounts.CredentialRecord{}, err
	}

	rec := accounts.CredentialRecord{
		TenantAccountID:    account.ID,
		ApplicationID:      accounts.PlaceholderAppID,
		ClientID:           accounts.PlaceholderClientID,
		ServicePrincipalID: accounts.PlaceholderSPID,
		RedirectURI:        s.redirectURI,
		AuthorityHint:      resolved.AuthorityHint,
		State:              accounts.StateProvisioning,
		Version:            version,
	}
	if err := s.store.UpsertCredential(ctx, rec); err != nil {
		return accounts.CredentialRecord{}, err
	}
	rec.Version++

	baseline := s.composer.Baseline()
	access, err := s.composer.ResourceAccess(baseline)
	if err != nil {
		return s.fail(ctx, rec, err)
	}

	app, err := s.dir.CreateApplicationAndServicePrincipal(ctx, resolved.TenantIdentifier, account.DisplayName, access)
	if err != nil {
		return s.fail(ctx, rec, err)
	}

	loc := s.custody.Store(ctx, account.ID, app.ClientSecret)
	issued := time.Now().UTC()
	expires := issued.Add(s.secretValidity)

	// Finalize the authority: the directory's resolution wins; a domain hint
	// the directory could not pin falls back to the common authority.
	authority := resolved.AuthorityHint
	if app.ResolvedAuthority != "" {
		authority = app.ResolvedAuthority
	} else if !identity.IsGUID(authority) {
		authority = identity.CommonAuthority
	}

	st := ConsentState{
		CustomerID:       account.ID,
		TenantIdentifier: resolved.TenantIdentifier,
		RequestID:        uuid.NewString(),
		Timestamp:        time.Now().UTC().Truncate(time.Second),
	}
	consentURL, err := s.consent.BuildConsentURL(authority, app.ClientID, st)
	if err != nil {
		return s.fail(ctx, rec, err)
	}

	rec.ApplicationID = app.ApplicationID
	rec.ClientID = app.ClientID
	rec.ServicePrincipalID = app.ServicePrincipalID
	rec.Secret = loc
	rec.GrantedPermissions = baseline
	rec.ConsentURL = consentURL
	rec.AuthorityHint = authority
	rec.State = accounts.StateActive
	rec.SecretIssuedAt = &issued
	rec.SecretExpiresAt = &expires
	rec.Troubleshooting = nil
	rec.ConsentError = ""
	if err := s.store.UpsertCredential(ctx, rec); err != nil {
		return accounts.CredentialRecord{}, err
	}
	rec.Version++

	account.Status = accounts.StatusActive
	if err := s.store.UpdateAccount(ctx, *account); err != nil {
		s.log.Warnw("account status update failed", "account", account.ID, "err", err)
	}
	metrics.ProvisioningOutcomes.WithLabelValues("active").Inc()
	s.log.Infow("tenant provisioned", "account", account.ID, "client_id", rec.ClientID, "secret_kind", string(rec.Secret.Kind))
	return rec, nil
}

// fail commits the terminal Error state with sentinel identifiers and a
// troubleshooting payload, then returns the cause. Error records are never
// retried automatically; a fresh attempt is a new explicit request.
func (s *Service) fail(ctx context.Context, rec accounts.CredentialRecord, cause error) (accounts.CredentialRecord, error) {
	rec.ApplicationID = accounts.ErrorSentinel
	rec.ClientID = accounts.ErrorSentinel
	rec.ServicePrincipalID = accounts.ErrorSentinel
	rec.Secret = accounts.ProvisioningErrorSecret(cause.Error())
	rec.State = accounts.StateError
	rec.Troubleshooting = &accounts.Troubleshooting{
		Message:     cause.Error(),
		Remediation: remediationFor(cause),
	}
	if err := s.store.UpsertCredential(ctx, rec); err != nil {
		s.log.Errorw("error-state write failed", "account", rec.TenantAccountID, "err", err)
	}
	metrics.ProvisioningOutcomes.WithLabelValues("error").Inc()
	return rec, cause
}

func remediationFor(cause error) []string {
	var de *directory.Error
	if errors.As(cause, &de) && len(de.Remediation) > 0 {
		return de.Remediation
	}
	var up *permissions.UnknownPermissionError
	if errors.As(cause, &up) {
		return []string{fmt.Sprintf("remove or map permission %q in the feature group table", up.Name)}
	}
	return []string{
		"inspect the troubleshooting message for the failing step",
		"submit a fresh provisioning request once the cause is fixed",
	}
}

// HandleConsentCallback verifies the returning state token and records the
// consent outcome on the credential record.
func (s *Service) HandleConsentCallback(ctx context.Context, cb ConsentCallback) (accounts.CredentialRecord, error) {
	st, err := s.consent.ParseState(cb.State)
	if err != nil {
		metrics.ConsentCallbacks.WithLabelValues("invalid_state").Inc()
		return accounts.CredentialRecord{}, err
	}
	rec, err := s.store.GetCredential(ctx, st.CustomerID)
	if err != nil {
		return accounts.CredentialRecord{}, err
	}
	now := time.Now().UTC()
	if cb.AdminConsent {
		rec.ConsentGrantedAt = &now
		rec.ConsentError = ""
		metrics.ConsentCallbacks.WithLabelValues("granted").Inc()
	} else {
		reason := cb.Error
		if reason == "" {
			reason = "admin consent was declined"
		}
		rec.ConsentError = reason
		metrics.ConsentCallbacks.WithLabelValues("denied").Inc()
	}
	if err := s.store.UpsertCredential(ctx, rec); err != nil {
		return accounts.CredentialRecord{}, err
	}
	rec.Version++
	return rec, nil
}

// GrantedPermissions returns the permission names the record requested and,
// when the credentials are usable, the names actually granted in the tenant
// directory. Unmapped role ids pass through raw rather than being dropped.
func (s *Service) GrantedPermissions(ctx context.Context, accountID string) (requested, granted []string, err error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	rec, err := s.store.GetCredential(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	if !rec.Usable() {
		return rec.GrantedPermissions, nil, nil
	}
	ids, err := s.dir.GetCurrentGrantedPermissions(ctx, account.TenantIdentifier, rec.ClientID)
	if err != nil {
		return nil, nil, err
	}
	granted = make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := permissions.PermissionName(id); ok {
			granted = append(granted, name)
		} else {
			granted = append(granted, id)
		}
	}
	sort.Strings(granted)
	return rec.GrantedPermissions, granted, nil
}

// EnsurePermissions composes the requested feature groups against what the
// record already carries and pushes the directory update when the set grew.
// Returns the composition and whether a fresh consent prompt is required.
func (s *Service) EnsurePermissions(ctx context.Context, accountID string, selectedGroups, extra []string, replaceAll bool) (permissions.Composition, bool, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return permissions.Composition{}, false, err
	}
	rec, err := s.store.GetCredential(ctx, accountID)
	if err != nil {
		return permissions.Composition{}, false, err
	}
	if rec.State != accounts.StateActive {
		return permissions.Composition{}, false, fmt.Errorf("credentials are %s, not ACTIVE", rec.State)
	}
	comp, err := s.composer.Compose(selectedGroups, rec.GrantedPermissions, extra, replaceAll)
	if err != nil {
		return permissions.Composition{}, false, err
	}
	changed := len(comp.NewlyAdded) > 0 || len(comp.Final) != len(rec.GrantedPermissions)
	if changed {
		access, err := s.composer.ResourceAccess(comp.Final)
		if err != nil {
			return permissions.Composition{}, false, err
		}
		if err := s.dir.UpdateRequiredPermissions(ctx, account.TenantIdentifier, rec.ApplicationID, access); err != nil {
			return permissions.Composition{}, false, err
		}
		rec.GrantedPermissions = comp.Final
		if err := s.store.UpsertCredential(ctx, rec); err != nil {
			return permissions.Composition{}, false, err
		}
	}
	return comp, len(comp.NewlyAdded) > 0, nil
}
