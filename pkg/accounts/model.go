package accounts

import "time"

type AccountStatus string

const (
	StatusPending  AccountStatus = "pending"
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
)

// TenantAccount represents one onboarded customer organization.
// TenantIdentifier holds the resolved directory id or lower-cased domain and
// is immutable once set; changing it means creating a new account.
type TenantAccount struct {
	ID                 string // uuid
	TenantIdentifier   string
	DisplayName        string
	Domain             string
	ContactEmail       string
	Notes              string
	Status             AccountStatus
	TotalAssessments   int
	LastAssessmentDate *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type ProvisioningState string

const (
	StatePendingManualSetup ProvisioningState = "PENDING_MANUAL_SETUP"
	StateProvisioning       ProvisioningState = "PROVISIONING"
	StateActive             ProvisioningState = "ACTIVE"
	StateError              ProvisioningState = "ERROR"
)

// Identifier sentinels. Placeholders are valid only while provisioning is in
// flight or skipped; the error sentinel marks a failed directory creation.
const (
	PlaceholderAppID     = "pending-application"
	PlaceholderClientID  = "pending-client"
	PlaceholderSPID      = "pending-service-principal"
	ErrorSentinel        = "ERROR_DURING_CREATION"
	ManualSetupSentinel  = "MANUAL_SETUP_REQUIRED"
)

type SecretLocationKind string

const (
	SecretInline            SecretLocationKind = "inline"
	SecretVaulted           SecretLocationKind = "vaulted"
	SecretManualSetup       SecretLocationKind = "manual_setup"
	SecretProvisioningError SecretLocationKind = "provisioning_error"
)

// SecretLocation is a closed variant: exactly one payload field is meaningful
// for a given Kind. Callers branch on Kind only at the custody boundary.
type SecretLocation struct {
	Kind           SecretLocationKind `json:"kind"`
	SecretValue    string             `json:"secret_value,omitempty"`    // inline
	VaultReference string             `json:"vault_reference,omitempty"` // vaulted
	Detail         string             `json:"detail,omitempty"`          // provisioning_error
}

func InlineSecret(v string) SecretLocation  { return SecretLocation{Kind: SecretInline, SecretValue: v} }
func VaultedSecret(ref string) SecretLocation {
	return SecretLocation{Kind: SecretVaulted, VaultReference: ref}
}
func ManualSetupSecret() SecretLocation { return SecretLocation{Kind: SecretManualSetup} }
func ProvisioningErrorSecret(detail string) SecretLocation {
	return SecretLocation{Kind: SecretProvisioningError, Detail: detail}
}

// Troubleshooting is the operator-facing payload stored on failed provisioning
// attempts: what went wrong and what to do about it.
type Troubleshooting struct {
	Message     string   `json:"message"`
	Remediation []string `json:"remediation"`
}

// CredentialRecord is the single current credential set for a tenant account.
// Invariant: State==StateActive implies Secret.Kind is inline or vaulted and
// ApplicationID/ClientID are non-placeholder.
type CredentialRecord struct {
	TenantAccountID    string
	ApplicationID      string
	ClientID           string
	ServicePrincipalID string
	Secret             SecretLocation
	GrantedPermissions []string // set semantics; deduplicated, order irrelevant
	ConsentURL         string
	RedirectURI        string
	AuthorityHint      string
	State              ProvisioningState
	SecretIssuedAt     *time.Time
	SecretExpiresAt    *time.Time
	ConsentGrantedAt   *time.Time
	ConsentError       string
	Troubleshooting    *Troubleshooting
	Version            int // optimistic write guard
	UpdatedAt          time.Time
}

// Usable reports whether the record can authenticate against the directory.
func (c CredentialRecord) Usable() bool {
	if c.State != StateActive {
		return false
	}
	switch c.Secret.Kind {
	case SecretInline, SecretVaulted:
		return c.ClientID != "" && c.ClientID != PlaceholderClientID && c.ClientID != ErrorSentinel
	default:
		return false
	}
}

type CategoryStatus string

const (
	CategorySuccess     CategoryStatus = "success"
	CategoryUnavailable CategoryStatus = "unavailable"
)

// CategoryResult records the outcome of one assessment category fetch.
type CategoryResult struct {
	Status  CategoryStatus `json:"status"`
	Payload map[string]any `json:"payload,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

type OverallStatus string

const (
	OverallCompleted         OverallStatus = "COMPLETED"
	OverallCompletedDegraded OverallStatus = "COMPLETED_DEGRADED"
)

// AssessmentResult is immutable once created; a later run supersedes it.
// Categories always has exactly one entry per requested category.
type AssessmentResult struct {
	ID                  string
	TenantAccountID     string
	RequestedCategories []string
	Categories          map[string]CategoryResult
	OverallStatus       OverallStatus
	OverallScore        float64
	CreatedAt           time.Time
}
