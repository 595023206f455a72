package accounts

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("credential record was modified concurrently")
)

// Store persists tenant accounts, their credential records and assessment
// results. Absence is reported as ErrNotFound, never as a scan error.
type Store interface {
	CreateAccount(ctx context.Context, a TenantAccount) error
	GetAccount(ctx context.Context, id string) (TenantAccount, error)
	// FindAccountByIdentifier looks up by resolved tenant identifier; this is
	// the key used to detect re-provisioning of an existing tenant.
	FindAccountByIdentifier(ctx context.Context, tenantIdentifier string) (TenantAccount, error)
	UpdateAccount(ctx context.Context, a TenantAccount) error
	// RecordAssessmentRun bumps the monotone assessment counter and stamp.
	RecordAssessmentRun(ctx context.Context, accountID string, at time.Time) error

	// UpsertCredential writes the single current record for an account.
	// The record's Version must match the stored one (0 for a fresh record)
	// or ErrVersionConflict is returned; on success the stored version is
	// incremented.
	UpsertCredential(ctx context.Context, rec CredentialRecord) error
	GetCredential(ctx context.Context, accountID string) (CredentialRecord, error)

	SaveAssessment(ctx context.Context, res AssessmentResult) error
	GetAssessment(ctx context.Context, id string) (AssessmentResult, error)
}
