// pkg/accounts/postgres.go
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgStore implements Store backed by PostgreSQL.
type pgStore struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresStore constructs a PostgreSQL-backed account store.
func NewPostgresStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Store {
	return &pgStore{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenant_accounts (
  id uuid PRIMARY KEY,
  tenant_identifier text UNIQUE NOT NULL,
  display_name text,
  domain text,
  contact_email text,
  notes text,
  status text NOT NULL DEFAULT 'pending',
  total_assessments int NOT NULL DEFAULT 0,
  last_assessment_date timestamptz,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS credential_records (
  tenant_account_id uuid PRIMARY KEY REFERENCES tenant_accounts(id) ON DELETE CASCADE,
  application_id text,
  client_id text,
  service_principal_id text,
  secret_location jsonb NOT NULL DEFAULT '{}'::jsonb,
  granted_permissions text[] DEFAULT '{}',
  consent_url text,
  redirect_uri text,
  authority_hint text,
  provisioning_state text NOT NULL,
  secret_issued_at timestamptz,
  secret_expires_at timestamptz,
  consent_granted_at timestamptz,
  consent_error text,
  troubleshooting jsonb,
  version int NOT NULL DEFAULT 1,
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS assessment_results (
  id uuid PRIMARY KEY,
  tenant_account_id uuid NOT NULL REFERENCES tenant_accounts(id) ON DELETE CASCADE,
  requested_categories text[] NOT NULL,
  category_results jsonb NOT NULL DEFAULT '{}'::jsonb,
  overall_status text NOT NULL,
  overall_score double precision NOT NULL,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
-- Backfill / ensure new columns exist (for upgrades)
ALTER TABLE credential_records ADD COLUMN IF NOT EXISTS consent_granted_at timestamptz;
ALTER TABLE credential_records ADD COLUMN IF NOT EXISTS consent_error text;
ALTER TABLE credential_records ADD COLUMN IF NOT EXISTS version int NOT NULL DEFAULT 1;
CREATE INDEX IF NOT EXISTS assessment_results_account_idx ON assessment_results(tenant_account_id, created_at DESC);
`)
	return err
}

func (s *pgStore) CreateAccount(ctx context.Context, a TenantAccount) error {
	_, err := s.dbPool.Exec(ctx, `INSERT INTO tenant_accounts(id,tenant_identifier,display_name,domain,contact_email,notes,status,created_at,updated_at)
	  VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())`,
		a.ID, a.TenantIdentifier, a.DisplayName, a.Domain, a.ContactEmail, a.Notes, string(a.Status))
	return err
}

const accountCols = `id,tenant_identifier,COALESCE(display_name,''),COALESCE(domain,''),COALESCE(contact_email,''),COALESCE(notes,''),status,total_assessments,last_assessment_date,created_at,updated_at`

func (s *pgStore) scanAccount(row pgx.Row) (TenantAccount, error) {
	var a TenantAccount
	var status string
	if err := row.Scan(&a.ID, &a.TenantIdentifier, &a.DisplayName, &a.Domain, &a.ContactEmail, &a.Notes,
		&status, &a.TotalAssessments, &a.LastAssessmentDate, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TenantAccount{}, ErrNotFound
		}
		return TenantAccount{}, err
	}
	a.Status = AccountStatus(status)
	return a, nil
}

func (s *pgStore) GetAccount(ctx context.Context, id string) (TenantAccount, error) {
	return s.scanAccount(s.dbPool.QueryRow(ctx, `SELECT `+accountCols+` FROM tenant_accounts WHERE id=$1`, id))
}

func (s *pgStore) FindAccountByIdentifier(ctx context.Context, tenantIdentifier string) (TenantAccount, error) {
	return s.scanAccount(s.dbPool.QueryRow(ctx, `SELECT `+accountCols+` FROM tenant_accounts WHERE tenant_identifier=$1`, tenantIdentifier))
}

func (s *pgStore) UpdateAccount(ctx context.Context, a TenantAccount) error {
	// tenant_identifier is deliberately not updatable.
	tag, err := s.dbPool.Exec(ctx, `UPDATE tenant_accounts
	  SET display_name=$2, domain=$3, contact_email=$4, notes=$5, status=$6, updated_at=NOW()
	  WHERE id=$1`, a.ID, a.DisplayName, a.Domain, a.ContactEmail, a.Notes, string(a.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) RecordAssessmentRun(ctx context.Context, accountID string, at time.Time) error {
	tag, err := s.dbPool.Exec(ctx, `UPDATE tenant_accounts
	  SET total_assessments = total_assessments + 1, last_assessment_date=$2, updated_at=NOW()
	  WHERE id=$1`, accountID, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) UpsertCredential(ctx context.Context, rec CredentialRecord) error {
	secretJSON, err := json.Marshal(rec.Secret)
	if err != nil {
		return err
	}
	var tsJSON []byte
	if rec.Troubleshooting != nil {
		tsJSON, _ = json.Marshal(rec.Troubleshooting)
	}
	// Optimistic write: version must match the stored row (0 means fresh).
	tag, err := s.dbPool.Exec(ctx, `INSERT INTO credential_records
	  (tenant_account_id,application_id,client_id,service_principal_id,secret_location,granted_permissions,
	   consent_url,redirect_uri,authority_hint,provisioning_state,secret_issued_at,secret_expires_at,
	   consent_granted_at,consent_error,troubleshooting,version,updated_at)
	  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,1,NOW())
	  ON CONFLICT (tenant_account_id) DO UPDATE SET
	    application_id=EXCLUDED.application_id, client_id=EXCLUDED.client_id,
	    service_principal_id=EXCLUDED.service_principal_id, secret_location=EXCLUDED.secret_location,
	    granted_permissions=EXCLUDED.granted_permissions, consent_url=EXCLUDED.consent_url,
	    redirect_uri=EXCLUDED.redirect_uri, authority_hint=EXCLUDED.authority_hint,
	    provisioning_state=EXCLUDED.provisioning_state, secret_issued_at=EXCLUDED.secret_issued_at,
	    secret_expires_at=EXCLUDED.secret_expires_at, consent_granted_at=EXCLUDED.consent_granted_at,
	    consent_error=EXCLUDED.consent_error, troubleshooting=EXCLUDED.troubleshooting,
	    version=credential_records.version+1, updated_at=NOW()
	  WHERE credential_records.version=$16`,
		rec.TenantAccountID, rec.ApplicationID, rec.ClientID, rec.ServicePrincipalID, secretJSON,
		rec.GrantedPermissions, rec.ConsentURL, rec.RedirectURI, rec.AuthorityHint, string(rec.State),
		rec.SecretIssuedAt, rec.SecretExpiresAt, rec.ConsentGrantedAt, rec.ConsentError, tsJSON, rec.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *pgStore) GetCredential(ctx context.Context, accountID string) (CredentialRecord, error) {
	row := s.dbPool.QueryRow(ctx, `SELECT tenant_account_id,COALESCE(application_id,''),COALESCE(client_id,''),
	  COALESCE(service_principal_id,''),secret_location,granted_permissions,COALESCE(consent_url,''),
	  COALESCE(redirect_uri,''),COALESCE(authority_hint,''),provisioning_state,secret_issued_at,
	  secret_expires_at,consent_granted_at,COALESCE(consent_error,''),troubleshooting,version,updated_at
	  FROM credential_records WHERE tenant_account_id=$1`, accountID)
	var rec CredentialRecord
	var state string
	var secretJSON, tsJSON []byte
	if err := row.Scan(&rec.TenantAccountID, &rec.ApplicationID, &rec.ClientID, &rec.ServicePrincipalID,
		&secretJSON, &rec.GrantedPermissions, &rec.ConsentURL, &rec.RedirectURI, &rec.AuthorityHint,
		&state, &rec.SecretIssuedAt, &rec.SecretExpiresAt, &rec.ConsentGrantedAt, &rec.ConsentError,
		&tsJSON, &rec.Version, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CredentialRecord{}, ErrNotFound
		}
		return CredentialRecord{}, err
	}
	rec.State = ProvisioningState(state)
	_ = json.Unmarshal(secretJSON, &rec.Secret)
	if len(tsJSON) > 0 {
		var ts Troubleshooting
		if err := json.Unmarshal(tsJSON, &ts); err == nil {
			rec.Troubleshooting = &ts
		}
	}
	return rec, nil
}

func (s *pgStore) SaveAssessment(ctx context.Context, res AssessmentResult) error {
	catJSON, err := json.Marshal(res.Categories)
	if err != nil {
		return err
	}
	_, err = s.dbPool.Exec(ctx, `INSERT INTO assessment_results(id,tenant_account_id,requested_categories,category_results,overall_status,overall_score,created_at)
	  VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		res.ID, res.TenantAccountID, res.RequestedCategories, catJSON, string(res.OverallStatus), res.OverallScore, res.CreatedAt.UTC())
	return err
}

func (s *pgStore) GetAssessment(ctx context.Context, id string) (AssessmentResult, error) {
	row := s.dbPool.QueryRow(ctx, `SELECT id,tenant_account_id,requested_categories,category_results,overall_status,overall_score,created_at
	  FROM assessment_results WHERE id=$1`, id)
	var res AssessmentResult
	var status string
	var catJSON []byte
	if err := row.Scan(&res.ID, &res.TenantAccountID, &res.RequestedCategories, &catJSON, &status, &res.OverallScore, &res.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AssessmentResult{}, ErrNotFound
		}
		return AssessmentResult{}, err
	}
	res.OverallStatus = OverallStatus(status)
	if err := json.Unmarshal(catJSON, &res.Categories); err != nil {
		return AssessmentResult{}, err
	}
	return res, nil
}
