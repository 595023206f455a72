// pkg/accounts/memory.go
package accounts

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// memStore is the dev fallback used when DATABASE_URL is unset. It is also
// what most package tests run against.
type memStore struct {
	log *zap.SugaredLogger

	mu           sync.RWMutex
	accounts     map[string]TenantAccount    // by id
	byIdentifier map[string]string           // tenant identifier -> account id
	credentials  map[string]CredentialRecord // by account id
	assessments  map[string]AssessmentResult // by assessment id
}

func NewMemoryStore(log *zap.SugaredLogger) Store {
	return &memStore{
		log:          log,
		accounts:     map[string]TenantAccount{},
		byIdentifier: map[string]string{},
		credentials:  map[string]CredentialRecord{},
		assessments:  map[string]AssessmentResult{},
	}
}

func (m *memStore) CreateAccount(ctx context.Context, a TenantAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	m.accounts[a.ID] = a
	m.byIdentifier[a.TenantIdentifier] = a.ID
	return nil
}

func (m *memStore) GetAccount(ctx context.Context, id string) (TenantAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.accounts[id]; ok {
		return a, nil
	}
	return TenantAccount{}, ErrNotFound
}

func (m *memStore) FindAccountByIdentifier(ctx context.Context, tenantIdentifier string) (TenantAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.byIdentifier[tenantIdentifier]; ok {
		return m.accounts[id], nil
	}
	return TenantAccount{}, ErrNotFound
}

func (m *memStore) UpdateAccount(ctx context.Context, a TenantAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.accounts[a.ID]
	if !ok {
		return ErrNotFound
	}
	// identifier immutable; counters owned by RecordAssessmentRun
	a.TenantIdentifier = cur.TenantIdentifier
	a.TotalAssessments = cur.TotalAssessments
	a.LastAssessmentDate = cur.LastAssessmentDate
	a.CreatedAt = cur.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	m.accounts[a.ID] = a
	return nil
}

func (m *memStore) RecordAssessmentRun(ctx context.Context, accountID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.TotalAssessments++
	t := at.UTC()
	a.LastAssessmentDate = &t
	a.UpdatedAt = time.Now().UTC()
	m.accounts[accountID] = a
	return nil
}

func (m *memStore) UpsertCredential(ctx context.Context, rec CredentialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.credentials[rec.TenantAccountID]
	if exists && cur.Version != rec.Version {
		return ErrVersionConflict
	}
	if !exists && rec.Version != 0 {
		return ErrVersionConflict
	}
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	m.credentials[rec.TenantAccountID] = rec
	return nil
}

func (m *memStore) GetCredential(ctx context.Context, accountID string) (CredentialRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.credentials[accountID]; ok {
		return rec, nil
	}
	return CredentialRecord{}, ErrNotFound
}

func (m *memStore) SaveAssessment(ctx context.Context, res AssessmentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assessments[res.ID] = res
	return nil
}

func (m *memStore) GetAssessment(ctx context.Context, id string) (AssessmentResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if res, ok := m.assessments[id]; ok {
		return res, nil
	}
	return AssessmentResult{}, ErrNotFound
}
