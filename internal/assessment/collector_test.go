// internal/assessment/collector_test.go
package assessment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"entrascope/internal/custody"
	"entrascope/pkg/accounts"
)

type fakeSource struct {
	cat     string
	payload map[string]any
	err     error
	delay   time.Duration

	mu    sync.Mutex
	creds SourceCredentials
	calls int
}

func (f *fakeSource) Category() string { return f.cat }

func (f *fakeSource) Fetch(ctx context.Context, creds SourceCredentials) (map[string]any, error) {
	f.mu.Lock()
	f.creds = creds
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func seedAccount(t *testing.T, store accounts.Store, state accounts.ProvisioningState) accounts.TenantAccount {
	t.Helper()
	ctx := context.Background()
	account := accounts.TenantAccount{
		ID:               "acc-1",
		TenantIdentifier: "contoso.com",
		DisplayName:      "Contoso",
		Status:           accounts.StatusActive,
	}
	require.NoError(t, store.CreateAccount(ctx, account))
	rec := accounts.CredentialRecord{
		TenantAccountID:    account.ID,
		ApplicationID:      "obj-1",
		ClientID:           "app-1",
		ServicePrincipalID: "sp-1",
		Secret:             accounts.InlineSecret("s3cr3t"),
		AuthorityHint:      "f47ac10b-58cc-4372-a567-0e02b2c3d479",
		State:              state,
	}
	if state == accounts.StateError {
		rec.Secret = accounts.ProvisioningErrorSecret("directory rejected the request")
	}
	require.NoError(t, store.UpsertCredential(ctx, rec))
	return account
}

func newCollector(t *testing.T, store accounts.Store, srcs ...Source) *Collector {
	t.Helper()
	log := zap.NewNop().Sugar()
	scorer, err := NewScorer("80:85,60:75,40:65,0:50", 50)
	require.NoError(t, err)
	return NewCollector(store, custody.NewManager(nil, log), srcs, scorer, 2*time.Second, log)
}

func TestRunAllCategoriesSucceed(t *testing.T) {
	store := accounts.NewMemoryStore(zap.NewNop().Sugar())
	account := seedAccount(t, store, accounts.StateActive)
	c := newCollector(t, store,
		&fakeSource{cat: CategorySecureScore, payload: secureScorePayload(42, 60)},
		&fakeSource{cat: CategoryLicense, payload: licensePayload(90, 100)},
	)

	res, err := c.Run(context.Background(), account.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, accounts.OverallCompleted, res.OverallStatus)
	assert.Equal(t, 70.0, res.OverallScore)
	require.Len(t, res.Categories, 2)
	for cat, r := range res.Categories {
		assert.Equal(t, accounts.CategorySuccess, r.Status, cat)
	}

	// Result is persisted and the account counter advanced.
	stored, err := store.GetAssessment(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.OverallScore, stored.OverallScore)
	acc, err := store.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, acc.TotalAssessments)
	require.NotNil(t, acc.LastAssessmentDate)
}

func TestRunPartialFailure(t *testing.T) {
	store := accounts.NewMemoryStore(zap.NewNop().Sugar())
	account := seedAccount(t, store, accounts.StateActive)
	c := newCollector(t, store,
		&fakeSource{cat: CategorySecureScore, err: errors.New("upstream status 503")},
		&fakeSource{cat: CategoryLicense, payload: licensePayload(90, 100)},
		&fakeSource{cat: CategoryIdentityAccess, payload: map[string]any{"value": []any{}}},
	)

	res, err := c.Run(context.Background(), account.ID, []string{CategorySecureScore, CategoryLicense, CategoryIdentityAccess})
	require.NoError(t, err)
	assert.Equal(t, accounts.OverallCompleted, res.OverallStatus, "partial success is still a completed run")
	assert.Equal(t, 85.0, res.OverallScore, "license utilization scores when secure score is down")

	// Exactly one entry per requested category, no more, no less.
	assert.Len(t, res.Categories, 3)
	assert.Equal(t, accounts.CategoryUnavailable, res.Categories[CategorySecureScore].Status)
	assert.Contains(t, res.Categories[CategorySecureScore].Reason, "503")
	assert.Equal(t, accounts.CategorySuccess, res.Categories[CategoryLicense].Status)
}

func TestRunAllFailStillPersisted(t *testing.T) {
	store := accounts.NewMemoryStore(zap.NewNop().Sugar())
	account := seedAccount(t, store, accounts.StateActive)
	c := newCollector(t, store,
		&fakeSource{cat: CategorySecureScore, err: errors.New("boom")},
		&fakeSource{cat: CategoryLicense, err: errors.New("boom")},
	)

	res, err := c.Run(context.Background(), account.ID, nil)
	require.NoError(t, err, "a fully failed collection is still a completed run")
	assert.Equal(t, accounts.OverallCompletedDegraded, res.OverallStatus)
	assert.Equal(t, 50.0, res.OverallScore)

	_, err = store.GetAssessment(context.Background(), res.ID)
	require.NoError(t, err)
}

func TestRunTimeoutMarksCategory(t *testing.T) {
	store := accounts.NewMemoryStore(zap.NewNop().Sugar())
	account := seedAccount(t, store, accounts.StateActive)
	log := zap.NewNop().Sugar()
	scorer, err := NewScorer("0:50", 50)
	require.NoError(t, err)
	c := NewCollector(store, custody.NewManager(nil, log), []Source{
		&fakeSource{cat: CategoryLicense, delay: time.Second, payload: licensePayload(1, 2)},
	}, scorer, 20*time.Millisecond, log)

	res, err := c.Run(context.Background(), account.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, accounts.CategoryUnavailable, res.Categories[CategoryLicense].Status)
	assert.Equal(t, "timeout", res.Categories[CategoryLicense].Reason)
}

func TestRunCredentialsNotReady(t *testing.T) {
	store := accounts.NewMemoryStore(zap.NewNop().Sugar())
	account := seedAccount(t, store, accounts.StateError)
	c := newCollector(t, store, &fakeSource{cat: CategoryLicense, payload: licensePayload(1, 2)})

	_, err := c.Run(context.Background(), account.ID, nil)
	require.ErrorIs(t, err, ErrCredentialsNotReady)
}

func TestRunNoCredentialRecord(t *testing.T) {
	store := accounts.NewMemoryStore(zap.NewNop().Sugar())
	require.NoError(t, store.CreateAccount(context.Background(), accounts.TenantAccount{ID: "acc-2", TenantIdentifier: "x.com"}))
	c := newCollector(t, store, &fakeSource{cat: CategoryLicense})

	_, err := c.Run(context.Background(), "acc-2", nil)
	require.ErrorIs(t, err, ErrCredentialsNotReady)
}

func TestRunUnknownCategory(t *testing.T) {
	store := accounts.NewMemoryStore(zap.NewNop().Sugar())
	account := seedAccount(t, store, accounts.StateActive)
	c := newCollector(t, store, &fakeSource{cat: CategoryLicense, payload: licensePayload(1, 2)})

	_, err := c.Run(context.Background(), account.ID, []string{"nope"})
	var uc *UnknownCategoryError
	require.ErrorAs(t, err, &uc)
	assert.Equal(t, "nope", uc.Category)
}

func TestRunPassesTenantCredentials(t *testing.T) {
	store := accounts.NewMemoryStore(zap.NewNop().Sugar())
	account := seedAccount(t, store, accounts.StateActive)
	src := &fakeSource{cat: CategoryLicense, payload: licensePayload(1, 2)}
	c := newCollector(t, store, src)

	_, err := c.Run(context.Background(), account.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "app-1", src.creds.ClientID)
	assert.Equal(t, "s3cr3t", src.creds.ClientSecret)
	assert.Equal(t, "contoso.com", src.creds.TenantIdentifier)
	assert.Equal(t, "f47ac10b-58cc-4372-a567-0e02b2c3d479", src.creds.Authority)
	assert.Equal(t, 1, src.calls)
}
