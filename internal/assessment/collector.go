// internal/assessment/collector.go
package assessment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"entrascope/internal/custody"
	"entrascope/internal/metrics"
	"entrascope/pkg/accounts"
)

// Category keys. A payload's shape is private to its source; only the scorer
// knows which payloads feed the score.
const (
	CategoryLicense        = "license"
	CategorySecureScore    = "secure-score"
	CategoryIdentityAccess = "identity-access"
)

var ErrCredentialsNotReady = errors.New("tenant credentials are not ready for assessment")

// UnknownCategoryError is returned before any fetch starts.
type UnknownCategoryError struct{ Category string }

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown assessment category %q", e.Category)
}

// SourceCredentials is the per-tenant identity a source authenticates with.
type SourceCredentials struct {
	TenantIdentifier string
	Authority        string
	ClientID         string
	ClientSecret     string
}

// Source fetches one category's raw payload from the tenant's environment.
// A returned error marks only that category unavailable, never the run.
type Source interface {
	Category() string
	Fetch(ctx context.Context, creds SourceCredentials) (map[string]any, error)
}

// Collector runs a full assessment: fan out the requested categories,
// tolerate per-category failure, score what came back, persist the result.
type Collector struct {
	store   accounts.Store
	custody *custody.Manager
	sources map[string]Source
	scorer  *Scorer
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewCollector(store accounts.Store, cm *custody.Manager, sources []Source, scorer *Scorer, timeout time.Duration, log *zap.SugaredLogger) *Collector {
	byCat := make(map[string]Source, len(sources))
	for _, s := range sources {
		byCat[s.Category()] = s
	}
	return &Collector{store: store, custody: cm, sources: byCat, scorer: scorer, timeout: timeout, log: log}
}

// Categories lists the registered category keys, sorted.
func (c *Collector) Categories() []string {
	out := make([]string, 0, len(c.sources))
	for k := range c.sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Run executes one assessment for the account. An empty category list means
// all registered categories. The result always carries exactly one entry per
// requested category; a run with zero successes is still persisted, as
// COMPLETED_DEGRADED.
func (c *Collector) Run(ctx context.Context, accountID string, requested []string) (accounts.AssessmentResult, error) {
	account, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return accounts.AssessmentResult{}, err
	}
	rec, err := c.store.GetCredential(ctx, accountID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return accounts.AssessmentResult{}, ErrCredentialsNotReady
		}
		return accounts.AssessmentResult{}, err
	}
	if !rec.Usable() {
		return accounts.AssessmentResult{}, fmt.Errorf("%w: record is %s", ErrCredentialsNotReady, rec.State)
	}
	secret, err := c.custody.Retrieve(ctx, rec)
	if err != nil {
		if errors.Is(err, custody.ErrSecretNotReady) {
			return accounts.AssessmentResult{}, fmt.Errorf("%w: %v", ErrCredentialsNotReady, err)
		}
		return accounts.AssessmentResult{}, err
	}

	authority := rec.AuthorityHint
	if authority == "" {
		authority = account.TenantIdentifier
	}
	creds := SourceCredentials{
		TenantIdentifier: account.TenantIdentifier,
		Authority:        authority,
		ClientID:         rec.ClientID,
		ClientSecret:     secret,
	}

	if len(requested) == 0 {
		requested = c.Categories()
	}
	srcs := make([]Source, len(requested))
	for i, cat := range requested {
		s, ok := c.sources[cat]
		if !ok {
			return accounts.AssessmentResult{}, &UnknownCategoryError{Category: cat}
		}
		srcs[i] = s
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results := make([]accounts.CategoryResult, len(requested))
	var wg sync.WaitGroup
	for i, src := range srcs {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			payload, err := src.Fetch(runCtx, creds)
			if err != nil {
				reason := err.Error()
				if errors.Is(err, context.DeadlineExceeded) || runCtx.Err() != nil {
					reason = "timeout"
				}
				results[i] = accounts.CategoryResult{Status: accounts.CategoryUnavailable, Reason: reason}
				metrics.CategoryFetches.WithLabelValues(src.Category(), "unavailable").Inc()
				c.log.Warnw("category fetch failed", "account", accountID, "category", src.Category(), "err", err)
				return
			}
			results[i] = accounts.CategoryResult{Status: accounts.CategorySuccess, Payload: payload}
			metrics.CategoryFetches.WithLabelValues(src.Category(), "success").Inc()
		}(i, src)
	}
	wg.Wait()

	categories := make(map[string]accounts.CategoryResult, len(requested))
	for i, cat := range requested {
		categories[cat] = results[i]
	}
	score, status := c.scorer.Overall(categories)

	res := accounts.AssessmentResult{
		ID:                  uuid.NewString(),
		TenantAccountID:     accountID,
		RequestedCategories: requested,
		Categories:          categories,
		OverallStatus:       status,
		OverallScore:        score,
		CreatedAt:           time.Now().UTC(),
	}
	if err := c.store.SaveAssessment(ctx, res); err != nil {
		return accounts.AssessmentResult{}, err
	}
	if err := c.store.RecordAssessmentRun(ctx, accountID, res.CreatedAt); err != nil {
		c.log.Warnw("assessment counter update failed", "account", accountID, "err", err)
	}
	c.log.Infow("assessment completed", "account", accountID, "status", string(status), "score", score)
	return res, nil
}
