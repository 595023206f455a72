// internal/assessment/score_test.go
package assessment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entrascope/pkg/accounts"
)

func testScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer("80:85,60:75,40:65,0:50", 50)
	require.NoError(t, err)
	return s
}

func TestParseSteps(t *testing.T) {
	steps, err := ParseSteps("0:50, 80:85 ,60:75")
	require.NoError(t, err)
	// Sorted by threshold descending regardless of input order.
	require.Len(t, steps, 3)
	assert.Equal(t, 80.0, steps[0].Threshold)
	assert.Equal(t, 0.0, steps[2].Threshold)
}

func TestParseStepsRejectsMalformed(t *testing.T) {
	for _, spec := range []string{"", "80", "x:50", "80:y"} {
		_, err := ParseSteps(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}

func TestUtilizationScoreBoundaries(t *testing.T) {
	s := testScorer(t)
	assert.Equal(t, 85.0, s.UtilizationScore(100))
	assert.Equal(t, 85.0, s.UtilizationScore(80)) // threshold is inclusive
	assert.Equal(t, 75.0, s.UtilizationScore(79.9))
	assert.Equal(t, 65.0, s.UtilizationScore(40))
	assert.Equal(t, 50.0, s.UtilizationScore(0))
}

func secureScorePayload(cur, max float64) map[string]any {
	return map[string]any{"value": []any{map[string]any{"currentScore": cur, "maxScore": max}}}
}

func licensePayload(consumed, enabled float64) map[string]any {
	return map[string]any{"value": []any{
		map[string]any{"consumedUnits": consumed, "prepaidUnits": map[string]any{"enabled": enabled}},
	}}
}

func TestOverallSecureScoreWins(t *testing.T) {
	s := testScorer(t)
	cats := map[string]accounts.CategoryResult{
		CategorySecureScore: {Status: accounts.CategorySuccess, Payload: secureScorePayload(42, 60)},
		CategoryLicense:     {Status: accounts.CategorySuccess, Payload: licensePayload(90, 100)},
	}
	score, status := s.Overall(cats)
	assert.Equal(t, accounts.OverallCompleted, status)
	assert.Equal(t, 70.0, score) // 42/60, not the license step score
}

func TestOverallFallsBackToLicenseUtilizationWhenSecureScoreDown(t *testing.T) {
	s := testScorer(t)
	cats := map[string]accounts.CategoryResult{
		CategorySecureScore: {Status: accounts.CategoryUnavailable, Reason: "timeout"},
		CategoryLicense:     {Status: accounts.CategorySuccess, Payload: licensePayload(90, 100)},
	}
	score, status := s.Overall(cats)
	assert.Equal(t, accounts.OverallCompleted, status, "one success keeps the run completed")
	assert.Equal(t, 85.0, score) // 90% utilization hits the 80 step
}

func TestOverallDegradedDefaultWhenNoScoreSource(t *testing.T) {
	s := testScorer(t)
	cats := map[string]accounts.CategoryResult{
		CategorySecureScore: {Status: accounts.CategoryUnavailable, Reason: "503"},
		CategoryLicense:     {Status: accounts.CategoryUnavailable, Reason: "503"},
	}
	score, status := s.Overall(cats)
	assert.Equal(t, accounts.OverallCompletedDegraded, status)
	assert.Equal(t, 50.0, score)
}

func TestOverallIdentityOnlyIsCompleted(t *testing.T) {
	s := testScorer(t)
	cats := map[string]accounts.CategoryResult{
		CategoryIdentityAccess: {Status: accounts.CategorySuccess, Payload: map[string]any{"value": []any{}}},
	}
	score, status := s.Overall(cats)
	assert.Equal(t, accounts.OverallCompleted, status)
	assert.Equal(t, 50.0, score, "no scoring source means the conservative default")
}

func TestOverallIgnoresMalformedSecureScorePayload(t *testing.T) {
	s := testScorer(t)
	cats := map[string]accounts.CategoryResult{
		CategorySecureScore: {Status: accounts.CategorySuccess, Payload: map[string]any{"value": []any{}}},
		CategoryLicense:     {Status: accounts.CategorySuccess, Payload: licensePayload(30, 100)},
	}
	score, _ := s.Overall(cats)
	assert.Equal(t, 50.0, score, "30%% utilization hits the 0 step")
}

func TestOverallZeroMaxScoreIsNotDivided(t *testing.T) {
	s := testScorer(t)
	cats := map[string]accounts.CategoryResult{
		CategorySecureScore: {Status: accounts.CategorySuccess, Payload: secureScorePayload(10, 0)},
	}
	score, _ := s.Overall(cats)
	assert.Equal(t, 50.0, score)
}
