// internal/assessment/score.go
package assessment

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"

	"entrascope/pkg/accounts"
)

// Step maps a utilization lower bound to a posture score.
type Step struct {
	Threshold float64
	Score     float64
}

// ParseSteps parses a step-function spec like "80:85,60:75,40:65,0:50" into
// descending threshold order. At least one step is required.
func ParseSteps(spec string) ([]Step, error) {
	parts := strings.Split(spec, ",")
	steps := make([]Step, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("utilization steps: malformed entry %q", p)
		}
		th, err := strconv.ParseFloat(strings.TrimSpace(kv[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("utilization steps: bad threshold in %q", p)
		}
		sc, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("utilization steps: bad score in %q", p)
		}
		steps = append(steps, Step{Threshold: th, Score: sc})
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("utilization steps: empty spec")
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Threshold > steps[j].Threshold })
	return steps, nil
}

// Scorer derives the overall posture score from category payloads. Secure
// score wins over license utilization; with neither available the configured
// degraded score applies.
type Scorer struct {
	steps    []Step
	degraded float64
}

func NewScorer(stepSpec string, degraded float64) (*Scorer, error) {
	steps, err := ParseSteps(stepSpec)
	if err != nil {
		return nil, err
	}
	return &Scorer{steps: steps, degraded: degraded}, nil
}

// UtilizationScore maps a utilization percentage through the step function:
// the first step whose threshold the value meets wins.
func (s *Scorer) UtilizationScore(pct float64) float64 {
	for _, st := range s.steps {
		if pct >= st.Threshold {
			return st.Score
		}
	}
	return s.degraded
}

// Overall computes the score and overall status for a finished category map.
// The run is degraded only when every category failed; the score source
// precedence is secure score, then license utilization, then the degraded
// default.
func (s *Scorer) Overall(categories map[string]accounts.CategoryResult) (float64, accounts.OverallStatus) {
	status := accounts.OverallCompletedDegraded
	for _, c := range categories {
		if c.Status == accounts.CategorySuccess {
			status = accounts.OverallCompleted
			break
		}
	}

	if c, ok := categories[CategorySecureScore]; ok && c.Status == accounts.CategorySuccess {
		if v, err := secureScorePct(c.Payload); err == nil {
			return v, status
		}
	}
	if c, ok := categories[CategoryLicense]; ok && c.Status == accounts.CategorySuccess {
		if pct, err := licenseUtilizationPct(c.Payload); err == nil {
			return s.UtilizationScore(pct), status
		}
	}
	return s.degraded, status
}

func jmesNumber(payload map[string]any, expr string) (float64, error) {
	v, err := jmespath.Search(expr, payload)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("expression %q did not yield a number", expr)
	}
	return f, nil
}

func secureScorePct(payload map[string]any) (float64, error) {
	cur, err := jmesNumber(payload, "value[0].currentScore")
	if err != nil {
		return 0, err
	}
	max, err := jmesNumber(payload, "value[0].maxScore")
	if err != nil {
		return 0, err
	}
	if max <= 0 {
		return 0, fmt.Errorf("secure score: maxScore is %v", max)
	}
	return math.Round(cur/max*1000) / 10, nil
}

func licenseUtilizationPct(payload map[string]any) (float64, error) {
	consumed, err := jmesNumber(payload, "sum(value[].consumedUnits)")
	if err != nil {
		return 0, err
	}
	enabled, err := jmesNumber(payload, "sum(value[].prepaidUnits.enabled)")
	if err != nil {
		return 0, err
	}
	if enabled <= 0 {
		return 0, fmt.Errorf("license utilization: no enabled units")
	}
	return consumed / enabled * 100, nil
}
