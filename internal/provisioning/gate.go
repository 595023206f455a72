// internal/provisioning/gate.go
package provisioning

import (
	"context"
	"os"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"
)

// Gate is an optional onboarding admission policy. With no policy configured
// every request is allowed; with one, the rego entrypoint
// `data.onboarding.decide` sees the request and the resolved identity.
type Gate struct {
	mod string
	log *zap.SugaredLogger
}

func NewGate(path string, log *zap.SugaredLogger) (*Gate, error) {
	g := &Gate{log: log}
	if path == "" {
		return g, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g.mod = string(raw)
	return g, nil
}

type GateDecision struct {
	Allowed bool
	Reasons []string
}

func (g *Gate) Evaluate(ctx context.Context, input map[string]any) GateDecision {
	if g == nil || g.mod == "" {
		return GateDecision{Allowed: true}
	}
	r := rego.New(
		rego.Query("data.onboarding.decide"),
		rego.Module("onboarding.rego", g.mod),
		rego.Input(input),
	)
	rs, err := r.Eval(ctx)
	if err != nil || len(rs) == 0 || len(rs[0].Expressions) == 0 {
		g.log.Warnw("onboarding policy evaluation failed", "err", err)
		return GateDecision{Allowed: false, Reasons: []string{"policy_error"}}
	}
	out, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return GateDecision{Allowed: false, Reasons: []string{"policy_malformed"}}
	}
	dec := GateDecision{}
	if allow, ok := out["allow"].(bool); ok {
		dec.Allowed = allow
	}
	if reasons, ok := out["reasons"].([]any); ok {
		for _, r := range reasons {
			if s, ok := r.(string); ok {
				dec.Reasons = append(dec.Reasons, s)
			}
		}
	}
	return dec
}
