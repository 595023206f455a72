// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string

	// Platform automation identity used for app-only directory calls
	// (application creation, permission updates) inside customer tenants.
	AutomationTenantID     string
	AutomationClientID     string
	AutomationClientSecret string

	// Directory / consent
	GraphBaseURL     string
	AuthorityBaseURL string // login endpoint base, authority segment appended per tenant
	RedirectURI      string
	ConsentStateKey  string // HS256 key for the consent state token
	ConsentStateTTL  time.Duration

	// Secret custody (external vault KV; inline fallback when unset/unreachable)
	VaultAddr      string
	VaultToken     string
	VaultMount     string
	SecretValidity time.Duration

	// Permission feature-group override table (yaml); embedded defaults when empty
	FeatureGroupsPath string

	// Onboarding admission policy (rego); allow-all when empty
	OnboardingPolicyPath string

	// Shared retry/backoff policy
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Assessment collection
	AssessmentTimeout time.Duration
	DegradedScore     float64
	// Utilization step thresholds as "minPct:score,..." pairs, highest first.
	// The default values are historical; kept configurable on purpose.
	UtilizationSteps string

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:      env("ENTRASCOPE_ENV", "dev"),
		HTTPAddr: env("ENTRASCOPE_HTTP_ADDR", ":8080"),

		AutomationTenantID:     env("AUTOMATION_TENANT_ID", ""),
		AutomationClientID:     env("AUTOMATION_CLIENT_ID", ""),
		AutomationClientSecret: env("AUTOMATION_CLIENT_SECRET", ""),

		GraphBaseURL:     env("GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),
		AuthorityBaseURL: env("AUTHORITY_BASE_URL", "https://login.microsoftonline.com"),
		RedirectURI:      env("CONSENT_REDIRECT_URI", "http://localhost:8080/v1/consent/callback"),
		ConsentStateKey:  env("CONSENT_STATE_KEY", ""),
		ConsentStateTTL:  envDur("CONSENT_STATE_TTL_SEC", 3600) * time.Second,

		VaultAddr:      env("VAULT_ADDR", ""),
		VaultToken:     env("VAULT_TOKEN", ""),
		VaultMount:     env("VAULT_MOUNT", "secret"),
		SecretValidity: envDur("SECRET_VALIDITY_DAYS", 180) * 24 * time.Hour,

		FeatureGroupsPath:    env("FEATURE_GROUPS_PATH", ""),
		OnboardingPolicyPath: env("ONBOARDING_POLICY_PATH", ""),

		RetryMaxAttempts: envInt("RETRY_MAX_ATTEMPTS", 4),
		RetryBaseDelay:   envDur("RETRY_BASE_DELAY_MS", 500) * time.Millisecond,
		RetryMaxDelay:    envDur("RETRY_MAX_DELAY_MS", 8000) * time.Millisecond,

		AssessmentTimeout: envDur("ASSESSMENT_TIMEOUT_SEC", 120) * time.Second,
		DegradedScore:     envFloat("DEGRADED_SCORE", 50),
		UtilizationSteps:  env("UTILIZATION_STEPS", "80:85,60:75,40:65,0:50"),

		RedisURL:    env("REDIS_URL", ""),
		DatabaseURL: env("DATABASE_URL", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set — using in-memory account store for dev")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return i
	}
	return def
}
func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
