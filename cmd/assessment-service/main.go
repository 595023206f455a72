// cmd/assessment-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"entrascope/internal/api"
	"entrascope/internal/assessment"
	"entrascope/internal/assessment/sources"
	"entrascope/internal/custody"
	"entrascope/internal/directory"
	"entrascope/internal/permissions"
	"entrascope/internal/provisioning"
	"entrascope/internal/vault"
	"entrascope/pkg/accounts"
	"entrascope/pkg/config"
	"entrascope/pkg/db"
	"entrascope/pkg/locks"
	"entrascope/pkg/logger"
	"entrascope/pkg/retry"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, "assessment-service")
	defer log.Sync()

	pool := db.MustConnect(cfg, log)
	var store accounts.Store
	if pool != nil {
		if err := accounts.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		store = accounts.NewPostgresStore(pool, log)
	} else {
		store = accounts.NewMemoryStore(log)
	}

	var locker locks.Locker
	if rds := db.MustRedis(cfg, log); rds != nil {
		locker = locks.NewRedisLocker(rds)
	} else {
		log.Warnw("REDIS_URL not set, using in-process provisioning locks")
		locker = locks.NewMemoryLocker()
	}

	exec := retry.New(retry.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	})

	var dir directory.Client
	if cfg.AutomationClientID != "" && cfg.AutomationClientSecret != "" && cfg.AutomationTenantID != "" {
		dir = directory.NewGraphClient(cfg.GraphBaseURL, cfg.AuthorityBaseURL, cfg.AutomationTenantID,
			cfg.AutomationClientID, cfg.AutomationClientSecret, exec, log)
	} else {
		log.Warnw("automation identity not configured, auto app registration will fail fast")
		dir = directory.NewUnconfigured()
	}

	var vc custody.Vault
	if c := vault.New(cfg.VaultAddr, cfg.VaultToken, cfg.VaultMount); c != nil {
		vc = c
	}
	cm := custody.NewManager(vc, log)

	groups := permissions.DefaultGroups()
	if cfg.FeatureGroupsPath != "" {
		g, err := permissions.LoadGroups(cfg.FeatureGroupsPath)
		if err != nil {
			log.Fatalw("feature groups", "path", cfg.FeatureGroupsPath, "err", err)
		}
		groups = g
	}
	composer := permissions.NewComposer(groups)

	gate, err := provisioning.NewGate(cfg.OnboardingPolicyPath, log)
	if err != nil {
		log.Fatalw("onboarding policy", "path", cfg.OnboardingPolicyPath, "err", err)
	}

	prov := provisioning.NewService(provisioning.Deps{
		Store:          store,
		Directory:      dir,
		Custody:        cm,
		Composer:       composer,
		Locker:         locker,
		Gate:           gate,
		Consent:        provisioning.NewConsentBuilder(cfg.AuthorityBaseURL, cfg.RedirectURI, cfg.ConsentStateKey, cfg.ConsentStateTTL),
		RedirectURI:    cfg.RedirectURI,
		SecretValidity: cfg.SecretValidity,
		Log:            log,
	})

	scorer, err := assessment.NewScorer(cfg.UtilizationSteps, cfg.DegradedScore)
	if err != nil {
		log.Fatalw("utilization steps", "spec", cfg.UtilizationSteps, "err", err)
	}
	collector := assessment.NewCollector(store, cm,
		sources.NewGraphSources(cfg.GraphBaseURL, cfg.AuthorityBaseURL, exec),
		scorer, cfg.AssessmentTimeout, log)

	app := api.New(log, cfg, store, prov, collector)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: app.Handler()}
	go func() {
		log.Infow("assessment-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("assessment-service stopped")
}
