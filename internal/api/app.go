// internal/api/app.go
package api

import (
	"go.uber.org/zap"

	"entrascope/internal/assessment"
	"entrascope/internal/provisioning"
	"entrascope/pkg/accounts"
	"entrascope/pkg/config"
)

// App is the assessment-service application container.
// Handlers have methods on this type; shared deps and config only.
type App struct {
	log       *zap.SugaredLogger
	cfg       config.Config
	store     accounts.Store
	prov      *provisioning.Service
	collector *assessment.Collector
}

func New(log *zap.SugaredLogger, cfg config.Config, store accounts.Store, prov *provisioning.Service, collector *assessment.Collector) *App {
	return &App{log: log, cfg: cfg, store: store, prov: prov, collector: collector}
}
