// internal/api/handlers_assessments.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"entrascope/internal/assessment"
	"entrascope/pkg/accounts"
	"entrascope/pkg/problems"
)

type assessmentBody struct {
	CustomerID          string   `json:"customerId"`
	TenantID            string   `json:"tenantId,omitempty"`
	RequestedCategories []string `json:"requestedCategories"`
}

// createAssessment runs a collection synchronously. Degraded runs are still
// 201: the result records per-category outcomes and an overall status.
func (a *App) createAssessment(w http.ResponseWriter, r *http.Request) {
	var b assessmentBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeProblem(w, problems.New("bad-request", "invalid JSON body", err.Error()), 400)
		return
	}
	if b.CustomerID == "" {
		writeProblem(w, problems.New("bad-request", "customerId is required", ""), 400)
		return
	}

	res, err := a.collector.Run(r.Context(), b.CustomerID, b.RequestedCategories)
	if err != nil {
		var uc *assessment.UnknownCategoryError
		switch {
		case errors.Is(err, accounts.ErrNotFound):
			writeProblem(w, problems.New("not-found", "tenant account not found", b.CustomerID), 404)
		case errors.As(err, &uc):
			writeProblem(w, problems.New("bad-request", "unknown category", uc.Category), 400)
		case errors.Is(err, assessment.ErrCredentialsNotReady):
			writeProblem(w, problems.New("credentials-not-ready", "tenant credentials are not ready", err.Error(),
				"finish provisioning (or manual setup) before requesting an assessment"), 409)
		default:
			a.log.Errorw("assessment failed", "account", b.CustomerID, "err", err)
			writeProblem(w, problems.New("internal", "assessment failed", err.Error()), 500)
		}
		return
	}
	writeJSON(w, assessmentView(res), 201)
}

func (a *App) getAssessment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := a.store.GetAssessment(r.Context(), id)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			writeProblem(w, problems.New("not-found", "assessment not found", id), 404)
			return
		}
		writeProblem(w, problems.New("internal", "lookup failed", err.Error()), 500)
		return
	}
	writeJSON(w, assessmentView(res), 200)
}

// getCategories lists the registered assessment categories.
func (a *App) getCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"categories": a.collector.Categories()}, 200)
}
