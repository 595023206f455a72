// internal/api/handlers_tenants.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"entrascope/internal/identity"
	"entrascope/internal/provisioning"
	"entrascope/pkg/accounts"
	"entrascope/pkg/problems"
)

// createTenant onboards a tenant and, unless skipped, runs provisioning
// inline. A provisioning failure is a created-but-errored credential record,
// not a failed request: the caller gets the troubleshooting payload back.
func (a *App) createTenant(w http.ResponseWriter, r *http.Request) {
	var req provisioning.ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, problems.New("bad-request", "invalid JSON body", err.Error()), 400)
		return
	}
	if req.TenantName == "" {
		writeProblem(w, problems.New("bad-request", "tenantName is required", ""), 400)
		return
	}

	account, rec, err := a.prov.Onboard(r.Context(), req)
	if err != nil {
		if rec.State == accounts.StateError {
			// Terminal error record was committed; surface it with the account.
			writeJSON(w, map[string]any{"account": accountView(account), "credentials": credentialView(rec)}, 201)
			return
		}
		a.writeOnboardError(w, err)
		return
	}
	writeJSON(w, map[string]any{"account": accountView(account), "credentials": credentialView(rec)}, 201)
}

func (a *App) writeOnboardError(w http.ResponseWriter, err error) {
	var blocked *provisioning.BlockedError
	switch {
	case errors.Is(err, identity.ErrMissingTenantIdentifier):
		writeProblem(w, problems.New("bad-request", "tenant identity required",
			"provide tenantId or tenantDomain"), 400)
	case errors.As(err, &blocked):
		writeProblem(w, problems.New("onboarding-blocked", "onboarding blocked by policy", err.Error(), blocked.Reasons...), 403)
	case errors.Is(err, provisioning.ErrProvisioningInProgress):
		writeProblem(w, problems.New("provisioning-in-progress", "provisioning already running",
			"another provisioning attempt holds the lock for this tenant",
			"wait for the running attempt to finish, then retry"), 409)
	case errors.Is(err, accounts.ErrVersionConflict):
		writeProblem(w, problems.New("conflict", "credential record changed concurrently",
			err.Error(), "retry the request"), 409)
	default:
		a.log.Errorw("onboarding failed", "err", err)
		writeProblem(w, problems.New("internal", "onboarding failed", err.Error()), 500)
	}
}

func (a *App) getTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	account, err := a.store.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			writeProblem(w, problems.New("not-found", "tenant account not found", id), 404)
			return
		}
		writeProblem(w, problems.New("internal", "lookup failed", err.Error()), 500)
		return
	}
	resp := map[string]any{"account": accountView(account)}
	if rec, err := a.store.GetCredential(r.Context(), id); err == nil {
		resp["credentials"] = credentialView(rec)
	}
	writeJSON(w, resp, 200)
}

// provisionTenant re-runs provisioning for an existing account; against an
// ACTIVE record this rotates the application credentials in place.
func (a *App) provisionTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := a.prov.Provision(r.Context(), id)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			writeProblem(w, problems.New("not-found", "tenant account not found", id), 404)
			return
		}
		if rec.State == accounts.StateError {
			writeJSON(w, map[string]any{"credentials": credentialView(rec)}, 200)
			return
		}
		a.writeOnboardError(w, err)
		return
	}
	writeJSON(w, map[string]any{"credentials": credentialView(rec)}, 200)
}

// getPermissions reports the requested permission set alongside what the
// tenant directory says is actually granted.
func (a *App) getPermissions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	requested, granted, err := a.prov.GrantedPermissions(r.Context(), id)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			writeProblem(w, problems.New("not-found", "tenant account not found", id), 404)
			return
		}
		writeProblem(w, problems.New("internal", "permission lookup failed", err.Error()), 500)
		return
	}
	writeJSON(w, map[string]any{"requested": requested, "granted": granted}, 200)
}

type permissionsBody struct {
	Groups           []string `json:"groups"`
	ExtraPermissions []string `json:"extraPermissions"`
	ReplaceAll       bool     `json:"replaceAll"`
}

// putPermissions recomposes the account's permission set from feature groups
// and pushes the directory update when the set changed.
func (a *App) putPermissions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var b permissionsBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeProblem(w, problems.New("bad-request", "invalid JSON body", err.Error()), 400)
		return
	}
	comp, consentNeeded, err := a.prov.EnsurePermissions(r.Context(), id, b.Groups, b.ExtraPermissions, b.ReplaceAll)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			writeProblem(w, problems.New("not-found", "tenant account not found", id), 404)
			return
		}
		writeProblem(w, problems.New("bad-request", "permission composition failed", err.Error()), 400)
		return
	}
	writeJSON(w, map[string]any{
		"permissions":   comp.Final,
		"newlyAdded":    comp.NewlyAdded,
		"consentNeeded": consentNeeded,
	}, 200)
}
