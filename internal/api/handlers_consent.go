// internal/api/handlers_consent.go
package api

import (
	"net/http"
	"strings"

	"entrascope/internal/provisioning"
	"entrascope/pkg/problems"
)

// consentCallback is the admin-consent redirect target. The state token ties
// the callback back to the tenant account; anything unverifiable is rejected
// without touching any record.
func (a *App) consentCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cb := provisioning.ConsentCallback{
		AdminConsent: strings.EqualFold(q.Get("admin_consent"), "true"),
		Tenant:       q.Get("tenant"),
		State:        q.Get("state"),
		Error:        q.Get("error_description"),
	}
	if cb.Error == "" {
		cb.Error = q.Get("error")
	}
	if cb.State == "" {
		writeProblem(w, problems.New("bad-request", "missing state", "consent callback without a state token"), 400)
		return
	}

	rec, err := a.prov.HandleConsentCallback(r.Context(), cb)
	if err != nil {
		a.log.Warnw("consent callback rejected", "err", err)
		writeProblem(w, problems.New("consent-state-invalid", "consent state could not be verified", err.Error(),
			"restart the consent flow from the tenant's consent URL"), 400)
		return
	}

	outcome := "denied"
	if cb.AdminConsent {
		outcome = "granted"
	}
	writeJSON(w, map[string]any{"consent": outcome, "credentials": credentialView(rec)}, 200)
}
