// internal/api/views.go
package api

import (
	"entrascope/pkg/accounts"
)

// credentialView is the wire shape for a credential record. Secret material
// never leaves the service: inline values are reduced to their kind, vault
// references pass through as opaque strings.
func credentialView(rec accounts.CredentialRecord) map[string]any {
	secret := map[string]any{"kind": string(rec.Secret.Kind)}
	switch rec.Secret.Kind {
	case accounts.SecretVaulted:
		secret["vaultReference"] = rec.Secret.VaultReference
	case accounts.SecretProvisioningError:
		secret["detail"] = rec.Secret.Detail
	}
	v := map[string]any{
		"applicationId":      rec.ApplicationID,
		"clientId":           rec.ClientID,
		"servicePrincipalId": rec.ServicePrincipalID,
		"secretLocation":     secret,
		"grantedPermissions": rec.GrantedPermissions,
		"consentUrl":         rec.ConsentURL,
		"redirectUri":        rec.RedirectURI,
		"authority":          rec.AuthorityHint,
		"state":              string(rec.State),
	}
	if rec.SecretExpiresAt != nil {
		v["secretExpiresAt"] = rec.SecretExpiresAt
	}
	if rec.ConsentGrantedAt != nil {
		v["consentGrantedAt"] = rec.ConsentGrantedAt
	}
	if rec.ConsentError != "" {
		v["consentError"] = rec.ConsentError
	}
	if rec.Troubleshooting != nil {
		v["troubleshooting"] = rec.Troubleshooting
	}
	return v
}

func accountView(a accounts.TenantAccount) map[string]any {
	v := map[string]any{
		"id":               a.ID,
		"tenantIdentifier": a.TenantIdentifier,
		"displayName":      a.DisplayName,
		"contactEmail":     a.ContactEmail,
		"status":           string(a.Status),
		"totalAssessments": a.TotalAssessments,
		"createdAt":        a.CreatedAt,
	}
	if a.Domain != "" {
		v["domain"] = a.Domain
	}
	if a.LastAssessmentDate != nil {
		v["lastAssessmentDate"] = a.LastAssessmentDate
	}
	return v
}

func assessmentView(res accounts.AssessmentResult) map[string]any {
	return map[string]any{
		"id":                  res.ID,
		"tenantAccountId":     res.TenantAccountID,
		"requestedCategories": res.RequestedCategories,
		"categories":          res.Categories,
		"overallStatus":       string(res.OverallStatus),
		"overallScore":        res.OverallScore,
		"createdAt":           res.CreatedAt,
	}
}
