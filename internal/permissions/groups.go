// internal/permissions/groups.go
package permissions

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FeatureGroup maps a named platform feature to the directory permissions it
// needs. The core group is always required.
type FeatureGroup struct {
	Key         string   `yaml:"key"`
	Permissions []string `yaml:"permissions"`
	Required    bool     `yaml:"required"`
}

const CoreGroupKey = "core"

// GraphResourceAppID is the well-known Microsoft Graph resource application id.
const GraphResourceAppID = "00000003-0000-0000-c000-000000000000"

// permissionTableVersion tracks the vintage of the name→role-id mapping below.
const permissionTableVersion = "2025-06"

// Application permission name → Graph app role id. An unmapped name fails the
// whole composition; silently dropping a security permission is unacceptable.
var permissionIDs = map[string]string{
	"Organization.Read.All":              "498476ce-e0fe-48b0-b801-37ba7e2685c6",
	"Directory.Read.All":                 "7ab1d382-f21e-4acd-a863-ba3e13f7da61",
	"User.Read.All":                      "df021288-bdef-4463-88db-98f22de89214",
	"Reports.Read.All":                   "230c1aed-a721-4c5d-9cb4-a90514e508ef",
	"SecurityEvents.Read.All":            "bf394140-e372-4bf9-a898-299cfc7564e5",
	"AuditLog.Read.All":                  "b0afded3-3588-46d8-8b3d-9842eff778da",
	"Policy.Read.All":                    "246dd0d5-5bd0-4def-940b-0421030a5b68",
	"UserAuthenticationMethod.Read.All":  "38d9df27-64da-44fd-b7c5-a6fbac20248f",
	"IdentityRiskyUser.Read.All":         "dc5007c0-2d7d-4c42-879c-2dab87571379",
	"DeviceManagementManagedDevices.Read.All": "2f51be20-0bb4-4fed-bf7b-db946066c75e",
}

// DefaultGroups is the built-in feature-group table. The baseline requested at
// provisioning time is the union of all Required groups; optional groups are
// added later through least-privilege composition.
func DefaultGroups() []FeatureGroup {
	return []FeatureGroup{
		{Key: CoreGroupKey, Required: true, Permissions: []string{
			"Organization.Read.All",
			"Directory.Read.All",
		}},
		{Key: "license", Required: true, Permissions: []string{
			"Organization.Read.All",
			"User.Read.All",
		}},
		{Key: "secure-score", Required: true, Permissions: []string{
			"SecurityEvents.Read.All",
		}},
		{Key: "identity-access", Required: true, Permissions: []string{
			"Reports.Read.All",
			"UserAuthenticationMethod.Read.All",
		}},
		{Key: "audit", Permissions: []string{
			"AuditLog.Read.All",
		}},
		{Key: "conditional-access", Permissions: []string{
			"Policy.Read.All",
		}},
		{Key: "risk", Permissions: []string{
			"IdentityRiskyUser.Read.All",
		}},
		{Key: "device", Permissions: []string{
			"DeviceManagementManagedDevices.Read.All",
		}},
	}
}

// LoadGroups reads a yaml override table, or returns the defaults when path
// is empty. The file must contain a core group.
func LoadGroups(path string) ([]FeatureGroup, error) {
	if path == "" {
		return DefaultGroups(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("feature groups: %w", err)
	}
	var groups []FeatureGroup
	if err := yaml.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("feature groups: %w", err)
	}
	hasCore := false
	for i, g := range groups {
		if g.Key == CoreGroupKey {
			hasCore = true
			groups[i].Required = true
		}
	}
	if !hasCore {
		return nil, fmt.Errorf("feature groups: table at %s has no %q group", path, CoreGroupKey)
	}
	return groups, nil
}
