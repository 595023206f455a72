// internal/permissions/composer.go
package permissions

import (
	"fmt"
	"sort"
)

// UnknownFeatureGroupError is returned for a group key absent from the table.
type UnknownFeatureGroupError struct{ Key string }

func (e *UnknownFeatureGroupError) Error() string {
	return fmt.Sprintf("unknown feature group %q", e.Key)
}

// UnknownPermissionError is returned when a permission name has no role-id
// mapping; the whole composition fails rather than dropping the name.
type UnknownPermissionError struct{ Name string }

func (e *UnknownPermissionError) Error() string {
	return fmt.Sprintf("unknown permission %q (mapping table version %s)", e.Name, permissionTableVersion)
}

// Composition is the outcome of a compose run. Both slices are sorted and
// deduplicated; NewlyAdded drives whether a fresh consent prompt is needed.
type Composition struct {
	Final      []string
	NewlyAdded []string
}

// Composer computes least-privilege permission sets from the static
// feature-group table. Stateless; knows nothing about any particular tenant.
type Composer struct {
	groups map[string]FeatureGroup
}

func NewComposer(groups []FeatureGroup) *Composer {
	byKey := make(map[string]FeatureGroup, len(groups))
	for _, g := range groups {
		byKey[g.Key] = g
	}
	return &Composer{groups: byKey}
}

// Compose resolves selectedGroups against the table and returns the additive
// permission set. The core group is always included. With replaceAll the
// existing set is discarded instead of unioned; either way every name from a
// group or extra must be mapped or the call fails.
func (c *Composer) Compose(selectedGroups, existing, extra []string, replaceAll bool) (Composition, error) {
	final := map[string]struct{}{}
	if !replaceAll {
		for _, p := range existing {
			final[p] = struct{}{}
		}
	}

	add := func(names []string) error {
		for _, p := range names {
			if _, ok := permissionIDs[p]; !ok {
				return &UnknownPermissionError{Name: p}
			}
			final[p] = struct{}{}
		}
		return nil
	}

	core, ok := c.groups[CoreGroupKey]
	if !ok {
		return Composition{}, &UnknownFeatureGroupError{Key: CoreGroupKey}
	}
	if err := add(core.Permissions); err != nil {
		return Composition{}, err
	}
	for _, key := range selectedGroups {
		g, ok := c.groups[key]
		if !ok {
			return Composition{}, &UnknownFeatureGroupError{Key: key}
		}
		if err := add(g.Permissions); err != nil {
			return Composition{}, err
		}
	}
	if err := add(extra); err != nil {
		return Composition{}, err
	}

	existingSet := map[string]struct{}{}
	for _, p := range existing {
		existingSet[p] = struct{}{}
	}
	comp := Composition{}
	for p := range final {
		comp.Final = append(comp.Final, p)
		if _, had := existingSet[p]; !had {
			comp.NewlyAdded = append(comp.NewlyAdded, p)
		}
	}
	sort.Strings(comp.Final)
	sort.Strings(comp.NewlyAdded)
	return comp, nil
}

// Baseline returns the fixed platform permission set requested at provisioning
// time: the union of all Required groups. Customer-selected subsets come later
// through Compose.
func (c *Composer) Baseline() []string {
	set := map[string]struct{}{}
	for _, g := range c.groups {
		if !g.Required {
			continue
		}
		for _, p := range g.Permissions {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// AccessEntry is one entry of a directory requiredResourceAccess list.
type AccessEntry struct {
	ID   string `json:"id"`
	Type string `json:"type"` // application permissions are "Role"
}

// ResourceAccess is the provider-side shape for one resource application.
type ResourceAccess struct {
	ResourceAppID string        `json:"resourceAppId"`
	Access        []AccessEntry `json:"resourceAccess"`
}

// ResourceAccess renders permission names into the Graph
// requiredResourceAccess shape, failing on any unmapped name.
func (c *Composer) ResourceAccess(names []string) ([]ResourceAccess, error) {
	entries := make([]AccessEntry, 0, len(names))
	for _, n := range names {
		id, ok := permissionIDs[n]
		if !ok {
			return nil, &UnknownPermissionError{Name: n}
		}
		entries = append(entries, AccessEntry{ID: id, Type: "Role"})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return []ResourceAccess{{ResourceAppID: GraphResourceAppID, Access: entries}}, nil
}

// PermissionName reverse-maps a role id to its name; used when reading back
// what a tenant has actually granted.
func PermissionName(roleID string) (string, bool) {
	for name, id := range permissionIDs {
		if id == roleID {
			return name, true
		}
	}
	return "", false
}
