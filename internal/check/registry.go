package check

import (
	"fmt"
	"strings"
)

// Info describes a registered check.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type entry struct {
	id    string
	check Check
}

// registry holds the standard checks in report order.
var registry = []entry{
	{id: "startup", check: StartupCheck{}},
	{id: "stdio", check: TransportIntegrityCheck{}},
	{id: "registered", check: CapabilitiesRegisteredCheck{}},
	{id: "descriptions", check: CapabilityDescriptionQualityCheck{}},
	{id: "invocation", check: CapabilityInvocationCheck{}},
}

// Standard returns the full standard check set in registry order.
func Standard() []Check {
	out := make([]Check, 0, len(registry))
	for _, e := range registry {
		out = append(out, e.check)
	}
	return out
}

// IDs returns the registered check ids in registry order.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for _, e := range registry {
		ids = append(ids, e.id)
	}
	return ids
}

// Describe lists every registered check.
func Describe() []Info {
	out := make([]Info, 0, len(registry))
	for _, e := range registry {
		out = append(out, Info{ID: e.id, Name: e.check.Name()})
	}
	return out
}

// Select returns the checks named by ids, in registry order and without
// duplicates. An empty selection returns the standard set.
func Select(ids []string) ([]Check, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if !known(id) {
			return nil, fmt.Errorf("unknown check %q (known: %s)", id, strings.Join(IDs(), ", "))
		}
		wanted[id] = true
	}
	if len(wanted) == 0 {
		return Standard(), nil
	}

	out := make([]Check, 0, len(wanted))
	for _, e := range registry {
		if wanted[e.id] {
			out = append(out, e.check)
		}
	}
	return out, nil
}

func known(id string) bool {
	for _, e := range registry {
		if e.id == id {
			return true
		}
	}
	return false
}
