package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Dialect names the methods and keys a candidate server family uses for
// capability discovery and invocation. The handshake is shared by all dialects.
type Dialect struct {
	Name         string
	ListMethod   string
	InvokeMethod string
	ListKey      string

	// InitializedNotification, when set, is sent after a successful handshake.
	InitializedNotification string
}

var (
	// CapabilityDialect is the generic capability vocabulary.
	CapabilityDialect = Dialect{
		Name:         "capability",
		ListMethod:   "capability/list",
		InvokeMethod: "capability/invoke",
		ListKey:      "capabilities",
	}

	// MCPDialect speaks Model Context Protocol tool methods.
	MCPDialect = Dialect{
		Name:                    "mcp",
		ListMethod:              "tools/list",
		InvokeMethod:            "tools/call",
		ListKey:                 "tools",
		InitializedNotification: "notifications/initialized",
	}
)

var dialects = map[string]Dialect{
	CapabilityDialect.Name: CapabilityDialect,
	MCPDialect.Name:        MCPDialect,
}

// DefaultDialect is used when none is configured.
func DefaultDialect() Dialect { return CapabilityDialect }

// DialectByName looks up a dialect; the empty name selects the default.
func DialectByName(name string) (Dialect, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultDialect(), nil
	}
	d, ok := dialects[name]
	if !ok {
		return Dialect{}, fmt.Errorf("unknown dialect %q (known: %s)", name, strings.Join(DialectNames(), ", "))
	}
	return d, nil
}

// DialectNames returns the known dialect names, sorted.
func DialectNames() []string {
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsZero reports whether d was never configured.
func (d Dialect) IsZero() bool { return d.ListMethod == "" && d.InvokeMethod == "" }
