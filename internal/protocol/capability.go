package protocol

import (
	"fmt"
	"strings"
)

// MalformedError reports a response that parsed but has the wrong shape for
// the scenario that consumed it.
type MalformedError struct {
	What   string
	Detail string
}

func (e *MalformedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("malformed %s", e.What)
	}
	return fmt.Sprintf("malformed %s: %s", e.What, e.Detail)
}

// Capability is one advertised entry of a list response. Entries are kept as
// raw objects because the checks must distinguish absent fields from empty ones.
type Capability map[string]any

// Name returns the entry's name and whether it is present as a string.
func (c Capability) Name() (string, bool) {
	name, ok := c["name"].(string)
	return name, ok
}

// DisplayName returns the name or a placeholder for nameless entries.
func (c Capability) DisplayName() string {
	if name, ok := c.Name(); ok && name != "" {
		return name
	}
	return "<unknown>"
}

// HasInputSchema reports whether the entry declares an input schema field.
func (c Capability) HasInputSchema() bool {
	_, ok := c["inputSchema"]
	return ok
}

// Description returns the trimmed description, or "" when absent or not text.
func (c Capability) Description() string {
	desc, _ := c["description"].(string)
	return strings.TrimSpace(desc)
}

// Capabilities extracts the entries advertised under key in a list response.
// A missing key yields an empty list. Entries that are not objects are returned
// as nil maps so that callers can flag them as invalid.
func Capabilities(resp *Response, key string) ([]Capability, error) {
	if !resp.HasResult() {
		return nil, &MalformedError{What: "list response", Detail: "no result"}
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		return nil, &MalformedError{What: "list response", Detail: "result is not an object"}
	}
	rawList, present := result[key]
	if !present || rawList == nil {
		return []Capability{}, nil
	}
	items, ok := rawList.([]any)
	if !ok {
		return nil, &MalformedError{What: "list response", Detail: fmt.Sprintf("%q is not an array", key)}
	}

	out := make([]Capability, 0, len(items))
	for _, item := range items {
		entry, _ := item.(map[string]any)
		out = append(out, Capability(entry))
	}
	return out, nil
}

// FindCapability returns the first entry with the given name.
func FindCapability(entries []Capability, name string) (Capability, bool) {
	for _, c := range entries {
		if n, ok := c.Name(); ok && n == name {
			return c, true
		}
	}
	return nil, false
}

// ValidateInvokeResult checks the structural shape of an invocation result:
// an object with a content array whose items are objects carrying a string type.
func ValidateInvokeResult(result any) error {
	obj, ok := result.(map[string]any)
	if !ok {
		return &MalformedError{What: "invoke result", Detail: "result is not an object"}
	}
	content, ok := obj["content"].([]any)
	if !ok {
		return &MalformedError{What: "invoke result", Detail: "missing content array"}
	}
	for i, item := range content {
		part, ok := item.(map[string]any)
		if !ok {
			return &MalformedError{What: "invoke result", Detail: fmt.Sprintf("content[%d] is not an object", i)}
		}
		if _, ok := part["type"].(string); !ok {
			return &MalformedError{What: "invoke result", Detail: fmt.Sprintf("content[%d] has no type", i)}
		}
	}
	return nil
}
