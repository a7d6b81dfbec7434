// Package cascade keeps a chain of dependent select fields consistent with the
// latest upstream selections and with asynchronously fetched option lists.
//
// A chain such as Make → Year → Model is described by a ChainDef. Changing
// Field[i] clears and disables every downstream field, then fetches the option
// list of Field[i+1] using the selections of Fields[0..i]. Each field carries a
// generation number; a response is applied only if no newer request for the
// same field was issued after it.
package cascade

import (
	"errors"
	"fmt"
	"strings"
)

// Option is one selectable (label, value) entry of a field.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// FieldDef describes one field of a chain.
type FieldDef struct {
	// Name is the field role, e.g. "Make". It is used in element ids and,
	// lower-cased, as the placeholder key in request paths.
	Name string
	// Resource is the plural noun used in messages, e.g. "makes".
	Resource string
	// Path is the request path template, e.g. "/api/models/{make}/{year}".
	Path string
	// Keys lists the JSON object members that may carry an option label.
	Keys []string
	// Static, when set on the root field, replaces the fetch.
	Static []Option
	// Sentinel overrides the "Select <Name>" placeholder label.
	Sentinel string
	// About overrides how failure messages name the upstream context, e.g.
	// "year {year}". By default the upstream selections are joined in chain
	// order.
	About string
}

// Key returns the lower-cased field name used in paths and selections.
func (f FieldDef) Key() string { return strings.ToLower(f.Name) }

// SentinelOption returns the leading "no selection" option.
func (f FieldDef) SentinelOption() Option {
	if f.Sentinel != "" {
		return Option{Label: f.Sentinel}
	}
	return Option{Label: "Select " + f.Name}
}

func (f FieldDef) resource() string {
	if f.Resource != "" {
		return f.Resource
	}
	return strings.ToLower(f.Name) + "s"
}

// ChainDef is an ordered list of dependent fields.
type ChainDef struct {
	// Name identifies the variant, e.g. "make-year-model".
	Name string
	// Role prefixes element ids, e.g. "vehicle" in "vehicle1Make".
	Role   string
	Fields []FieldDef
	// ShowLoading shows a transient "Loading ..." option while a fetch is in flight.
	ShowLoading bool
}

var ErrInvalidChain = errors.New("invalid chain definition")

// Validate checks that the chain is well formed: at least two uniquely named
// fields, a loadable root, and request paths that only reference upstream
// fields.
func (d ChainDef) Validate() error {
	if d.Role == "" {
		return fmt.Errorf("%w: missing role", ErrInvalidChain)
	}
	if len(d.Fields) < 2 {
		return fmt.Errorf("%w: need at least 2 fields, got %d", ErrInvalidChain, len(d.Fields))
	}
	seen := make(map[string]int, len(d.Fields))
	for i, f := range d.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: field %d has no name", ErrInvalidChain, i)
		}
		if _, dup := seen[f.Key()]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidChain, f.Name)
		}
		seen[f.Key()] = i

		if i == 0 {
			if f.Path == "" && len(f.Static) == 0 {
				return fmt.Errorf("%w: root field %q needs a path or static options", ErrInvalidChain, f.Name)
			}
		} else {
			if f.Path == "" {
				return fmt.Errorf("%w: field %q has no path", ErrInvalidChain, f.Name)
			}
			if len(f.Static) > 0 {
				return fmt.Errorf("%w: only the root field may have static options", ErrInvalidChain)
			}
		}
		for _, p := range placeholders(f.Path) {
			j, ok := seen[p]
			if !ok || j >= i {
				return fmt.Errorf("%w: field %q path references %q which is not upstream", ErrInvalidChain, f.Name, p)
			}
		}
		for _, p := range placeholders(f.About) {
			if j, ok := seen[p]; !ok || j >= i {
				return fmt.Errorf("%w: field %q message references %q which is not upstream", ErrInvalidChain, f.Name, p)
			}
		}
	}
	return nil
}

// ElementID builds the element id of a field for one chain instance:
// ElementID("vehicle", 1, "Make") == "vehicle1Make".
func ElementID(role string, instance int, field string) string {
	return fmt.Sprintf("%s%d%s", role, instance, field)
}

// IDs lists every element id of the chain for one instance.
func (d ChainDef) IDs(instance int) []string {
	ids := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		ids[i] = ElementID(d.Role, instance, f.Name)
	}
	return ids
}
