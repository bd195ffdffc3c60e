package lineage

import "strings"

// DefaultExternalPrefixes are the schema and naming conventions that mark a
// table as living outside the managed model set.
var DefaultExternalPrefixes = []string{
	"source.", "source_", "raw.", "raw_", "external.",
	"staging.", "landing.", "bronze.", "silver.", "gold.",
}

// ExternalTables decides whether a table name refers to an external source.
// External tables never become graph nodes and are always considered
// resolvable.
type ExternalTables struct {
	// Prefixes are matched case-insensitively. Nil means DefaultExternalPrefixes.
	Prefixes []string
}

// IsExternal reports whether name is external: any dotted name, or a name
// starting with one of the configured prefixes.
func (e ExternalTables) IsExternal(name string) bool {
	if name == "" {
		return false
	}
	if strings.Contains(name, ".") {
		return true
	}
	prefixes := e.Prefixes
	if prefixes == nil {
		prefixes = DefaultExternalPrefixes
	}
	lower := strings.ToLower(name)
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
