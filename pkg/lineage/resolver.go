// Package lineage extracts column references from transformation expressions
// and classifies table names. Expressions are treated as opaque text scanned
// heuristically for identifiers; this is not a SQL parser.
package lineage

import (
	"sort"
	"strings"
)

// DefaultOpaquePrefixes marks custom-function expressions (@newpk(),
// @feature('x')) that read no columns at all.
var DefaultOpaquePrefixes = []string{"@"}

// Options configures a Resolver.
type Options struct {
	// OpaquePrefixes are case-insensitive prefixes of expressions that
	// contribute no column references. Nil means DefaultOpaquePrefixes.
	OpaquePrefixes []string
}

// Resolver extracts the column identifiers an expression plausibly reads.
// It is stateless after construction and safe for concurrent use.
type Resolver struct {
	opaque []string
}

// NewResolver creates a resolver.
func NewResolver(opts Options) *Resolver {
	prefixes := opts.OpaquePrefixes
	if prefixes == nil {
		prefixes = DefaultOpaquePrefixes
	}
	r := &Resolver{}
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			r.opaque = append(r.opaque, strings.ToLower(p))
		}
	}
	return r
}

// IsOpaque reports whether expr is a custom-function marker expression.
func (r *Resolver) IsOpaque(expr string) bool {
	e := strings.ToLower(strings.TrimSpace(expr))
	for _, p := range r.opaque {
		if strings.HasPrefix(e, p) {
			return true
		}
	}
	return false
}

// ExtractColumnRefs returns the sorted, distinct identifiers expr reads, in
// their original casing. The result is not checked against any schema.
//
// Skipped: literals, comments, words in function-call position, SQL
// keywords and built-in function names, qualifiers (t in t.amount), cast
// targets after AS or :: (DOUBLE PRECISION included), type names opening a
// typed literal, placeholders, and bare mentions of referenceTable itself. Blank and opaque expressions yield nothing.
// Malformed input never fails; the worst case is an over-approximation.
func (r *Resolver) ExtractColumnRefs(expr, referenceTable string) []string {
	if strings.TrimSpace(expr) == "" || r.IsOpaque(expr) {
		return nil
	}

	refTable := strings.ToLower(referenceTable)
	if i := strings.LastIndex(refTable, "."); i >= 0 {
		refTable = refTable[i+1:]
	}

	tokens := Tokenize(expr)
	seen := make(map[string]struct{})
	inCast := false
	for i, tok := range tokens {
		if !tok.IsWord() {
			inCast = false
			continue
		}
		next := tokens[i+1] // Tokenize always ends with EOF

		if next.Type == TOKEN_LPAREN {
			continue
		}
		if next.Type == TOKEN_DOT && i+2 < len(tokens) && (tokens[i+2].IsWord() || tokens[i+2].Literal == "*") {
			continue
		}
		if i > 0 && followsCastOrAlias(tokens[i-1]) {
			inCast = true
			continue
		}
		if inCast && tok.Type == TOKEN_IDENT && (IsTypeName(tok.Literal) || IsKeyword(tok.Literal)) {
			continue
		}
		inCast = false
		if tok.Type == TOKEN_IDENT {
			if IsReserved(tok.Literal) {
				continue
			}
			if next.Type == TOKEN_STRING && IsTypeName(tok.Literal) {
				continue
			}
			if refTable != "" && strings.ToLower(tok.Literal) == refTable && (i == 0 || tokens[i-1].Type != TOKEN_DOT) {
				continue
			}
		}
		if tok.Literal == "" {
			continue
		}
		seen[tok.Literal] = struct{}{}
	}

	if len(seen) == 0 {
		return nil
	}
	refs := make([]string, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

func followsCastOrAlias(prev Token) bool {
	if prev.Type == TOKEN_OPERATOR && prev.Literal == "::" {
		return true
	}
	return prev.Type == TOKEN_IDENT && strings.EqualFold(prev.Literal, "as")
}

// ExprComplexity counts the constructs in an expression. It feeds
// diagnostics only.
type ExprComplexity struct {
	Functions int `json:"functions"`
	Operators int `json:"operators"`
	Literals  int `json:"literals"`
}

// Complexity analyzes expr.
func Complexity(expr string) ExprComplexity {
	var c ExprComplexity
	tokens := Tokenize(expr)
	for i, tok := range tokens {
		switch tok.Type {
		case TOKEN_IDENT, TOKEN_QUOTED_IDENT, TOKEN_MARKER:
			if tokens[i+1].Type == TOKEN_LPAREN {
				c.Functions++
			}
		case TOKEN_OPERATOR:
			c.Operators++
		case TOKEN_STRING, TOKEN_NUMBER:
			c.Literals++
		}
	}
	return c
}
