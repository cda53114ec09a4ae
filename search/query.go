// Package search compiles search requests into catalog queries and shapes
// the results returned to callers.
package search

import (
	"regexp"
	"strings"

	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"
)

var reservedChars = regexp.MustCompile(`([+\-!(){}\[\]^"~*?:\\])`)

// Escape prefixes every character reserved by the query syntax with a
// backslash.
func Escape(s string) string {
	return reservedChars.ReplaceAllString(s, `\$1`)
}

// isUnscoped reports whether a key means "search everywhere".
func isUnscoped(key string) bool {
	return key == "" || strings.EqualFold(key, "null")
}

// Clause returns the query clause matching term, scoped to key unless the
// key is unscoped. Both are escaped.
func Clause(key, term string) string {
	if isUnscoped(key) {
		return Escape(term)
	}
	return Escape(key) + ":" + Escape(term)
}

// Compile builds a conjunctive query from terms and their optional keys.
// keys may be nil; otherwise it must be as long as terms.
func Compile(terms []string, keys []string) (string, error) {
	if keys != nil && len(keys) != len(terms) {
		return "", cErrors.InvalidInput("the number of keys must match the number of terms, or keys must be omitted")
	}
	clauses := make([]string, 0, len(terms))
	for i, term := range terms {
		key := ""
		if keys != nil {
			key = keys[i]
		}
		clauses = append(clauses, Clause(key, term))
	}
	return strings.Join(clauses, " AND "), nil
}
