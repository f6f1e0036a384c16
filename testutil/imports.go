// Package testutil checks package layering from tests.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Forbidden reports whether an import path breaks a layering rule.
type Forbidden func(importPath string) bool

// Under matches imports of pkg and everything below it.
func Under(pkg string) Forbidden {
	return func(p string) bool { return p == pkg || strings.HasPrefix(p, pkg+"/") }
}

// Any matches when one of rules matches.
func Any(rules ...Forbidden) Forbidden {
	return func(p string) bool {
		for _, r := range rules {
			if r(p) {
				return true
			}
		}
		return false
	}
}

// AssertNoImports parses the non-test Go files of dir and fails t when one
// imports a forbidden path.
func AssertNoImports(t testing.TB, dir string, forbidden Forbidden, reason string) {
	t.Helper()
	viols, err := importViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

func importViolations(dir string, forbidden Forbidden) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			if p := strings.Trim(imp.Path.Value, `"`); forbidden(p) {
				viols = append(viols, p+" (in "+name+")")
			}
		}
	}
	return viols, nil
}
