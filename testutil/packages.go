package testutil

import (
	"sort"
	"testing"

	"golang.org/x/tools/go/packages"
)

// AssertModuleImports loads every package matching pattern, test variants
// included, and fails t when a package not exempted by allowed imports a
// forbidden path.
func AssertModuleImports(t testing.TB, pattern string, allowed, forbidden Forbidden) {
	t.Helper()
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		if allowed(pkg.PkgPath) {
			continue
		}
		for imp := range pkg.Imports {
			if forbidden(imp) {
				seen[pkg.PkgPath+": "+imp] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return
	}
	viols := make([]string, 0, len(seen))
	for v := range seen {
		viols = append(viols, v)
	}
	sort.Strings(viols)
	for _, v := range viols {
		t.Errorf("forbidden import: %s", v)
	}
	t.Fatalf("found %d forbidden imports", len(viols))
}
