package domain

import (
	"testing"

	"metax/testutil"
)

func TestDomainHasNoServiceImports(t *testing.T) {
	testutil.AssertNoImports(t, ".", testutil.Under("metax/internal"), "domain types stay free of service code")
}
