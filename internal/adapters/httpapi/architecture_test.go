package httpapi

import (
	"testing"

	"metax/testutil"
)

func TestHandlersUseServicesOnly(t *testing.T) {
	testutil.AssertNoImports(t, ".", testutil.Any(
		testutil.Under("metax/internal/infra"),
		testutil.Under("metax/internal/v2sync"),
		testutil.Under("metax/internal/locks"),
	), "handlers reach storage through the services")
}
