package openapi

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpecReturnsCopy(t *testing.T) {
	want, err := os.ReadFile("metax.yaml")
	require.NoError(t, err)

	spec := Spec()
	require.Equal(t, want, spec)
	spec[0] ^= 0xFF
	require.Equal(t, want, Spec())
}

func TestJSON(t *testing.T) {
	data, err := JSON()
	require.NoError(t, err)

	var doc struct {
		OpenAPI string                    `json:"openapi"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, "3.0.3", doc.OpenAPI)
	require.Contains(t, doc.Paths, "/datasets/{id}/publish")
	require.Contains(t, doc.Paths["/datasets"], "post")
}
