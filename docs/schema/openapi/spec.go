// Package openapi embeds the OpenAPI description of the REST API.
package openapi

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed metax.yaml
var document []byte

// Spec returns a copy of the embedded OpenAPI YAML.
func Spec() []byte {
	return append([]byte(nil), document...)
}

// JSON returns the OpenAPI document encoded as JSON.
func JSON() ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(document, &doc); err != nil {
		return nil, fmt.Errorf("decode openapi document: %w", err)
	}
	return json.Marshal(doc)
}
