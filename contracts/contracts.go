// Package contracts embeds the OpenAPI document served and enforced by the API.
package contracts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed owner.yaml
var OwnerYAML []byte

// Owner parses and validates the embedded owner contract.
func Owner(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	spec, err := loader.LoadFromData(OwnerYAML)
	if err != nil {
		return nil, fmt.Errorf("load owner contract: %w", err)
	}
	if err := spec.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate owner contract: %w", err)
	}
	return spec, nil
}
