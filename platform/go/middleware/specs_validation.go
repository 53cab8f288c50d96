package middleware

import (
	"context"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3filter"

	platformauth "github.com/zenGate-Global/palmyra-owner/platform/go/auth"
)

// ValidateAuthenticationViaSwagger satisfies operations that declare bearerAuth in the
// OpenAPI contract. It runs after the JWT middleware, so verified credentials are
// already on the request context; scopes listed in the contract are treated as roles.
func ValidateAuthenticationViaSwagger(ctx context.Context, input *openapi3filter.AuthenticationInput) error {
	if input == nil || input.SecuritySchemeName != "bearerAuth" {
		return nil
	}

	r := input.RequestValidationInput.Request
	if r == nil {
		return fmt.Errorf("no request in validation input")
	}

	creds, ok := platformauth.UserFromContext(r.Context())
	if !ok || creds == nil {
		return fmt.Errorf("missing or invalid bearer token")
	}

	for _, scope := range input.Scopes {
		if scope == platformauth.RoleAdmin && !creds.IsAdmin {
			return fmt.Errorf("%s role required", scope)
		}
	}
	return nil
}
