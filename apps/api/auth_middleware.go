package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	tenantsservice "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
	platformauth "github.com/zenGate-Global/palmyra-owner/platform/go/auth"
	"github.com/zenGate-Global/palmyra-owner/platform/go/gcp"
)

// buildVerifier picks the token verifier for the configured auth provider.
func buildVerifier(ctx context.Context, cfg config, logger *zap.Logger) (platformauth.VerifyFunc, error) {
	switch cfg.AuthProvider {
	case "firebase":
		fbAuth, err := gcp.InitFirebaseAuth(ctx, cfg.FirebaseCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("init firebase auth: %w", err)
		}
		return platformauth.FirebaseTokenVerifier(fbAuth), nil
	case "hmac":
		if strings.TrimSpace(cfg.AuthHMACSecret) == "" {
			return nil, fmt.Errorf("AUTH_HMAC_SECRET is required when AUTH_PROVIDER=hmac")
		}
		return platformauth.HMACTokenVerifier([]byte(cfg.AuthHMACSecret)), nil
	case "dev":
		logger.Warn("using dev auth middleware; do not use in production")
		return platformauth.UnsignedTokenVerifier(), nil
	default:
		return nil, fmt.Errorf("unsupported auth provider %q", cfg.AuthProvider)
	}
}

// buildAuthMiddleware verifies bearer tokens and maps slug-style tenant claims
// to internal tenant ids. Admin tokens may omit the tenant claim.
func buildAuthMiddleware(verify platformauth.VerifyFunc, tenants *tenantsservice.Service) func(http.Handler) http.Handler {
	extract := func(claims map[string]interface{}) (*platformauth.UserCredentials, error) {
		creds, err := platformauth.DefaultCredentialExtractor(claims)
		if err != nil {
			return nil, err
		}
		if creds.TenantID == nil || *creds.TenantID == "" {
			creds.TenantID = nil
			return creds, nil
		}

		// Already an internal UUID? keep it.
		if tid, parseErr := uuid.Parse(*creds.TenantID); parseErr == nil {
			idStr := tid.String()
			creds.TenantID = &idStr
			return creds, nil
		}

		// Otherwise treat it as the tenant slug.
		t, err := tenants.FindBySlug(context.Background(), *creds.TenantID)
		if err != nil {
			return nil, fmt.Errorf("resolve tenant claim: %w", err)
		}
		idStr := t.ID.String()
		creds.TenantID = &idStr
		return creds, nil
	}

	return platformauth.JWT(verify, extract)
}
