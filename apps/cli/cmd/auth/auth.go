package auth

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	platformauth "github.com/zenGate-Global/palmyra-owner/platform/go/auth"
)

// Command groups token helpers for local and staging use.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication helpers (HMAC tokens)",
	}
	cmd.AddCommand(tokenCommand())
	return cmd
}

func tokenCommand() *cobra.Command {
	var (
		secret string
		claims platformauth.TokenClaims
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token accepted when AUTH_PROVIDER=hmac",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("AUTH_HMAC_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or AUTH_HMAC_SECRET is required")
			}

			token, err := platformauth.SignHMAC([]byte(secret), claims, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "HMAC secret; defaults to AUTH_HMAC_SECRET")
	cmd.Flags().StringVar(&claims.Subject, "subject", "", "sub claim")
	cmd.Flags().StringVar(&claims.Email, "email", "", "email claim")
	cmd.Flags().BoolVar(&claims.IsAdmin, "admin", false, "set isAdmin=true")
	cmd.Flags().StringVar(&claims.TenantID, "tenant", "", "tenant id or slug for the tenantId claim")
	cmd.Flags().DurationVar(&claims.TTL, "expires-in", time.Hour, "token lifetime (e.g. 30m, 2h)")

	_ = cmd.MarkFlagRequired("subject")

	return cmd
}
