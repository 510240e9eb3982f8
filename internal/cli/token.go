package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"creative-review-engine/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token for a tenant",
	Long: `Sign a token with JWT_SECRET (and JWT_ISSUER when set) for local testing
and service-to-service calls.

Examples:
  reviewengine token --tenant acme
  reviewengine token --tenant acme --principal ops --ttl 1h`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().String("tenant", "", "tenant id (required)")
	tokenCmd.Flags().String("principal", "", "principal id")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("tenant")
}

func runToken(cmd *cobra.Command, args []string) error {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	m, err := auth.NewManager(secret, os.Getenv("JWT_ISSUER"))
	if err != nil {
		return err
	}
	tenant, _ := cmd.Flags().GetString("tenant")
	principal, _ := cmd.Flags().GetString("principal")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	token, err := m.Issue(time.Now(), tenant, principal, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
