// Command token signs an operator API token with the configured JWT secret.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"smc-engine/config"
	"smc-engine/internal/auth"
	"smc-engine/internal/vault"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		operator   string
		scopes     []string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:          "token",
		Short:        "Issue an operator token for the SMC engine API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			client, err := vault.NewClient(cfg.Vault)
			if err != nil {
				return err
			}
			if client.IsEnabled() {
				if err := client.ApplyCredentials(cmd.Context(), cfg); err != nil {
					return err
				}
			}

			token, err := issueToken(cfg.Auth, operator, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "optional JSON config file")
	cmd.Flags().StringVar(&operator, "operator", "", "operator name recorded in the token")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopeRead}, "scopes to grant ("+strings.Join(auth.Scopes(), ", ")+")")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.access_token_duration)")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func issueToken(cfg config.AuthConfig, operator string, scopes []string, ttl time.Duration) (string, error) {
	if cfg.JWTSecret == "" {
		return "", errors.New("no JWT secret configured (auth.jwt_secret, AUTH_JWT_SECRET or vault)")
	}
	if strings.TrimSpace(operator) == "" {
		return "", errors.New("operator must not be empty")
	}
	for _, s := range scopes {
		if !auth.ValidScope(s) {
			return "", fmt.Errorf("unknown scope %q", s)
		}
	}
	if ttl <= 0 {
		ttl = cfg.AccessTokenDuration
	}

	return auth.NewJWTManager(cfg.JWTSecret, ttl).GenerateAccessToken(auth.OperatorClaims{
		Operator: operator,
		Scopes:   scopes,
	})
}
