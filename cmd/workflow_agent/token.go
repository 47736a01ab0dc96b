package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jonathan/seo-workflows/internal/config"
	"github.com/jonathan/seo-workflows/internal/server"
	"github.com/spf13/cobra"
)

var tokenOwner string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token for an owner",
	Long: `Sign a bearer token with JWT_SECRET. Without --owner a new owner ID is generated.
The token is printed on stdout so it can be captured by scripts.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOwner, "owner", "", "Owner ID to issue the token for")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(config.NeedAuth)
	if err != nil {
		return err
	}
	token, owner, err := issueToken(cfg.Auth, tokenOwner)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "owner: %s (valid %s)\n", owner, cfg.Auth.TokenTTL())
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func issueToken(cfg config.JWTConfig, ownerArg string) (string, uuid.UUID, error) {
	owner := uuid.New()
	if ownerArg != "" {
		var err error
		if owner, err = uuid.Parse(ownerArg); err != nil {
			return "", uuid.Nil, fmt.Errorf("invalid --owner %q: %w", ownerArg, err)
		}
	}
	token, err := server.NewJWTService(cfg).GenerateToken(owner)
	if err != nil {
		return "", uuid.Nil, err
	}
	return token, owner, nil
}
