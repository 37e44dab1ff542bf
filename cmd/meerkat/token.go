package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meerkat-chat/meerkat/internal/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			userID, _ := cmd.Flags().GetInt64("user")
			if userID <= 0 {
				return errors.New("--user is required")
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}
			token, expiresAt, err := auth.GenerateToken(userID, cfg.Auth.JWTSecret, cfg.Auth.ExpiresIn())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}
	cmd.Flags().Int64("user", 0, "user id to mint the token for")
	return cmd
}
