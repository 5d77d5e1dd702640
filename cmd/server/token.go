package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"exoweb/internal/auth"
	"exoweb/internal/config"
)

var (
	tokenRoles []string
	tokenTTL   = auth.DefaultTokenTTL
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an API token signed with the configured secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		tok, err := auth.GenerateToken(args[0], tokenRoles, cfg.Auth.JWTSecret, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "role to include in the token (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenTTL, "token lifetime")
}
