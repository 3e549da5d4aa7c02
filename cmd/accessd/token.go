package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-access/internal/api"
)

func tokenCmd(load configLoader) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint an API bearer token",
		Long: `Sign a bearer token for the HTTP API with the configured secret.
The subject is recorded in request logs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !cfg.Security.JWT.Enabled {
				return errors.New("security.jwt.enabled is false; the API accepts requests without a token")
			}
			if ttl <= 0 {
				ttl = cfg.Security.JWT.TokenTTL
			}

			token, err := api.IssueToken(cfg.Security.JWT.Secret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.token_ttl)")
	return cmd
}
