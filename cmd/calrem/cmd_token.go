/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/calrem/internal/auth"
)

var (
	tokenSubject string
	tokenScope   string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for POST /trigger or GET /logs",
	Long: `Issue an HS256 token signed with CALREM_JWT_SECRET. The trigger scope
allows POST /trigger, the logs scope allows GET /logs.

Examples:
  curl -X POST -H "Authorization: Bearer $(calrem token --subject cron)" \
    http://localhost:8080/trigger

  curl -H "Authorization: Bearer $(calrem token --scope logs)" \
    "http://localhost:8080/logs?level=warn"
`,
	RunE: runToken,
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key KEY",
	Short: "Print the bcrypt hash of an API key",
	Long: `Print a bcrypt hash that can be listed in CALREM_API_KEYS in place of
the clear-text key.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashKey(args[0])
		if err != nil {
			return fmt.Errorf("hash key: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "calrem-cli", "Token subject")
	tokenCmd.Flags().StringVar(&tokenScope, "scope", auth.ScopeTrigger, "Token scope (trigger or logs)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(hashKeyCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("CALREM_JWT_SECRET is not set")
	}
	if tokenScope != auth.ScopeTrigger && tokenScope != auth.ScopeLogs {
		return fmt.Errorf("unknown scope %q", tokenScope)
	}

	token, err := auth.Issue([]byte(cfg.JWTSecret), tokenSubject, tokenScope, tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
