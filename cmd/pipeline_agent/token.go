package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jonathan/extraction-pipeline/internal/config"
	"github.com/jonathan/extraction-pipeline/internal/server"
	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the REST API",
	Long:  `Signs an HS256 token with JWT_SECRET for the given subject. The token is printed to stdout.`,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Caller name embedded in the token (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default JWT_TTL or 24h)")
	_ = tokenCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	jwtConfig, err := config.NewJWTConfig(os.Getenv)
	if err != nil {
		return fmt.Errorf("failed to create JWT config: %w", err)
	}
	if tokenTTL < 0 {
		return fmt.Errorf("--ttl must not be negative")
	}

	token, err := server.NewJWTService(jwtConfig).GenerateToken(tokenSubject, tokenTTL)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
