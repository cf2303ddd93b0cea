package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"toolgate/internal/audit"
	"toolgate/internal/config"
	"toolgate/internal/server"
	"toolgate/internal/token"
)

var (
	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Manage issued token records",
	}

	tokenRevokeCmd = &cobra.Command{
		Use:   "revoke <jti>",
		Short: "Revoke a token pair by its id",
		Args:  cobra.ExactArgs(1),
		RunE:  runTokenRevoke,
	}

	tokenCleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Drop token records whose refresh expiry has passed",
		RunE:  runTokenCleanup,
	}

	tokenDataDir string
)

// GetTokenCommand returns the token command for the root command.
func GetTokenCommand() *cobra.Command { return tokenCmd }

func init() {
	tokenCmd.AddCommand(tokenRevokeCmd, tokenCleanupCmd)
	tokenCmd.PersistentFlags().StringVarP(&tokenDataDir, "data-dir", "d", "", "Data directory path")
}

func tokenStores() (*token.Registry, *audit.Log) {
	dir := tokenDataDir
	if dir == "" {
		dir = config.DefaultConfig().DataDir
	}
	reg := token.NewRegistry(filepath.Join(dir, server.TokensFileName))
	log := audit.NewLog(filepath.Join(dir, server.AuditFileName), zap.NewNop().Sugar())
	return reg, log
}

func runTokenRevoke(_ *cobra.Command, args []string) error {
	jti := args[0]
	reg, auditLog := tokenStores()

	rec, err := reg.GetByJTI(jti)
	if err != nil {
		return err
	}
	if err := reg.Revoke(jti); err != nil {
		return err
	}
	if err := auditLog.TokenRevoked(rec.ClientID, jti); err != nil {
		return err
	}
	fmt.Printf("Token %s revoked\n", jti)
	return nil
}

func runTokenCleanup(_ *cobra.Command, _ []string) error {
	reg, _ := tokenStores()
	removed, err := reg.CleanupExpired()
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d expired token record(s)\n", removed)
	return nil
}
