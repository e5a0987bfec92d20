package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nexus/manuals/internal/auth"
)

var (
	tokenUserName  string
	tokenCompanyID string
	tokenRole      string
	tokenTTL       time.Duration

	tokenCmd = &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token signed with MANUALS_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
)

func init() {
	tokenCmd.Flags().StringVar(&tokenUserName, "name", "", "display name")
	tokenCmd.Flags().StringVar(&tokenCompanyID, "company", "", "company id")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "", "global role")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	userID := strings.TrimSpace(args[0])
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if tokenTTL <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}
	token, err := auth.NewVerifier(cfg.JWTSecret).Issue(auth.Identity{
		UserID:     userID,
		UserName:   tokenUserName,
		CompanyID:  tokenCompanyID,
		GlobalRole: tokenRole,
	}, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
