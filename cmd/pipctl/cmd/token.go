package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	jwttoken "pipscreen/internal/jwt_token"
)

var (
	tokenUser        string
	tokenOrg         string
	tokenAdmin       bool
	tokenRoles       []string
	tokenPermissions []string
	tokenTTL         time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token signed with JWT_SIGNING_KEY",
	Long:  "Intended for development and smoke tests. Production tokens come from the identity provider.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.IsProduction() {
			return fmt.Errorf("refusing to mint tokens in production")
		}

		sub := jwttoken.Subject{
			IsSystemAdmin: tokenAdmin,
			Roles:         tokenRoles,
			Permissions:   tokenPermissions,
		}
		if tokenUser == "" {
			sub.UserID = uuid.New()
		} else if sub.UserID, err = uuid.Parse(tokenUser); err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
		if tokenOrg != "" {
			if sub.OrganisationID, err = uuid.Parse(tokenOrg); err != nil {
				return fmt.Errorf("invalid --org: %w", err)
			}
		}

		svc := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
		token, err := svc.GenerateAccessToken(sub, tokenTTL)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (random when empty)")
	tokenCmd.Flags().StringVar(&tokenOrg, "org", "", "organisation id")
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "mark the caller as system administrator")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "role names, e.g. \"Data Capturer\"")
	tokenCmd.Flags().StringSliceVar(&tokenPermissions, "permission", nil, "permission names, e.g. data_capturer")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
