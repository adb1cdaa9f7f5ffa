package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"pipscreen/pkg/platform/secrets"
)

var adminTokenCmd = &cobra.Command{
	Use:   "admin-token",
	Short: "Generate an admin API token and its bcrypt hash",
	Long: "Prints a fresh token for operators and the ADMIN_API_TOKEN_HASH line for the server. " +
		"The plaintext token is not stored anywhere.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		token, err := secrets.Generate()
		if err != nil {
			return err
		}
		hash, err := secrets.Hash(token)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "token: %s\n", token)
		fmt.Fprintf(out, "ADMIN_API_TOKEN_HASH=%s\n", hash)
		return nil
	},
}
