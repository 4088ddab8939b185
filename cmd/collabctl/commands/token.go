package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lorrc/workspace-realtime/internal/auth"
)

type tokenOptions struct {
	secret string
	userID string
	orgID  string
	name   string
	ttl    time.Duration
}

func newTokenCmd() *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token",
		Long: `Sign a token with the service's JWT secret. Intended for local
development only; production tokens come from the auth service.

Example:
  export COLLAB_TOKEN=$(collabctl token --user u1 --name "Ada")`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.secret == "" {
				return fmt.Errorf("a signing secret is required: pass --secret or set $JWT_SECRET")
			}
			if opts.userID == "" {
				return fmt.Errorf("--user is required")
			}

			token, err := auth.NewTokenManager(opts.secret, opts.ttl).GenerateToken(opts.userID, opts.orgID, opts.name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.secret, "secret", os.Getenv("JWT_SECRET"), "Signing secret (defaults to $JWT_SECRET)")
	cmd.Flags().StringVarP(&opts.userID, "user", "u", "", "User id (subject)")
	cmd.Flags().StringVar(&opts.orgID, "org", "", "Organisation id")
	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "Display name")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
