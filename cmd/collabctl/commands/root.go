// Package commands implements the collabctl CLI: a terminal client for the
// realtime service used for local development and smoke tests.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultServer = "http://localhost:8080"
	tokenEnv      = "COLLAB_TOKEN"
)

type globalOptions struct {
	server string
	token  string
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "collabctl",
		Short: "collabctl - terminal client for the workspace realtime service",
		Long: `collabctl connects to the workspace realtime service the way a browser does.

It can watch a workspace (events, presence, typing and notifications),
publish domain events as the CRUD layer would, and mint development tokens.`,
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVarP(&opts.server, "server", "s", defaultServer, "Base URL of the realtime service")
	root.PersistentFlags().StringVarP(&opts.token, "token", "t", os.Getenv(tokenEnv), "Bearer token (defaults to $"+tokenEnv+")")

	root.AddCommand(
		newWatchCmd(opts),
		newPublishCmd(opts),
		newTokenCmd(),
	)
	return root
}

// Execute runs the CLI and prints any error in colour.
func Execute(version string) error {
	root := NewRootCmd(version)
	if err := root.Execute(); err != nil {
		printError(root.ErrOrStderr(), err)
		return err
	}
	return nil
}
