package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the demo server.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authdemo",
		Short: "Demo server for the auth recipes",
		Long: `authdemo mounts the passwordless, email password and third party
sign in APIs in front of a tiny protected API, backed by an auth core.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")

	cmd.AddCommand(NewServeCmd())

	return cmd
}
