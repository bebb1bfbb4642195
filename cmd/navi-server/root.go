package main

import (
	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	serverAddr string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "navi-server",
		Short: "Session hierarchy coordination service",
		Long: `navi-server hosts a tree of agent sessions: spawning children,
escalating blockers up the tree, delivering results, and archiving
finished subtrees. The serve command runs the API; the other commands
are thin HTTP clients for inspecting and unblocking live trees.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().StringVarP(&opts.serverAddr, "server", "s", "http://127.0.0.1:8787", "Server address for client commands")

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newTreeCommand(opts))
	rootCmd.AddCommand(newBlockedCommand(opts))
	rootCmd.AddCommand(newResolveCommand(opts))
	rootCmd.AddCommand(newPresetsCommand(opts))

	return rootCmd
}
