// Package cmd provides the CLI commands for Command Relay.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Command-Relay/commandrelay/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "command-relay",
	Short: "Command Relay - AI command gateway",
	Long: `Command Relay is a policy gateway between AI agents and the commands
they want to run on a host.

Agents connect over WebSocket and submit routing decisions; the gateway
classifies each command against configured policies, rate-limits
admissions, holds risky commands for human confirmation, and streams
execution output back to the agent. An HTTP admin API manages policies
and pending confirmations at runtime.

Quick start:
  1. Create a config file: command-relay.yaml
  2. Run: command-relay start

Configuration:
  Config is loaded from command-relay.yaml in the current directory,
  $HOME/.command-relay/, or /etc/command-relay/.

  Environment variables can override config values with the
  COMMAND_RELAY_ prefix.
  Example: COMMAND_RELAY_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the gateway server
  sweep       Expire overdue pending confirmations and exit
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./command-relay.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
