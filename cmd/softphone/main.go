package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	apiAddr string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "softphone",
		Short:         "Headless SIP softphone",
		Long:          "softphone registers a SIP address of record, tracks incoming calls and keeps a call history, controlled over a local HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("SOFTPHONE_CONFIG"), "config file (YAML)")
	cmd.PersistentFlags().StringVar(&apiAddr, "api", "", "API address for client commands (default from config)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newControlCmd("connect", "Connect the transport"))
	cmd.AddCommand(newControlCmd("disconnect", "Disconnect the transport"))
	cmd.AddCommand(newControlCmd("register", "Register the address of record"))
	cmd.AddCommand(newControlCmd("unregister", "Remove the registration"))
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}
