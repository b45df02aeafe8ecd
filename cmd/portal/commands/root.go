// Package commands implements the portal CLI.
package commands

import (
	"github.com/benvon/hospital-portal/internal/config"
	"github.com/spf13/cobra"
)

// ConfigLoader supplies configuration to every command
type ConfigLoader func() (*config.Config, error)

type rootOptions struct {
	loadConfig ConfigLoader
	debug      bool
}

// NewRootCmd creates the portal command tree
func NewRootCmd(loadConfig ConfigLoader) *cobra.Command {
	opts := &rootOptions{loadConfig: loadConfig}

	cmd := &cobra.Command{
		Use:           "portal",
		Short:         "Command-line client for the hospital directory",
		Long:          "Log in, inspect your session and browse the hospital directory from the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newLoginCmd(opts))
	cmd.AddCommand(newLogoutCmd(opts))
	cmd.AddCommand(newRegisterCmd(opts))
	cmd.AddCommand(newWhoamiCmd(opts))
	cmd.AddCommand(newRefreshCmd(opts))
	cmd.AddCommand(newPasswdCmd(opts))
	cmd.AddCommand(newAvatarCmd(opts))
	cmd.AddCommand(newOpenCmd(opts))
	cmd.AddCommand(newHospitalsCmd(opts))
	return cmd
}
