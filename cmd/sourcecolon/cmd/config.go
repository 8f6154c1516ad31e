package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sourcecolon/sourcecolon/internal/config"
	"github.com/sourcecolon/sourcecolon/internal/listener"
	"github.com/sourcecolon/sourcecolon/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect, write and push configuration",
		Long: `Inspect, write and push the runtime configuration.

Precedence (lowest to highest):
  1. Hardcoded defaults
  2. The configuration file (--config)
  3. Environment variables (SOURCECOLON_*)`,
		Example: `  # Show effective configuration
  sourcecolon config show

  # Write the effective configuration to a file
  sourcecolon config write /etc/sourcecolon.yaml

  # Install the effective configuration into a running server
  sourcecolon config push 127.0.0.1:2424`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigWriteCmd())
	cmd.AddCommand(newConfigPushCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			data, err := store.Serialize()
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Raw(string(data))
			return nil
		},
	}
}

func newConfigWriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <path>",
		Short: "Write the effective configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			if err := store.WriteFile(args[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("wrote %s", args[0])
			return nil
		},
	}
}

func newConfigPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <addr>",
		Short: "Send the effective configuration to a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gen, err := listener.Send(cmd.Context(), args[0], cfg)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("%s installed configuration generation %d", args[0], gen)
			return nil
		},
	}
}
