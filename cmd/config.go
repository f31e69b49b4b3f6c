package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/babelcloud/gbox/packages/avmux/config"
)

// NewConfigCommand creates the config command
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigShowCommand())
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	var asTOML bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asTOML {
				b, err := config.MarshalTOML()
				if err != nil {
					return errors.Wrap(err, "config show")
				}
				fmt.Print(string(b))
				return nil
			}
			if used := config.ConfigFileUsed(); used != "" {
				color.New(color.Faint).Printf("# %s\n", used)
			}
			for _, key := range config.AllKeys() {
				fmt.Printf("%s = %v\n", color.CyanString(key), config.Get(key))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asTOML, "toml", false, "Print as TOML")
	return cmd
}
