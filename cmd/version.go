package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/babelcloud/gbox/packages/avmux/internal/version"
)

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Get()
			fmt.Printf("%s %s\n", color.New(color.Bold).Sprint("avmux"), info.Version)
			fmt.Printf("  Go version:  %s\n", info.GoVersion)
			fmt.Printf("  Git commit:  %s\n", info.Commit)
			fmt.Printf("  Built:       %s\n", info.Built)
			fmt.Printf("  OS/Arch:     %s\n", info.Platform)
		},
	}
}
