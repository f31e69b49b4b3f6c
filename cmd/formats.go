package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
	"github.com/babelcloud/gbox/packages/avmux/internal/container"
)

// NewFormatsCommand creates the formats command
func NewFormatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported output formats",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFormats()
			return nil
		},
	}
}

func printFormats() {
	for _, f := range container.Formats() {
		fmt.Printf("%s  %s\n", color.New(color.FgCyan, color.Bold).Sprintf("%-9s", f.Name), f.LongName)
		fmt.Printf("    extensions:  %s\n", strings.Join(f.Extensions, ", "))
		fmt.Printf("    codecs:      %s\n", joinCodecs(f.Codecs))
		if len(f.PassthroughCodecs) > 0 {
			fmt.Printf("    passthrough: %s\n", joinCodecs(f.PassthroughCodecs))
		}
		var flags []string
		if f.Flags&container.FlagGlobalHeader != 0 {
			flags = append(flags, "global-header")
		}
		if f.Flags&container.FlagNoFile != 0 {
			flags = append(flags, "segmented")
		}
		if len(flags) > 0 {
			color.New(color.Faint).Printf("    flags:       %s\n", strings.Join(flags, ", "))
		}
	}
}

func joinCodecs(codecs []av.CodecID) string {
	names := make([]string, len(codecs))
	for i, c := range codecs {
		names[i] = c.String()
	}
	return strings.Join(names, ", ")
}
