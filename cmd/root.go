package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/babelcloud/gbox/packages/avmux/config"
	"github.com/babelcloud/gbox/packages/avmux/internal/util"
	"github.com/babelcloud/gbox/packages/avmux/internal/version"
)

var (
	configFile string
	verbose    bool
	logFormat  string

	rootCmd = &cobra.Command{
		Use:   "avmux",
		Short: "Mux encoded H.264/AAC streams into media containers",
		Long: `avmux takes pre-encoded video and audio access units, aligns their clocks and
writes them into FLV, MPEG-TS, HLS, fragmented MP4 or Matroska.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				if err := config.LoadFile(configFile); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("verbose") {
				config.Set("log.verbose", verbose)
			}
			if cmd.Flags().Changed("log-format") {
				config.Set("log.format", logFormat)
			}
			util.InitLogger(config.GetLogVerbose(), config.GetLogFormat())
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flag("version").Changed {
				fmt.Println(version.Get())
				return nil
			}
			return cmd.Help()
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().Bool("version", false, "Print version information and exit")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (default: avmux.yaml in ., $XDG_CONFIG_HOME/avmux, /etc/avmux)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(NewMuxCommand())
	rootCmd.AddCommand(NewProbeCommand())
	rootCmd.AddCommand(NewFormatsCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
