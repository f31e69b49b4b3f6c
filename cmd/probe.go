package cmd

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/babelcloud/gbox/packages/avmux/internal/probe"
)

// ProbeOptions holds command options
type ProbeOptions struct {
	ShowPackets bool
	Limit       int
}

// NewProbeCommand creates the probe command
func NewProbeCommand() *cobra.Command {
	opts := &ProbeOptions{}

	cmd := &cobra.Command{
		Use:   "probe FILE",
		Short: "Show tracks and packets of a container file",
		Long:  `Read back an FLV, MPEG-TS, HLS playlist, fragmented MP4 or Matroska file and print its tracks, metadata and packet timeline.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.ShowPackets, "packets", "p", false, "List every packet")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Stop listing packets after this many (0 = all)")

	return cmd
}

func runProbe(cmd *cobra.Command, path string, opts *ProbeOptions) error {
	res, err := probe.File(cmd.Context(), path)
	if err != nil {
		return errors.Wrapf(err, "probe %s", path)
	}

	bold := color.New(color.Bold)
	bold.Printf("%s (%s)\n", path, res.Format)
	for _, t := range res.Tracks {
		fmt.Printf("  track %d: %-5s %-6s time base %s\n", t.ID, t.Kind, t.Codec, t.TimeBase)
	}
	if len(res.Metadata) > 0 {
		keys := make([]string, 0, len(res.Metadata))
		for k := range res.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("  metadata:")
		for _, k := range keys {
			fmt.Printf("    %s: %v\n", k, res.Metadata[k])
		}
	}
	if len(res.Segments) > 0 {
		fmt.Printf("  segments: %d (ended: %v)\n", len(res.Segments), res.Ended)
		for _, s := range res.Segments {
			fmt.Printf("    %s  %.3fs\n", s.URI, s.Duration.Seconds())
		}
	}
	if res.Configs > 0 {
		fmt.Printf("  codec config records: %d\n", res.Configs)
	}

	kinds := map[string]int{}
	for _, p := range res.Packets {
		kinds[p.Kind.String()]++
	}
	fmt.Printf("  packets: %d", len(res.Packets))
	for _, k := range []string{"video", "audio"} {
		if n, ok := kinds[k]; ok {
			fmt.Printf(", %s %d", k, n)
		}
	}
	fmt.Println()

	if !opts.ShowPackets {
		return nil
	}
	faint := color.New(color.Faint)
	for i, p := range res.Packets {
		if opts.Limit > 0 && i >= opts.Limit {
			faint.Printf("  ... %d more\n", len(res.Packets)-i)
			break
		}
		key := ""
		if p.Keyframe {
			key = color.GreenString("K")
		}
		fmt.Printf("  #%-5d track %d %-5s pts %-10d dts %-10d size %-7d %s\n",
			i, p.Track, p.Kind, p.PTS, p.DTS, p.Size, key)
	}
	return nil
}
