package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/babelcloud/gbox/packages/avmux/config"
	"github.com/babelcloud/gbox/packages/avmux/internal/av"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/aac"
	"github.com/babelcloud/gbox/packages/avmux/internal/codec/h264"
	"github.com/babelcloud/gbox/packages/avmux/internal/mux"
	"github.com/babelcloud/gbox/packages/avmux/internal/source"
	"github.com/babelcloud/gbox/packages/avmux/internal/util"
)

// MuxOptions holds command options
type MuxOptions struct {
	Video              string
	Audio              string
	Output             string
	Format             string
	FPS                int
	Interleave         bool
	MaxInterleaveDelta int64
	HLSTime            int
	WallClock          bool
	Realtime           bool
}

// NewMuxCommand creates the mux command
func NewMuxCommand() *cobra.Command {
	opts := &MuxOptions{}

	cmd := &cobra.Command{
		Use:   "mux",
		Short: "Mux an H.264 and/or AAC elementary stream into a container",
		Long: `Read an Annex-B H.264 file and an ADTS AAC file, feed them through one muxing
session from two goroutines, and write the selected container format.`,
		Example: `  avmux mux --video in.h264 --audio in.aac -o out.flv
  avmux mux --video in.h264 -f hls -o live/index.m3u8 --hls-time 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Video == "" && opts.Audio == "" {
				return errors.New("at least one of --video or --audio is required")
			}
			return runMux(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Video, "video", "", "Annex-B H.264 input file")
	cmd.Flags().StringVar(&opts.Audio, "audio", "", "ADTS AAC input file")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", config.GetOutputPath(), "Output file or playlist")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", config.GetOutputFormat(), "Container format (flv, mpegts, hls, mp4, matroska)")
	cmd.Flags().IntVar(&opts.FPS, "fps", config.GetVideoFPS(), "Frame rate of the H.264 input")
	cmd.Flags().BoolVar(&opts.Interleave, "interleave", config.GetInterleave(), "Order packets by DTS across tracks before writing")
	cmd.Flags().Int64Var(&opts.MaxInterleaveDelta, "max-interleave-delta", config.GetMaxInterleaveDelta(), "Interleaving buffer limit in microseconds (0 = unbounded)")
	cmd.Flags().IntVar(&opts.HLSTime, "hls-time", config.GetHLSSegmentDuration(), "Target HLS segment duration in seconds")
	cmd.Flags().BoolVar(&opts.WallClock, "wall-clock", true, "Offset timestamps by the start time, as a live encoder clock would")
	cmd.Flags().BoolVar(&opts.Realtime, "realtime", false, "Pace input at its native rate")

	return cmd
}

// producer feeds one elementary stream into the session.
type producer struct {
	kind  av.Kind
	first *source.Frame
	next  func() (*source.Frame, error)
	file  io.Closer
	// clock multiplies timestamps the way the encoder clock counts them.
	clock int64

	written, skipped, failed int64
}

func runMux(ctx context.Context, opts *MuxOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logrus.WithFields(logrus.Fields{"output": opts.Output, "format": opts.Format})

	builder, err := mux.NewDescriptorBuilder(opts.Format)
	if err != nil {
		return errors.Wrap(err, "mux")
	}
	builder.AllowPassthrough = true

	var (
		producers []*producer
		openOpts  = mux.OpenOptions{
			OutputPath:         opts.Output,
			FormatName:         opts.Format,
			MaxInterleaveDelta: opts.MaxInterleaveDelta,
			HLSSegmentDuration: opts.HLSTime,
		}
	)
	defer func() {
		for _, p := range producers {
			p.file.Close()
		}
	}()

	if opts.Video != "" {
		p, desc, err := openVideo(opts.Video, opts.FPS, builder)
		if err != nil {
			return errors.Wrapf(err, "open video input %s", opts.Video)
		}
		producers = append(producers, p)
		openOpts.Video = desc
		log.WithFields(logrus.Fields{"width": desc.Width(), "height": desc.Height(), "fps": opts.FPS}).Info("Video input ready")
	}
	if opts.Audio != "" {
		p, desc, err := openAudio(opts.Audio, builder)
		if err != nil {
			return errors.Wrapf(err, "open audio input %s", opts.Audio)
		}
		producers = append(producers, p)
		openOpts.Audio = desc
		log.WithFields(logrus.Fields{"sample_rate": desc.SampleRate(), "channels": desc.ChannelCount()}).Info("Audio input ready")
	}

	session := mux.NewSyncSession(mux.WithLogger(util.GetLogger()))
	if err := session.Open(ctx, openOpts); err != nil {
		return errors.Wrap(err, "open session")
	}

	var base int64
	if opts.WallClock {
		base = time.Now().UnixMicro()
	}
	start := time.Now()

	p := pool.New().WithContext(ctx).WithCancelOnError()
	for _, prod := range producers {
		p.Go(func(ctx context.Context) error {
			return prod.run(ctx, session, base, opts)
		})
	}
	runErr := p.Wait()
	closeErr := session.Close()

	stats := session.Stats()
	printMuxSummary(opts, stats, time.Since(start))
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "finalize")
	}
	return nil
}

func openVideo(path string, fps int, builder *mux.DescriptorBuilder) (*producer, *av.StreamDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r, err := source.NewH264Reader(f, av.Rational{Num: int64(fps), Den: 1})
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	first, err := r.Next()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, nil, errors.New("no access units")
		}
		return nil, nil, err
	}

	width, height := config.GetVideoSize()
	var extra []byte
	if sps, pps := r.ParameterSets(); sps != nil && pps != nil {
		if w, h, err := h264.Dimensions(sps); err == nil {
			width, height = w, h
		}
		if extra, err = h264.BuildAvcc(sps, pps); err != nil {
			f.Close()
			return nil, nil, err
		}
	}
	desc, err := builder.BuildVideoDescriptor(width, height, av.PixelFormat(config.GetVideoPixelFormat()), av.CodecH264, extra)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return &producer{kind: av.KindVideo, first: first, next: r.Next, file: f, clock: 1}, desc, nil
}

func openAudio(path string, builder *mux.DescriptorBuilder) (*producer, *av.StreamDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r := source.NewADTSReader(f, true)
	conf, err := r.Config()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	extra, err := aac.MarshalConfig(conf)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	desc, err := builder.BuildAudioDescriptor(conf.SampleRate, conf.ChannelCount, av.SampleFormat(config.GetAudioSampleFormat()), av.CodecAAC, extra)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	first, err := r.Next()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, nil, errors.New("no frames")
		}
		return nil, nil, err
	}
	return &producer{kind: av.KindAudio, first: first, next: r.Next, file: f, clock: int64(conf.ChannelCount)}, desc, nil
}

func (p *producer) run(ctx context.Context, s *mux.SyncSession, base int64, opts *MuxOptions) error {
	log := logrus.WithFields(logrus.Fields{"track": p.kind.String(), "session": s.ID()})
	start := time.Now()

	frame := p.first
	for frame != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.Realtime {
			if d := time.Duration(frame.PTS)*time.Microsecond - time.Since(start); d > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(d):
				}
			}
		}

		err := s.WritePacket(&mux.Packet{
			Kind:       p.kind,
			Data:       frame.Data,
			PTS:        (base + frame.PTS) * p.clock,
			Keyframe:   frame.Keyframe,
			Interleave: opts.Interleave,
		})
		switch {
		case err == nil:
			p.written++
			if p.written%250 == 0 {
				log.WithField("packets", p.written).Debug("Progress")
			}
		case errors.Is(err, mux.ErrSkipPacket):
			p.skipped++
		case errors.Is(err, mux.ErrWrite) && mux.CodeOf(err) != av.CodeNotOpen:
			p.failed++
			log.WithError(err).Warn("Packet rejected")
		default:
			return errors.Wrapf(err, "%s producer", p.kind)
		}

		frame, err = p.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "read %s input", p.kind)
		}
	}
	log.WithFields(logrus.Fields{"written": p.written, "skipped": p.skipped, "failed": p.failed}).Info("Input finished")
	return nil
}

func printMuxSummary(opts *MuxOptions, stats mux.Stats, elapsed time.Duration) {
	fmt.Printf("\n%s %s (%s) in %s\n", color.GreenString("Wrote"), color.CyanString(opts.Output), opts.Format, elapsed.Round(time.Millisecond))
	row := func(name string, t mux.TrackStats) {
		line := fmt.Sprintf("  %-6s written %d", name, t.Written)
		if t.Skipped > 0 {
			line += color.YellowString(", skipped %d", t.Skipped)
		}
		if t.Failed > 0 {
			line += color.RedString(", failed %d", t.Failed)
		}
		fmt.Println(line)
	}
	if opts.Video != "" {
		row("video", stats.Video)
	}
	if opts.Audio != "" {
		row("audio", stats.Audio)
	}
}
