// Package mux implements the muxing session: it anchors and rescales the
// timestamps of two independently clocked encoder outputs and feeds them,
// interleaved, into a container writer.
package mux

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
	"github.com/babelcloud/gbox/packages/avmux/internal/container"
)

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StatePrepared
	StateRunning
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrepared:
		return "prepared"
	case StateRunning:
		return "running"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// KeyFrameFlag is the keyframe bit of encoder buffer flags.
const KeyFrameFlag = 1

// KeyframeFromFlags reports whether encoder buffer flags mark a keyframe.
func KeyframeFromFlags(flags int) bool {
	return flags&KeyFrameFlag != 0
}

// Packet is one encoded access unit. Data is borrowed for the duration of
// WritePacket only. PTS is in the session's source time base.
type Packet struct {
	Kind       av.Kind
	Data       []byte
	PTS        int64
	Keyframe   bool
	Interleave bool
}

// OpenOptions configures Session.Open.
type OpenOptions struct {
	OutputPath string
	FormatName string
	Video      *av.StreamDescriptor
	Audio      *av.StreamDescriptor
	// MaxInterleaveDelta is in microseconds. Zero waits for every stream.
	MaxInterleaveDelta int64
	// HLSSegmentDuration is in seconds and only applies to the hls format.
	HLSSegmentDuration int
}

// TrackStats counts packets per track.
type TrackStats struct {
	Written int64
	Skipped int64
	Failed  int64
}

// Stats summarizes a session.
type Stats struct {
	Video TrackStats
	Audio TrackStats
}

func (s *Stats) track(kind av.Kind) *TrackStats {
	if kind == av.KindVideo {
		return &s.Video
	}
	return &s.Audio
}

// containerWriter is the part of container.Output a session drives.
type containerWriter interface {
	AddStream(d *av.StreamDescriptor) (*container.Stream, error)
	SetOption(key string, value int64) error
	Open() error
	WriteHeader() error
	WritePacket(pkt *av.Packet) error
	WriteTrailer() error
	Close() error
}

type writerFactory func(formatName, path string, logger *slog.Logger) (containerWriter, error)

func newContainerOutput(formatName, path string, logger *slog.Logger) (containerWriter, error) {
	out, err := container.NewOutput(formatName, path, logger)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Session multiplexes one video and one audio track into a container.
// It is not safe for concurrent use; see SyncSession.
type Session struct {
	id       string
	logger   *slog.Logger
	registry *Registry
	source   av.Rational
	newOut   writerFactory

	state   State
	path    string
	token   string
	out     containerWriter
	streams map[av.Kind]*container.Stream
	norm    *TimebaseNormalizer
	inter   *Interleaver
	stats   Stats
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry sets the registry guarding output paths.
func WithRegistry(r *Registry) Option {
	return func(s *Session) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithSourceTimeBase sets the time base of incoming packet timestamps.
// The default is microseconds.
func WithSourceTimeBase(tb av.Rational) Option {
	return func(s *Session) {
		if tb.Valid() {
			s.source = tb
		}
	}
}

// NewSession returns an idle session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		logger:   slog.Default(),
		registry: DefaultRegistry,
		source:   av.Universal,
		newOut:   newContainerOutput,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "mux_session", "session", s.id)
	return s
}

// ID returns the session id used in logs and by the registry.
func (s *Session) ID() string {
	return s.id
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Stats returns packet counters.
func (s *Session) Stats() Stats {
	return s.stats
}

// TimeBase returns the container time base assigned to a registered track.
func (s *Session) TimeBase(kind av.Kind) (av.Rational, bool) {
	st, ok := s.streams[kind]
	if !ok {
		return av.Rational{}, false
	}
	return st.TimeBase, true
}

// Descriptor returns the registered descriptor of a track, bound to its
// container time base.
func (s *Session) Descriptor(kind av.Kind) (*av.StreamDescriptor, bool) {
	st, ok := s.streams[kind]
	if !ok {
		return nil, false
	}
	return st.Desc, true
}

// Open registers the descriptors, creates the container and writes its
// header. On failure the session stays idle and everything allocated is
// released; a partially written file may remain on disk.
func (s *Session) Open(ctx context.Context, opts OpenOptions) (err error) {
	const op = "open"
	if s.state != StateIdle {
		return newErrorf(ErrOpen, op, av.CodeAlreadyOpen, "session is %s", s.state)
	}
	if err := ctx.Err(); err != nil {
		return newError(ErrOpen, op, err)
	}
	if opts.Video == nil && opts.Audio == nil {
		return newErrorf(ErrConfig, op, av.CodeInvalidArgument, "at least one stream descriptor is required")
	}
	if opts.Video != nil && opts.Video.Kind() != av.KindVideo {
		return newErrorf(ErrConfig, op, av.CodeInvalidArgument, "video slot holds a %s descriptor", opts.Video.Kind())
	}
	if opts.Audio != nil && opts.Audio.Kind() != av.KindAudio {
		return newErrorf(ErrConfig, op, av.CodeInvalidArgument, "audio slot holds a %s descriptor", opts.Audio.Kind())
	}
	format, err := container.Lookup(opts.FormatName)
	if err != nil {
		return newError(ErrConfig, op, err)
	}
	descs := make([]*av.StreamDescriptor, 0, 2)
	for _, d := range []*av.StreamDescriptor{opts.Video, opts.Audio} {
		if d == nil {
			continue
		}
		if !format.Supports(d.Codec(), d.Passthrough()) {
			return newErrorf(ErrConfig, op, av.CodeCodecUnsupported, "%s cannot be stored in %s", d.Codec(), format.Name)
		}
		descs = append(descs, d)
	}

	s.registry.Lock(opts.OutputPath)
	defer s.registry.Unlock(opts.OutputPath)
	token, err := s.registry.Acquire(opts.OutputPath, s.id)
	if err != nil {
		return newError(ErrOpen, op, err)
	}
	var out containerWriter
	defer func() {
		if err == nil {
			return
		}
		if out != nil {
			if cerr := out.Close(); cerr != nil {
				s.logger.Warn("Failed to release container after open error", "error", cerr)
			}
		}
		s.registry.Release(opts.OutputPath, token)
		s.streams = nil
		s.logger.Error("Failed to open session", "path", opts.OutputPath, "format", format.Name, "error", err)
	}()

	out, err = s.newOut(format.Name, opts.OutputPath, s.logger)
	if err != nil {
		return newError(ErrOpen, "alloc output", err)
	}
	s.streams = make(map[av.Kind]*container.Stream, len(descs))
	for _, d := range descs {
		st, err := out.AddStream(d)
		if err != nil {
			return newError(ErrOpen, "add stream", err)
		}
		s.streams[d.Kind()] = st
	}
	if format.Name == "hls" {
		dur := opts.HLSSegmentDuration
		if dur <= 0 {
			dur = 10
		}
		if err := out.SetOption(container.OptionHLSTime, int64(dur)); err != nil {
			return newError(ErrOpen, "set option", err)
		}
	}
	if err := out.SetOption(container.OptionMaxInterleaveDelta, opts.MaxInterleaveDelta); err != nil {
		return newError(ErrOpen, "set option", err)
	}
	if err := out.Open(); err != nil {
		return newError(ErrOpen, "open output", err)
	}
	if err := out.WriteHeader(); err != nil {
		return newError(ErrOpen, "write header", err)
	}

	norm := NewTimebaseNormalizer(s.source)
	timeBases := make([]av.Rational, len(s.streams))
	for kind, st := range s.streams {
		channels := 1
		if kind == av.KindAudio {
			channels = st.Desc.ChannelCount()
		}
		if err := norm.AddTrack(kind, st.TimeBase, channels); err != nil {
			return newError(ErrOpen, "write header", av.Wrap(av.CodeInvalidArgument, "time base", err))
		}
		timeBases[st.Index] = st.TimeBase
	}

	s.out = out
	s.path = opts.OutputPath
	s.token = token
	s.norm = norm
	s.inter = NewInterleaver(timeBases, opts.MaxInterleaveDelta)
	s.stats = Stats{}
	s.state = StatePrepared
	s.logger.Info("Session opened", "path", opts.OutputPath, "format", format.Name,
		"streams", len(s.streams), "max_interleave_delta", opts.MaxInterleaveDelta)
	return nil
}

// WritePacket normalizes the packet timestamp and hands the packet to the
// container, through the interleaver when requested. A failed packet does
// not end the session.
func (s *Session) WritePacket(pkt *Packet) error {
	const op = "write packet"
	if s.state != StatePrepared && s.state != StateRunning {
		return newErrorf(ErrWrite, op, av.CodeNotOpen, "session is %s", s.state)
	}
	if pkt == nil {
		return newErrorf(ErrWrite, op, av.CodeInvalidArgument, "nil packet")
	}
	st, ok := s.streams[pkt.Kind]
	if !ok {
		return ErrSkipPacket
	}
	stats := s.stats.track(pkt.Kind)

	ts, err := s.norm.Normalize(pkt.Kind, pkt.PTS)
	if err != nil {
		stats.Skipped++
		s.logger.Debug("Packet skipped", "kind", pkt.Kind, "pts", pkt.PTS, "reason", err)
		return err
	}
	avpkt := &av.Packet{
		StreamIndex: st.Index,
		PTS:         ts,
		DTS:         ts,
		Keyframe:    pkt.Kind == av.KindVideo && pkt.Keyframe,
		Data:        pkt.Data,
	}

	if !pkt.Interleave {
		if err := s.out.WritePacket(avpkt); err != nil {
			return s.writeFailed(op, pkt.Kind, avpkt, err)
		}
		stats.Written++
		s.state = StateRunning
		return nil
	}

	var first error
	for _, p := range s.inter.Push(avpkt) {
		kind := s.kindOf(p.StreamIndex)
		if err := s.out.WritePacket(p); err != nil {
			if first == nil {
				first = s.writeFailed(op, kind, p, err)
			}
			continue
		}
		s.stats.track(kind).Written++
	}
	if first == nil {
		s.state = StateRunning
	}
	return first
}

func (s *Session) writeFailed(op string, kind av.Kind, p *av.Packet, err error) error {
	s.stats.track(kind).Failed++
	werr := newError(ErrWrite, op, err)
	s.logger.Error("Failed to write packet", "kind", kind, "dts", p.DTS, "size", len(p.Data),
		"code", int(werr.Code), "error", werr.Description(), "cause", err)
	return werr
}

func (s *Session) kindOf(index int) av.Kind {
	for kind, st := range s.streams {
		if st.Index == index {
			return kind
		}
	}
	return av.KindUnknown
}

// Close flushes buffered packets, writes the trailer and releases the
// container. The session ends Finalized even when an error is returned.
// Closing an idle or finalized session is a no-op.
func (s *Session) Close() error {
	if s.state == StateIdle || s.state == StateFinalized {
		return nil
	}
	const op = "close"
	var errs []error

	s.registry.Lock(s.path)
	defer s.registry.Unlock(s.path)

	for _, p := range s.inter.Flush() {
		kind := s.kindOf(p.StreamIndex)
		if err := s.out.WritePacket(p); err != nil {
			s.stats.track(kind).Failed++
			errs = append(errs, err)
			continue
		}
		s.stats.track(kind).Written++
	}
	if err := s.out.WriteTrailer(); err != nil {
		errs = append(errs, err)
	}
	if err := s.out.Close(); err != nil {
		errs = append(errs, err)
	}
	s.registry.Release(s.path, s.token)
	s.norm.Reset()

	s.out = nil
	s.streams = nil
	s.inter = nil
	s.token = ""
	s.state = StateFinalized

	if len(errs) > 0 {
		ferr := newError(ErrFinalize, op, errors.Join(errs...))
		s.logger.Error("Failed to finalize session", "path", s.path, "error", ferr.Description(), "cause", ferr.Err)
		return ferr
	}
	s.logger.Info("Session finalized", "path", s.path,
		"video_written", s.stats.Video.Written, "audio_written", s.stats.Audio.Written,
		"skipped", s.stats.Video.Skipped+s.stats.Audio.Skipped)
	return nil
}
