// Package container adapts third-party container libraries behind one
// output lifecycle: allocate, add streams, set options, open, write header,
// write packets, write trailer, close.
package container

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
)

// Flags describe format capabilities.
type Flags uint32

const (
	// FlagGlobalHeader: codec configuration travels in the header, not in-band.
	FlagGlobalHeader Flags = 1 << iota
	// FlagNoFile: the muxer manages its own files instead of a single output.
	FlagNoFile
)

// Option keys accepted by Output.SetOption.
const (
	OptionHLSTime            = "hls_time"
	OptionMaxInterleaveDelta = "max_interleave_delta"
)

const defaultHLSTime = 10 * time.Second

// Format describes an output container.
type Format struct {
	Name       string
	LongName   string
	Extensions []string
	Flags      Flags
	// Codecs the format resolves natively.
	Codecs []av.CodecID
	// PassthroughCodecs can only be carried as opaque payloads.
	PassthroughCodecs []av.CodecID

	newMuxer func(o *Output) muxer
}

// Supports reports whether codec can be stored, natively or as passthrough
// when allowed.
func (f *Format) Supports(codec av.CodecID, passthrough bool) bool {
	for _, c := range f.Codecs {
		if c == codec {
			return true
		}
	}
	if !passthrough {
		return false
	}
	for _, c := range f.PassthroughCodecs {
		if c == codec {
			return true
		}
	}
	return false
}

var registered = []*Format{
	flvFormat,
	mpegtsFormat,
	hlsFormat,
	mp4Format,
	matroskaFormat,
}

var aliases = map[string]string{
	"ts":   "mpegts",
	"fmp4": "mp4",
	"mkv":  "matroska",
	"m3u8": "hls",
}

// Formats returns every registered format.
func Formats() []*Format {
	out := make([]*Format, len(registered))
	copy(out, registered)
	return out
}

// Lookup finds a format by name or alias.
func Lookup(name string) (*Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if target, ok := aliases[name]; ok {
		name = target
	}
	for _, f := range registered {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, av.Errorf(av.CodeUnknownFormat, "lookup", "%q", name)
}

// Options holds per-output muxer options.
type Options struct {
	HLSTime            time.Duration
	MaxInterleaveDelta int64 // microseconds
}

// Stream is a track registered with an Output.
type Stream struct {
	Index    int
	Desc     *av.StreamDescriptor
	TimeBase av.Rational

	lastDTS int64
	packets int64
}

// Packets returns how many packets were written to the stream.
func (s *Stream) Packets() int64 {
	return s.packets
}

type muxer interface {
	writeHeader() error
	writePacket(st *Stream, pkt *av.Packet) error
	writeTrailer() error
}

// closer is implemented by muxers holding resources of their own.
type closer interface {
	close() error
}

// Output is one container being written.
type Output struct {
	Format  *Format
	Path    string
	Streams []*Stream
	Options Options

	logger        *slog.Logger
	pb            *fileIO
	mux           muxer
	opened        bool
	headerWritten bool
	trailerDone   bool
	closed        bool
}

// NewOutput allocates an output bound to path and the named format.
func NewOutput(formatName, path string, logger *slog.Logger) (*Output, error) {
	f, err := Lookup(formatName)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, av.Errorf(av.CodeInvalidArgument, "alloc output", "empty path")
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Output{
		Format:  f,
		Path:    path,
		Options: Options{HLSTime: defaultHLSTime},
		logger:  logger.With("component", "container", "format", f.Name),
	}
	o.mux = f.newMuxer(o)
	return o, nil
}

// AddStream registers a track. It must be called before WriteHeader.
func (o *Output) AddStream(d *av.StreamDescriptor) (*Stream, error) {
	const op = "add stream"
	if o.headerWritten {
		return nil, av.Errorf(av.CodeAlreadyOpen, op, "header already written")
	}
	if d == nil {
		return nil, av.Errorf(av.CodeInvalidArgument, op, "nil descriptor")
	}
	for _, s := range o.Streams {
		if s.Desc.Kind() == d.Kind() {
			return nil, av.Errorf(av.CodeInvalidArgument, op, "%s stream already registered", d.Kind())
		}
	}
	if !o.Format.Supports(d.Codec(), d.Passthrough()) {
		return nil, av.Errorf(av.CodeCodecUnsupported, op, "%s in %s", d.Codec(), o.Format.Name)
	}
	st := &Stream{
		Index:   len(o.Streams),
		Desc:    d,
		lastDTS: av.NoPTS,
	}
	o.Streams = append(o.Streams, st)
	o.logger.Info("Stream added", "index", st.Index, "kind", d.Kind(), "codec", d.Codec(),
		"passthrough", d.Passthrough(), "extradata", len(d.ExtraConfig()))
	return st, nil
}

// SetOption applies a muxer option by name.
func (o *Output) SetOption(key string, value int64) error {
	switch key {
	case OptionHLSTime:
		if value <= 0 {
			return av.Errorf(av.CodeInvalidArgument, "set option", "%s=%d", key, value)
		}
		o.Options.HLSTime = time.Duration(value) * time.Second
	case OptionMaxInterleaveDelta:
		if value < 0 {
			return av.Errorf(av.CodeInvalidArgument, "set option", "%s=%d", key, value)
		}
		o.Options.MaxInterleaveDelta = value
	default:
		return av.Errorf(av.CodeInvalidArgument, "set option", "unknown option %q", key)
	}
	return nil
}

// Open creates the destination unless the format manages its own files.
func (o *Output) Open() error {
	if o.opened {
		return nil
	}
	if o.Format.Flags&FlagNoFile == 0 {
		o.logger.Info("Opening output file for writing", "path", o.Path)
		pb, err := createFileIO(o.Path)
		if err != nil {
			return av.Wrap(av.CodeIO, "open", err)
		}
		o.pb = pb
	}
	o.opened = true
	return nil
}

// WriteHeader assigns stream time bases and writes the container header.
func (o *Output) WriteHeader() error {
	const op = "write header"
	if !o.opened {
		return av.Errorf(av.CodeNotOpen, op, "output not opened")
	}
	if o.headerWritten {
		return nil
	}
	if len(o.Streams) == 0 {
		return av.Errorf(av.CodeInvalidArgument, op, "no streams")
	}
	if err := o.mux.writeHeader(); err != nil {
		return asCodeError(av.CodeIO, op, err)
	}
	for _, st := range o.Streams {
		if !st.TimeBase.Valid() {
			return av.Errorf(av.CodeInvalidArgument, op, "stream %d has no time base", st.Index)
		}
		st.Desc = st.Desc.WithTimeBase(st.TimeBase)
	}
	o.headerWritten = true
	o.logger.Info("Wrote file header", "streams", len(o.Streams))
	return nil
}

// WritePacket hands one packet to the muxer after validating its stream and
// timestamps.
func (o *Output) WritePacket(pkt *av.Packet) error {
	const op = "write packet"
	if !o.headerWritten || o.trailerDone {
		return av.Errorf(av.CodeHeaderNotWritten, op, "output not writable")
	}
	if pkt.StreamIndex < 0 || pkt.StreamIndex >= len(o.Streams) {
		return av.Errorf(av.CodeStreamNotFound, op, "index %d", pkt.StreamIndex)
	}
	if len(pkt.Data) == 0 {
		return av.Errorf(av.CodeInvalidData, op, "empty payload")
	}
	st := o.Streams[pkt.StreamIndex]
	if pkt.DTS == av.NoPTS {
		pkt.DTS = pkt.PTS
	}
	if pkt.PTS < 0 || pkt.DTS < 0 {
		return av.Errorf(av.CodeNegativeTimestamp, op, "stream %d pts %d dts %d", st.Index, pkt.PTS, pkt.DTS)
	}
	if st.lastDTS != av.NoPTS && pkt.DTS < st.lastDTS {
		return av.Errorf(av.CodeNonMonotonicDTS, op, "stream %d: %d < %d", st.Index, pkt.DTS, st.lastDTS)
	}
	if err := o.mux.writePacket(st, pkt); err != nil {
		return asCodeError(av.CodeInvalidData, op, err)
	}
	st.lastDTS = pkt.DTS
	st.packets++
	return nil
}

// WriteTrailer finalizes the container. It is a no-op when called twice.
func (o *Output) WriteTrailer() error {
	if !o.headerWritten {
		return av.Errorf(av.CodeHeaderNotWritten, "write trailer", "header never written")
	}
	if o.trailerDone {
		return nil
	}
	o.trailerDone = true
	if err := o.mux.writeTrailer(); err != nil {
		return asCodeError(av.CodeIO, "write trailer", err)
	}
	return nil
}

// Close flushes and closes the underlying I/O. It is safe to call more than
// once and after a failed open.
func (o *Output) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	var errs []error
	if c, ok := o.mux.(closer); ok {
		if err := c.close(); err != nil {
			errs = append(errs, err)
		}
	}
	if o.pb != nil {
		if err := o.pb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return av.Wrap(av.CodeIO, "close", err)
	}
	return nil
}

func (o *Output) writer() io.Writer {
	return o.pb
}

func (o *Output) stream(kind av.Kind) *Stream {
	for _, st := range o.Streams {
		if st.Desc.Kind() == kind {
			return st
		}
	}
	return nil
}

func asCodeError(fallback av.Code, op string, err error) error {
	var e *av.Error
	if errors.As(err, &e) {
		return err
	}
	return av.Wrap(fallback, op, err)
}

// fileIO is a buffered file destination.
type fileIO struct {
	f  *os.File
	bw *bufio.Writer
}

func createFileIO(path string) (*fileIO, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fileIO{f: f, bw: bufio.NewWriterSize(f, 64*1024)}, nil
}

func (w *fileIO) Write(p []byte) (int, error) {
	return w.bw.Write(p)
}

func (w *fileIO) Flush() error {
	return w.bw.Flush()
}

func (w *fileIO) Close() error {
	flushErr := w.bw.Flush()
	closeErr := w.f.Close()
	if flushErr != nil {
		return fmt.Errorf("flush %s: %w", w.f.Name(), flushErr)
	}
	return closeErr
}
