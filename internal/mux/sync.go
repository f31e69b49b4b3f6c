package mux

import (
	"context"
	"sync"

	"github.com/babelcloud/gbox/packages/avmux/internal/av"
)

// SyncSession serializes access to a Session so encoder callbacks running on
// different goroutines can share it.
type SyncSession struct {
	mu sync.Mutex
	s  *Session
}

// NewSyncSession wraps a new session built with opts.
func NewSyncSession(opts ...Option) *SyncSession {
	return &SyncSession{s: NewSession(opts...)}
}

func (ss *SyncSession) ID() string {
	return ss.s.ID()
}

func (ss *SyncSession) Open(ctx context.Context, opts OpenOptions) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.s.Open(ctx, opts)
}

func (ss *SyncSession) WritePacket(pkt *Packet) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.s.WritePacket(pkt)
}

func (ss *SyncSession) Close() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.s.Close()
}

func (ss *SyncSession) State() State {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.s.State()
}

func (ss *SyncSession) Stats() Stats {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.s.Stats()
}

func (ss *SyncSession) TimeBase(kind av.Kind) (av.Rational, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.s.TimeBase(kind)
}
