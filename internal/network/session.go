package network

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Session defaults
const (
	DefaultSyncIdle    = 5 * time.Millisecond
	DefaultReadTimeout = 15 * time.Second
	bufferSize         = 32 * 1024
)

// ErrSessionClosed is reported by a session closed locally.
var ErrSessionClosed = errors.New("session closed")

// Session exchanges envelope batches with one peer over a byte stream.
//
// A single goroutine runs a stop-and-wait cycle: read one batch (frames up
// to the sentinel) into the inbound queue, then write everything in the
// outbound queue followed by the sentinel. Server sessions open with a bare
// sentinel as the greeting. The tick loop only touches the queues through
// Send and Recv, neither of which blocks.
type Session struct {
	id     string
	conn   io.ReadWriteCloser
	reader *bufio.Reader
	writer *bufio.Writer

	greet       bool
	idle        time.Duration
	readTimeout time.Duration

	inbound  *Queue
	outbound *Queue

	ended     atomic.Bool
	errMu     sync.Mutex
	err       error
	closeCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	dropped   atomic.Uint64

	log *zap.Logger
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithGreeting makes the session send the greeting before its first read.
// Server-side sessions use it.
func WithGreeting() SessionOption {
	return func(s *Session) { s.greet = true }
}

// WithSyncIdle bounds how long an empty batch is held back waiting for
// outbound traffic. Zero replies immediately.
func WithSyncIdle(d time.Duration) SessionOption {
	return func(s *Session) { s.idle = d }
}

// WithReadTimeout sets the deadline for each batch read when the
// connection supports deadlines. Zero disables it.
func WithReadTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.readTimeout = d }
}

// WithLogger attaches a logger; the session adds its own id field.
func WithLogger(log *zap.Logger) SessionOption {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// NewSession wraps conn. Call Start to begin exchanging batches.
func NewSession(conn io.ReadWriteCloser, opts ...SessionOption) *Session {
	s := &Session{
		id:          uuid.NewString(),
		conn:        conn,
		reader:      bufio.NewReaderSize(conn, bufferSize),
		writer:      bufio.NewWriterSize(conn, bufferSize),
		idle:        DefaultSyncIdle,
		readTimeout: DefaultReadTimeout,
		inbound:     NewQueue(),
		outbound:    NewQueue(),
		closeCh:     make(chan struct{}),
		done:        make(chan struct{}),
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("session", s.id))
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the peer address when the connection exposes one.
func (s *Session) RemoteAddr() string {
	if c, ok := s.conn.(interface{ RemoteAddr() net.Addr }); ok && c.RemoteAddr() != nil {
		return c.RemoteAddr().String()
	}
	return ""
}

// Start launches the sync goroutine. It stops when the connection fails,
// the session is closed, or ctx is cancelled.
func (s *Session) Start(ctx context.Context) {
	go s.run(ctx)
}

// Send queues env for the next outbound batch. Envelopes sent after the
// session ended are discarded.
func (s *Session) Send(env Envelope) {
	if s.ended.Load() {
		return
	}
	s.outbound.Push(env)
}

// Recv returns every envelope received since the last call.
func (s *Session) Recv() []Envelope {
	return s.inbound.Drain()
}

// Ended reports whether the session has stopped for good.
func (s *Session) Ended() bool {
	return s.ended.Load()
}

// Err returns the reason the session ended, or nil while it runs.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Done is closed once the sync goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close ends the session and closes the connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.setErr(ErrSessionClosed)
		s.ended.Store(true)
		close(s.closeCh)
		err = s.conn.Close()
	})
	return err
}

// SessionStats are per-session frame counters.
type SessionStats struct {
	FramesIn  uint64 `json:"frames_in"`
	FramesOut uint64 `json:"frames_out"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns the session's counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		FramesIn:  s.framesIn.Load(),
		FramesOut: s.framesOut.Load(),
		Dropped:   s.dropped.Load(),
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	if s.greet {
		if err := s.greetPeer(); err != nil {
			s.fail(err)
			return
		}
	}

	for {
		if err := s.readBatch(); err != nil {
			s.fail(err)
			return
		}
		if !s.await() {
			s.fail(ErrSessionClosed)
			return
		}
		if err := s.flush(); err != nil {
			s.fail(err)
			return
		}
	}
}

func (s *Session) greetPeer() error {
	if err := WriteSentinel(s.writer); err != nil {
		return err
	}
	return s.writer.Flush()
}

func (s *Session) readBatch() error {
	if s.readTimeout > 0 {
		if c, ok := s.conn.(interface{ SetReadDeadline(time.Time) error }); ok {
			if err := c.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
				return err
			}
		}
	}

	for {
		payload, end, err := ReadFrame(s.reader)
		if err != nil {
			return err
		}
		if end {
			return nil
		}
		s.framesIn.Add(1)

		env, err := DecodeEnvelope(payload)
		if err != nil {
			// the length prefix is trusted; skip just this frame
			s.dropped.Add(1)
			s.log.Warn("dropping malformed frame", zap.Int("bytes", len(payload)), zap.Error(err))
			continue
		}
		s.inbound.Push(env)
	}
}

// await holds an empty reply back for up to the idle interval so two idle
// peers do not spin. It returns false if the session was closed meanwhile.
func (s *Session) await() bool {
	if s.idle <= 0 || s.outbound.Len() > 0 {
		return true
	}
	t := time.NewTimer(s.idle)
	defer t.Stop()

	select {
	case <-s.outbound.Wait():
	case <-t.C:
	case <-s.closeCh:
		return false
	}
	return true
}

func (s *Session) flush() error {
	for _, env := range s.outbound.Drain() {
		payload, err := EncodeEnvelope(env)
		if err != nil {
			s.dropped.Add(1)
			s.log.Error("dropping unencodable event", zap.Error(err))
			continue
		}
		if err := WriteFrame(s.writer, payload); err != nil {
			return err
		}
		s.framesOut.Add(1)
	}
	if err := WriteSentinel(s.writer); err != nil {
		return err
	}
	return s.writer.Flush()
}

func (s *Session) fail(err error) {
	s.setErr(err)
	s.ended.Store(true)
	s.Close()

	switch {
	case errors.Is(err, ErrSessionClosed), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.log.Debug("session ended", zap.Error(err))
	default:
		s.log.Info("session lost", zap.Error(err))
	}
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
