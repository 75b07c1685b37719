package network

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hexworld/server/internal/logging"
)

// DialTimeout bounds connection establishment for clients.
const DialTimeout = 10 * time.Second

// Listener accepts stream connections and turns each into a started,
// greeting server session.
type Listener struct {
	ln   net.Listener
	opts []SessionOption
	log  *zap.Logger
}

// Listen binds addr. opts apply to every accepted session.
func Listen(addr string, log *zap.Logger, opts ...SessionOption) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	log = logging.OrNop(log)
	return &Listener{ln: ln, opts: opts, log: log}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts until ctx is cancelled, handing each new session to accept.
// It returns nil on cancellation.
func (l *Listener) Serve(ctx context.Context, accept func(*Session)) error {
	stop := context.AfterFunc(ctx, func() { l.ln.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				l.log.Warn("accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return errors.Wrap(err, "accept")
		}
		backoff = 0

		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}

		opts := append([]SessionOption{WithGreeting(), WithLogger(l.log)}, l.opts...)
		s := NewSession(conn, opts...)
		l.log.Info("connection accepted", zap.String("remote", conn.RemoteAddr().String()), zap.String("session", s.ID()))
		s.Start(ctx)
		accept(s)
	}
}

// Close stops accepting.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Dial connects to a server and starts a client session.
func Dial(ctx context.Context, addr string, opts ...SessionOption) (*Session, error) {
	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	s := NewSession(conn, opts...)
	s.Start(ctx)
	return s, nil
}
