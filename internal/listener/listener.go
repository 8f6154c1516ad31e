// Package listener accepts configuration snapshots over TCP and installs
// them into a config.Store.
//
// Protocol: the client connects, writes one YAML payload, and closes its
// write side. The listener answers with a single line, either
// "ok <generation>" or "error <code> <message>", and closes the connection.
package listener

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sourcecolon/sourcecolon/internal/config"
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

const (
	// DefaultReadTimeout bounds how long a peer may take to send its payload.
	DefaultReadTimeout = 30 * time.Second

	// DefaultMaxPayload is the largest accepted payload in bytes.
	DefaultMaxPayload = 4 << 20

	writeTimeout  = 5 * time.Second
	drainTimeout  = time.Second
	acceptBackoff = 50 * time.Millisecond
)

// Authorizer decides whether a peer may replace the configuration.
type Authorizer func(remote net.Addr) bool

// LoopbackOnly admits peers connecting from a loopback address.
func LoopbackOnly(remote net.Addr) bool {
	tcp, ok := remote.(*net.TCPAddr)
	return ok && tcp.IP.IsLoopback()
}

// AllowAll admits every peer.
func AllowAll(net.Addr) bool { return true }

// Option configures a Listener.
type Option func(*Listener)

// WithAuthorizer replaces LoopbackOnly.
func WithAuthorizer(a Authorizer) Option {
	return func(l *Listener) { l.authorize = a }
}

// WithReadTimeout sets the per-connection read deadline.
func WithReadTimeout(d time.Duration) Option {
	return func(l *Listener) { l.readTimeout = d }
}

// WithMaxPayload sets the payload size limit in bytes.
func WithMaxPayload(n int64) Option {
	return func(l *Listener) { l.maxPayload = n }
}

// Listener is the configuration reload service. It may be started again
// after Stop.
type Listener struct {
	store       *config.Store
	authorize   Authorizer
	readTimeout time.Duration
	maxPayload  int64

	mu    sync.Mutex
	ln    net.Listener
	done  chan struct{}
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// New creates a stopped listener feeding store.
func New(store *config.Store, opts ...Option) *Listener {
	l := &Listener{
		store:       store,
		authorize:   LoopbackOnly,
		readTimeout: DefaultReadTimeout,
		maxPayload:  DefaultMaxPayload,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start binds addr and serves connections in the background.
func (l *Listener) Start(addr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln != nil {
		return fmt.Errorf("listener already running on %s", l.ln.Addr())
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return scerrors.NetworkError("failed to listen on "+addr, err)
	}

	l.ln = ln
	l.done = make(chan struct{})
	l.conns = make(map[net.Conn]struct{})
	go l.serve(ln, l.done)

	slog.Info("config_listener_started", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil when stopped.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Stop closes the listening socket and any open connections, then waits for
// the accept loop and connection handlers to exit. Stopping a stopped
// listener is a no-op.
func (l *Listener) Stop() error {
	l.mu.Lock()
	ln, done := l.ln, l.done
	if ln == nil {
		l.mu.Unlock()
		return nil
	}
	l.ln = nil
	err := ln.Close()
	for c := range l.conns {
		_ = c.Close()
	}
	l.mu.Unlock()

	<-done
	l.wg.Wait()

	slog.Info("config_listener_stopped", slog.String("addr", ln.Addr().String()))
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (l *Listener) serve(ln net.Listener, done chan struct{}) {
	defer close(done)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("config_accept_failed", slog.String("error", err.Error()))
			time.Sleep(acceptBackoff)
			continue
		}

		l.mu.Lock()
		if l.ln != ln {
			l.mu.Unlock()
			_ = conn.Close()
			return
		}
		l.conns[conn] = struct{}{}
		l.wg.Add(1)
		l.mu.Unlock()

		go func() {
			defer l.wg.Done()
			l.handle(conn)

			l.mu.Lock()
			delete(l.conns, conn)
			l.mu.Unlock()
		}()
	}
}

func (l *Listener) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	peer := conn.RemoteAddr().String()

	gen, err := l.receive(conn)
	if err != nil {
		slog.Warn("config_payload_rejected",
			slog.String("peer", peer),
			slog.String("code", scerrors.GetCode(err)),
			slog.String("error", err.Error()))
		l.drain(conn)
		l.reply(conn, "error %s %s\n", codeOf(err), oneLine(err.Error()))
		return
	}

	slog.Info("config_payload_applied", slog.String("peer", peer), slog.Uint64("generation", gen))
	l.reply(conn, "ok %d\n", gen)
}

// receive reads, decodes and installs one payload.
func (l *Listener) receive(conn net.Conn) (uint64, error) {
	if l.authorize == nil || !l.authorize(conn.RemoteAddr()) {
		return 0, scerrors.ErrPeerRejected
	}

	if err := conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
		return 0, scerrors.NetworkError("failed to set read deadline", err)
	}
	data, err := io.ReadAll(io.LimitReader(conn, l.maxPayload+1))
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, scerrors.New(scerrors.ErrCodeNetworkTimeout, "payload not received in time", err)
		}
		return 0, scerrors.NetworkError("failed to read payload", err)
	}
	if int64(len(data)) > l.maxPayload {
		return 0, scerrors.New(scerrors.ErrCodePayloadTooLarge,
			fmt.Sprintf("payload exceeds %d bytes", l.maxPayload), nil)
	}

	cfg, err := config.Deserialize(data)
	if err != nil {
		return 0, err
	}
	return l.store.Replace(cfg)
}

// drain discards unread input so closing the connection does not reset it
// before the peer reads the reply.
func (l *Listener) drain(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(min(l.readTimeout, drainTimeout)))
	_, _ = io.Copy(io.Discard, io.LimitReader(conn, l.maxPayload))
}

func (l *Listener) reply(conn net.Conn, format string, args ...any) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := fmt.Fprintf(conn, format, args...); err != nil {
		slog.Debug("config_reply_failed", slog.String("error", err.Error()))
	}
}

func codeOf(err error) string {
	if code := scerrors.GetCode(err); code != "" {
		return code
	}
	return scerrors.ErrCodeInternal
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
