// Package server implements C9: a listener that accepts connections and
// spawns one worker per connection, each permanently marked non-observing
// before it does anything else. Translated from
// original_source/backend/src/server/transport.rs (serve_stream /
// serve_tcp / serve_ipc) and backend/src/lib.rs's spawn_thread, onto
// net.Listener plus gopkg.in/natefinch/npipe.v2 for the local-socket
// transport.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	npipe "gopkg.in/natefinch/npipe.v2"

	"github.com/ntqbit/allocation-catcher/dispatch"
	"github.com/ntqbit/allocation-catcher/flagset"
	"github.com/ntqbit/allocation-catcher/framing"
	"github.com/ntqbit/allocation-catcher/internal/xlog"
	"github.com/ntqbit/allocation-catcher/state"
)

var log = xlog.New("pkg", "server")

// DefaultTCPAddr is the default bind address (spec.md §6).
const DefaultTCPAddr = "0.0.0.0:9940"

// PipeName is the named local-socket endpoint (spec.md §6).
const PipeName = "allocation-catcher"

// Server accepts connections on one or more transports and serves the
// request/response protocol (C7+C8) on each.
type Server struct {
	state *state.SharedState
	flags *flagset.Set
}

// New returns a Server bound to the given shared state. flags is the
// same flagset.Set the detour engine uses: a worker thread must take the
// full mask on it (see markNonObserving) so its own heap traffic while
// answering requests is never re-reported (spec.md §5's "critical
// constraint").
func New(s *state.SharedState, flags *flagset.Set) *Server {
	return &Server{state: s, flags: flags}
}

// ServeTCP binds addr and serves connections until ctx is canceled or
// the listener errors.
func (srv *Server) ServeTCP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info("listening", "transport", "tcp", "addr", addr)
	return srv.serve(ctx, ln)
}

// ServeNamedPipe binds a Windows named pipe (\\.\pipe\<name>) and serves
// connections until ctx is canceled or the listener errors. Mirrors
// serve_ipc's LocalSocketListener::bind in transport.rs.
func (srv *Server) ServeNamedPipe(ctx context.Context, name string) error {
	ln, err := npipe.Listen(`\\.\pipe\` + name)
	if err != nil {
		return err
	}
	log.Info("listening", "transport", "namedpipe", "name", name)
	return srv.serve(ctx, pipeListener{ln})
}

// pipeListener adapts npipe.PipeListener to net.Listener so ServeTCP and
// ServeNamedPipe can share the same accept loop.
type pipeListener struct {
	ln *npipe.PipeListener
}

func (p pipeListener) Accept() (net.Conn, error) { return p.ln.Accept() }
func (p pipeListener) Close() error              { return p.ln.Close() }
func (p pipeListener) Addr() net.Addr            { return pipeAddr(PipeName) }

// pipeAddr is a minimal net.Addr for the named pipe transport, which has
// no socket address of its own.
type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

func (srv *Server) serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return g.Wait()
			}
			return err
		}

		g.Go(func() error {
			srv.serveConnection(conn)
			return nil
		})
	}
}

// serveConnection is the worker body: mark this goroutine's OS thread
// permanently non-observing, then loop request/response until a
// transport or protocol error, mirroring serve_stream_client in
// transport.rs.
func (srv *Server) serveConnection(conn net.Conn) {
	defer conn.Close()

	// The flagset is keyed by Win32 thread id, not goroutine id; without
	// pinning, a blocking framing.ReadFrame can resume this goroutine on a
	// different OS thread whose flag word was never marked, silently
	// un-suppressing this worker's own heap traffic (spec.md §5).
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	markNonObserving(srv.flags)

	id := uuid.New()
	connLog := log.New("conn", id.String(), "remote", conn.RemoteAddr())
	connLog.Debug("connection accepted")

	d := dispatch.New(srv.state)

	for {
		payload, err := framing.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				connLog.Debug("connection closed by peer")
			} else {
				connLog.Warn("read error, closing connection", "err", err)
			}
			return
		}

		response, err := d.Dispatch(payload)
		if err != nil {
			connLog.Warn("protocol error, closing connection", "err", err)
			return
		}

		if err := framing.WriteFrame(conn, response); err != nil {
			connLog.Warn("write error, closing connection", "err", err)
			return
		}
	}
}

// markNonObserving takes every bit of flags' mask and deliberately never
// releases it, so this OS thread's own allocations are never reported to
// the detour engine — the feedback-loop prevention spec.md §5 calls the
// "critical constraint": answering a Dump must not itself grow the store.
func markNonObserving(flags *flagset.Set) {
	flags.AcquireAll().Forget()
}
