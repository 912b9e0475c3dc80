package server

import (
	"context"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ntqbit/allocation-catcher/flagset"
	"github.com/ntqbit/allocation-catcher/framing"
	"github.com/ntqbit/allocation-catcher/proto"
	"github.com/ntqbit/allocation-catcher/state"
)

func TestServeTCPAnswersPing(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(state.New(), flagset.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		srv.serve(ctx, ln)
		close(done)
	}()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	payload := append([]byte{1}, proto.PingRequest{Num: 42}.Marshal()...)
	require.NoError(t, framing.WriteFrame(conn, payload))

	resp, err := framing.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, byte(1), resp[0])

	got, err := proto.UnmarshalPingResponse(resp[1:])
	require.NoError(t, err)
	require.Equal(t, uint32(42), got.Num)
	require.Equal(t, uint32(1), got.Version)

	conn.Close()
	cancel()
	<-done
}

// TestWorkerDoesNotObserveItsOwnConnection asserts that markNonObserving,
// the call a connection worker makes on its pinned OS thread, leaves every
// flagset bit held, so a detour running on the same OS thread would never
// see an event (spec.md §5's "critical constraint").
func TestWorkerDoesNotObserveItsOwnConnection(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	flags := flagset.New()
	markNonObserving(flags)

	acq := flags.Acquire(flagset.MaskAll)
	require.False(t, acq.Acquired(), "worker thread's flags must already be fully held")
}
