package bench

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/irctrakz/netbench/pkg/core"
	"github.com/irctrakz/netbench/pkg/facility"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var client = core.Addr{IP: "10.0.0.2", Port: 40000}

func newTestResponder(t *testing.T) (*UDPResponder, *facility.MockFacility, *int) {
	t.Helper()
	fac := facility.NewMockFacility()
	yields := 0
	r := NewUDPResponder(fac, Options{TransferUnit: 1500, Yield: func() { yields++ }})
	require.NoError(t, r.Open(core.AnyAddr(5560)))
	return r, fac, &yields
}

func datagram(cmd byte, size int) []byte {
	b := make([]byte, size)
	b[0] = cmd
	for i := 1; i < size; i++ {
		b[i] = 0xAB
	}
	return b
}

func reply(v uint64) []byte {
	b := make([]byte, ReplySize)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func TestUDPResponderOpenBindsAnyAddress(t *testing.T) {
	r, fac, _ := newTestResponder(t)
	addr, ok := fac.Bound(r.Handle())
	require.True(t, ok)
	assert.Equal(t, core.AnyAddr(5560), addr)

	r.Close()
	assert.Equal(t, 0, fac.OpenHandles())
	assert.Equal(t, core.InvalidHandle, r.Handle())
}

func TestUDPResponderOpenFailures(t *testing.T) {
	fac := facility.NewMockFacility()
	fac.CreateErr = core.ErrNoSpace
	r := NewUDPResponder(fac, Options{})
	assert.ErrorIs(t, r.Open(core.AnyAddr(5560)), core.ErrNoSpace)

	fac = facility.NewMockFacility()
	fac.BindErr = errors.New("address in use")
	r = NewUDPResponder(fac, Options{})
	assert.Error(t, r.Open(core.AnyAddr(5560)))
	assert.Equal(t, 0, fac.OpenHandles(), "socket must be released when bind fails")
}

func TestDataCommandsAccumulateFullLength(t *testing.T) {
	r, fac, _ := newTestResponder(t)
	sizes := []int{1, 100, 1472, 7}
	var want uint64
	for _, n := range sizes {
		fac.QueueDatagram(datagram(CmdData, n), client)
		want += uint64(n)
	}
	for range sizes {
		require.NoError(t, r.ReceiveOne())
	}

	// The command byte is part of the count.
	assert.Equal(t, want, r.Total())
	assert.Empty(t, fac.Sent(), "data commands never produce a reply")
}

func TestCounterNeverDecreasesWithoutReset(t *testing.T) {
	r, fac, _ := newTestResponder(t)
	cmds := []byte{CmdData, CmdQuery, CmdData, 7, CmdData, CmdQuery, 0xFF, CmdData}
	for _, c := range cmds {
		fac.QueueDatagram(datagram(c, 64), client)
	}

	var last uint64
	for range cmds {
		require.NoError(t, r.ReceiveOne())
		assert.GreaterOrEqual(t, r.Total(), last)
		last = r.Total()
	}
	assert.Equal(t, uint64(4*64), r.Total())
}

func TestResetRepliesWithZero(t *testing.T) {
	r, fac, _ := newTestResponder(t)
	fac.QueueDatagram(datagram(CmdData, 500), client)
	fac.QueueDatagram(datagram(CmdResetQuery, 1), client)

	require.NoError(t, r.ReceiveOne())
	require.NoError(t, r.ReceiveOne())

	sent := fac.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, make([]byte, ReplySize), sent[0].Data)
	assert.Equal(t, client, sent[0].Addr)
	assert.Equal(t, uint64(0), r.Total())
}

func TestQueryIsIdempotent(t *testing.T) {
	r, fac, _ := newTestResponder(t)
	fac.QueueDatagram(datagram(CmdData, 300), client)
	fac.QueueDatagram(datagram(CmdQuery, 1), client)
	fac.QueueDatagram(datagram(CmdQuery, 20), client)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.ReceiveOne())
	}

	sent := fac.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, reply(300), sent[0].Data)
	assert.Equal(t, sent[0].Data, sent[1].Data)
}

func TestQueryPayloadIsNotCounted(t *testing.T) {
	r, fac, _ := newTestResponder(t)
	fac.QueueDatagram(datagram(CmdQuery, 200), client)
	require.NoError(t, r.ReceiveOne())
	assert.Equal(t, uint64(0), r.Total())
	assert.Equal(t, reply(0), fac.Sent()[0].Data)
}

func TestUnknownCommandsAreIgnored(t *testing.T) {
	for _, cmd := range []byte{3, 4, 0x7F, 0xFF} {
		for _, size := range []int{1, 9, 1000} {
			r, fac, _ := newTestResponder(t)
			fac.QueueDatagram(datagram(CmdData, 10), client)
			fac.QueueDatagram(datagram(cmd, size), client)
			require.NoError(t, r.ReceiveOne())
			require.NoError(t, r.ReceiveOne())

			assert.Equal(t, uint64(10), r.Total(), "cmd %d size %d", cmd, size)
			assert.Empty(t, fac.Sent(), "cmd %d size %d", cmd, size)
			assert.Equal(t, uint64(1), r.Metrics().Ignored)
		}
	}
}

func TestZeroLengthReceiveIsNoop(t *testing.T) {
	r, fac, _ := newTestResponder(t)
	fac.QueueDatagram(datagram(CmdData, 42), client)
	fac.QueueDatagram(nil, client)
	require.NoError(t, r.ReceiveOne())
	require.NoError(t, r.ReceiveOne())

	assert.Equal(t, uint64(42), r.Total())
	assert.Empty(t, fac.Sent())
}

func TestReceiveTryAgainYields(t *testing.T) {
	r, fac, yields := newTestResponder(t)
	fac.QueueRecvError(core.ErrTryAgain)
	fac.QueueRecvError(core.ErrTryAgain)
	fac.QueueDatagram(datagram(CmdData, 10), client)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.ReceiveOne())
	}
	assert.Equal(t, 2, *yields)
	assert.Equal(t, uint64(10), r.Total())
	assert.Equal(t, uint64(2), r.Metrics().TryAgain)
}

func TestReplyRetriesOnTryAgain(t *testing.T) {
	r, fac, yields := newTestResponder(t)
	fac.QueueDatagram(datagram(CmdData, 77), client)
	fac.QueueDatagram(datagram(CmdQuery, 1), client)
	fac.QueueSendResult(facility.MockResult{Err: core.ErrTryAgain})
	fac.QueueSendResult(facility.MockResult{Err: core.ErrTryAgain})

	require.NoError(t, r.ReceiveOne())
	require.NoError(t, r.ReceiveOne())

	sent := fac.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, reply(77), sent[0].Data)
	assert.Equal(t, 2, *yields)
}

func TestReplyFailures(t *testing.T) {
	r, fac, _ := newTestResponder(t)
	fac.QueueDatagram(datagram(CmdQuery, 1), client)
	fac.QueueSendResult(facility.MockResult{Err: errors.New("no route to host")})
	assert.Error(t, r.ReceiveOne())

	r, fac, _ = newTestResponder(t)
	fac.QueueDatagram(datagram(CmdQuery, 1), client)
	fac.QueueSendResult(facility.MockResult{N: 4})
	assert.ErrorIs(t, r.ReceiveOne(), core.ErrShortWrite)
}

func TestRunEndsCleanlyOnClose(t *testing.T) {
	for _, end := range []error{core.ErrConnectionClosed, core.ErrConnShutdown} {
		r, fac, _ := newTestResponder(t)
		fac.QueueDatagram(datagram(CmdData, 10), client)
		fac.QueueRecvError(end)
		assert.NoError(t, r.Run(context.Background()))
		assert.Equal(t, uint64(10), r.Total())
	}
}

func TestRunReturnsFatalErrors(t *testing.T) {
	r, fac, _ := newTestResponder(t)
	boom := errors.New("driver failure")
	fac.QueueRecvError(boom)
	err := r.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), r.Metrics().Errors)
}

func TestRunHonoursCancellation(t *testing.T) {
	r, fac, _ := newTestResponder(t)
	fac.QueueDatagram(datagram(CmdData, 10), client)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Equal(t, uint64(0), r.Total())
}

func TestServeFullLifecycle(t *testing.T) {
	fac := facility.NewMockFacility()
	fac.SetStatuses(core.StatusOther, core.StatusOther, core.StatusRunning)
	fac.QueueDatagram(datagram(CmdResetQuery, 1), client)
	fac.QueueDatagram(datagram(CmdData, 1000), client)
	fac.QueueDatagram(datagram(CmdQuery, 1), client)

	r := NewUDPResponder(fac, Options{Yield: func() {}})
	require.NoError(t, r.Serve(context.Background(), core.AnyAddr(5560)))

	sent := fac.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, reply(0), sent[0].Data)
	assert.Equal(t, reply(1000), sent[1].Data)
	assert.Equal(t, 0, fac.OpenHandles())

	m := r.Metrics()
	assert.Equal(t, uint64(3), m.DatagramsReceived)
	assert.Equal(t, uint64(2), m.RepliesSent)
	assert.Equal(t, uint64(1), m.Resets)
}

func TestServeAbortsOnFatalStack(t *testing.T) {
	fac := facility.NewMockFacility()
	fac.SetStatuses(core.StatusFatalError)
	r := NewUDPResponder(fac, Options{Yield: func() {}})
	assert.ErrorIs(t, r.Serve(context.Background(), core.AnyAddr(5560)), core.ErrAborted)
	assert.Equal(t, 0, fac.OpenHandles())
}
