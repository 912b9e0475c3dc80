package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ntqbit/allocation-catcher/heap"
	"github.com/ntqbit/allocation-catcher/proto"
	"github.com/ntqbit/allocation-catcher/state"
	"github.com/ntqbit/allocation-catcher/store"
)

func request(id PacketId, body []byte) []byte {
	return append([]byte{byte(id)}, body...)
}

// TestPingEchoesNumAndVersion covers spec.md §8 property 4 / scenario S1.
func TestPingEchoesNumAndVersion(t *testing.T) {
	d := New(state.New())

	resp, err := d.Dispatch(request(PacketPing, proto.PingRequest{Num: 0xDEADBEEF}.Marshal()))
	require.NoError(t, err)
	require.Equal(t, byte(PacketPing), resp[0])

	got, err := proto.UnmarshalPingResponse(resp[1:])
	require.NoError(t, err)
	require.Equal(t, uint32(1), got.Version)
	require.Equal(t, uint32(0xDEADBEEF), got.Num)
	require.Equal(t, wordsize, got.Wordsize)
}

func TestGetConfigurationDefaultIsZero(t *testing.T) {
	d := New(state.New())

	resp, err := d.Dispatch(request(PacketGetConfiguration, nil))
	require.NoError(t, err)

	got, err := proto.UnmarshalGetConfigurationResponse(resp[1:])
	require.NoError(t, err)
	require.Zero(t, got.Configuration)
}

func TestSetThenGetConfigurationRoundTrip(t *testing.T) {
	d := New(state.New())
	cfg := proto.Configuration{StackTraceSize: 8, BacktraceFramesCount: 16, BacktraceResolveSymbolsCount: 1}

	_, err := d.Dispatch(request(PacketSetConfiguration, proto.SetConfigurationRequest{Configuration: cfg}.Marshal()))
	require.NoError(t, err)

	resp, err := d.Dispatch(request(PacketGetConfiguration, nil))
	require.NoError(t, err)
	got, err := proto.UnmarshalGetConfigurationResponse(resp[1:])
	require.NoError(t, err)
	require.Equal(t, cfg, got.Configuration)
}

// TestFindPointMiss covers spec.md §8 scenario S2.
func TestFindPointMiss(t *testing.T) {
	d := New(state.New())
	addr := uint64(0x1000)

	req := proto.FindRequest{Records: []proto.FindRecord{{Id: 7, Filter: &proto.Filter{Address: &addr}}}}
	resp, err := d.Dispatch(request(PacketFind, req.Marshal()))
	require.NoError(t, err)

	got, err := proto.UnmarshalFindResponse(resp[1:])
	require.NoError(t, err)
	require.Len(t, got.Allocations, 1)
	require.Equal(t, uint32(7), got.Allocations[0].Id)
	require.Empty(t, got.Allocations[0].Allocations)
}

// TestFindRange covers spec.md §8 scenario S3.
func TestFindRange(t *testing.T) {
	s := state.New()
	s.WithStorage(func(st *store.Store) {
		st.Put(heap.Allocation{BaseAddress: 0x1000})
		st.Put(heap.Allocation{BaseAddress: 0x2000})
		st.Put(heap.Allocation{BaseAddress: 0x3000})
	})
	d := New(s)

	req := proto.FindRequest{Records: []proto.FindRecord{
		{Id: 1, Filter: &proto.Filter{Range: &proto.RangeFilter{Lower: 0x1500, Upper: 0x2500}}},
	}}
	resp, err := d.Dispatch(request(PacketFind, req.Marshal()))
	require.NoError(t, err)

	got, err := proto.UnmarshalFindResponse(resp[1:])
	require.NoError(t, err)
	require.Len(t, got.Allocations[0].Allocations, 1)
	require.Equal(t, uint64(0x2000), got.Allocations[0].Allocations[0].BaseAddress)
}

// TestFindInvertedRangeIsEmpty covers spec.md §8 scenario S4.
func TestFindInvertedRangeIsEmpty(t *testing.T) {
	s := state.New()
	s.WithStorage(func(st *store.Store) { st.Put(heap.Allocation{BaseAddress: 0x1000}) })
	d := New(s)

	req := proto.FindRequest{Records: []proto.FindRecord{
		{Id: 1, Filter: &proto.Filter{Range: &proto.RangeFilter{Lower: 0x3000, Upper: 0x1000}}},
	}}
	resp, err := d.Dispatch(request(PacketFind, req.Marshal()))
	require.NoError(t, err)

	got, err := proto.UnmarshalFindResponse(resp[1:])
	require.NoError(t, err)
	require.Empty(t, got.Allocations[0].Allocations)
}

func TestFindDumpAllWhenFilterAbsent(t *testing.T) {
	s := state.New()
	s.WithStorage(func(st *store.Store) {
		st.Put(heap.Allocation{BaseAddress: 0x1000})
		st.Put(heap.Allocation{BaseAddress: 0x2000})
	})
	d := New(s)

	req := proto.FindRequest{Records: []proto.FindRecord{{Id: 1, Filter: nil}}}
	resp, err := d.Dispatch(request(PacketFind, req.Marshal()))
	require.NoError(t, err)

	got, err := proto.UnmarshalFindResponse(resp[1:])
	require.NoError(t, err)
	require.Len(t, got.Allocations[0].Allocations, 2)
}

func TestFindUnsetFilterLocationIsProtocolError(t *testing.T) {
	d := New(state.New())

	req := proto.FindRequest{Records: []proto.FindRecord{{Id: 1, Filter: &proto.Filter{}}}}
	_, err := d.Dispatch(request(PacketFind, req.Marshal()))
	require.ErrorIs(t, err, ErrUnsetFilterLocation)
}

func TestUnknownPacketIdIsProtocolError(t *testing.T) {
	d := New(state.New())

	_, err := d.Dispatch([]byte{0xFF})
	require.ErrorIs(t, err, ErrUnknownPacketId)
}

func TestEmptyPayloadIsProtocolError(t *testing.T) {
	d := New(state.New())

	_, err := d.Dispatch(nil)
	require.ErrorIs(t, err, ErrUnknownPacketId)
}

func TestResetStatisticsZeroesCountersNotStore(t *testing.T) {
	s := state.New()
	s.WithStorage(func(st *store.Store) { st.Put(heap.Allocation{BaseAddress: 0x1000}) })
	s.WithStatistics(func(stats *heap.Statistics) { stats.TotalAllocations = 5 })
	d := New(s)

	_, err := d.Dispatch(request(PacketResetStatistics, nil))
	require.NoError(t, err)

	resp, err := d.Dispatch(request(PacketGetStatistics, nil))
	require.NoError(t, err)
	got, err := proto.UnmarshalGetStatisticsResponse(resp[1:])
	require.NoError(t, err)
	require.Zero(t, got.Statistics.TotalAllocations)
	require.Equal(t, uint64(1), got.Statistics.Allocated)
}

func TestClearStorageRemovesAllocations(t *testing.T) {
	s := state.New()
	s.WithStorage(func(st *store.Store) { st.Put(heap.Allocation{BaseAddress: 0x1000}) })
	d := New(s)

	_, err := d.Dispatch(request(PacketClearStorage, nil))
	require.NoError(t, err)

	resp, err := d.Dispatch(request(PacketFind, proto.FindRequest{Records: []proto.FindRecord{{Id: 1}}}.Marshal()))
	require.NoError(t, err)
	got, err := proto.UnmarshalFindResponse(resp[1:])
	require.NoError(t, err)
	require.Empty(t, got.Allocations[0].Allocations)
}
