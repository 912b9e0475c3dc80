package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPingRoundTrip(t *testing.T) {
	req := PingRequest{Num: 0xDEADBEEF}
	got, err := UnmarshalPingRequest(req.Marshal())
	require.NoError(t, err)
	require.Equal(t, req, got)

	resp := PingResponse{Version: 1, Num: 0xDEADBEEF, Wordsize: 8}
	gotResp, err := UnmarshalPingResponse(resp.Marshal())
	require.NoError(t, err)
	require.Equal(t, resp, gotResp)
}

func TestConfigurationRoundTrip(t *testing.T) {
	cfg := Configuration{
		StackTraceOffset:             4,
		StackTraceSize:               8,
		BacktraceFramesSkip:          2,
		BacktraceFramesCount:         16,
		BacktraceResolveSymbolsCount: 1,
	}

	got, err := UnmarshalConfiguration(cfg.Marshal())
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestZeroConfigurationRoundTrip(t *testing.T) {
	var cfg Configuration
	got, err := UnmarshalConfiguration(cfg.Marshal())
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestAllocationWithTracesRoundTrip(t *testing.T) {
	name := "main.allocate"
	symAddr := uint64(0x401000)
	modBase := uint64(0x400000)

	a := Allocation{
		BaseAddress: 0x1000,
		Size:        64,
		HeapHandle:  7,
		StackTrace:  &StackTrace{Base: 0x2000, Trace: []uint64{1, 2, 3}},
		BackTrace: &BackTrace{Frames: []BackTraceFrame{{
			InstructionPointer: 0x401000,
			StackPointer:       0x2ff0,
			ModuleBase:         &modBase,
			ResolvedSymbols:    []BackTraceSymbol{{Name: &name, Address: &symAddr}},
		}}},
	}

	got, err := unmarshalAllocation(a.Marshal())
	require.NoError(t, err)
	require.Equal(t, a, got)
}

func TestFilterAddressRoundTrip(t *testing.T) {
	addr := uint64(0x1000)
	f := Filter{Address: &addr}

	got, err := unmarshalFilter(f.Marshal())
	require.NoError(t, err)
	require.False(t, got.Unset())
	require.Equal(t, addr, *got.Address)
	require.Nil(t, got.Range)
}

func TestFilterRangeRoundTrip(t *testing.T) {
	f := Filter{Range: &RangeFilter{Lower: 0x1000, Upper: 0x2000}}

	got, err := unmarshalFilter(f.Marshal())
	require.NoError(t, err)
	require.False(t, got.Unset())
	require.Equal(t, *f.Range, *got.Range)
}

func TestFilterUnsetRoundTrip(t *testing.T) {
	f := Filter{}
	got, err := unmarshalFilter(f.Marshal())
	require.NoError(t, err)
	require.True(t, got.Unset())
}

func TestFindRequestResponseRoundTrip(t *testing.T) {
	addr := uint64(0x3000)
	req := FindRequest{Records: []FindRecord{
		{Id: 1, Filter: nil},
		{Id: 2, Filter: &Filter{Address: &addr}},
	}}

	got, err := UnmarshalFindRequest(req.Marshal())
	require.NoError(t, err)
	require.Equal(t, req, got)

	resp := FindResponse{Allocations: []FoundAllocation{
		{Id: 1, Allocations: []Allocation{{BaseAddress: 1}, {BaseAddress: 2}}},
		{Id: 2, Allocations: nil},
	}}
	gotResp, err := UnmarshalFindResponse(resp.Marshal())
	require.NoError(t, err)
	require.Equal(t, resp, gotResp)
}

func TestGetStatisticsResponseRoundTrip(t *testing.T) {
	resp := GetStatisticsResponse{Statistics: Statistics{
		TotalAllocations:               10,
		TotalReallocations:              2,
		TotalDeallocations:              5,
		TotalDeallocationsNonAllocated: 1,
		Allocated:                       5,
	}}

	got, err := UnmarshalGetStatisticsResponse(resp.Marshal())
	require.NoError(t, err)
	require.Equal(t, resp, got)
}

func TestEmptyMessagesRoundTrip(t *testing.T) {
	_, err := UnmarshalGetConfigurationRequest(GetConfigurationRequest{}.Marshal())
	require.NoError(t, err)
	_, err = UnmarshalClearStorageResponse(ClearStorageResponse{}.Marshal())
	require.NoError(t, err)
	_, err = UnmarshalResetStatisticsRequest(ResetStatisticsRequest{}.Marshal())
	require.NoError(t, err)
}
