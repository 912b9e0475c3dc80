// Package dispatch implements C8: decodes the one-byte packet id
// prefixing every framed payload, routes to the matching request
// handler, and serializes the response. Translated from
// original_source/backend/src/server.rs and common/src/lib.rs's
// PacketId enum; the exact request/response schema is spec.md §4.8.
package dispatch

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/ntqbit/allocation-catcher/heap"
	"github.com/ntqbit/allocation-catcher/internal/xlog"
	"github.com/ntqbit/allocation-catcher/proto"
	"github.com/ntqbit/allocation-catcher/state"
	"github.com/ntqbit/allocation-catcher/store"
)

var log = xlog.New("pkg", "dispatch")

// PacketId identifies a request/response pair on the wire (spec.md
// §4.8).
type PacketId byte

const (
	PacketPing             PacketId = 1
	PacketSetConfiguration PacketId = 2
	PacketGetConfiguration PacketId = 3
	PacketClearStorage     PacketId = 4
	PacketFind             PacketId = 5
	PacketGetStatistics    PacketId = 6
	PacketResetStatistics  PacketId = 7
)

// ErrUnknownPacketId is a protocol error: the connection must be closed,
// not answered (spec.md §7).
var ErrUnknownPacketId = errors.New("dispatch: unknown packet id")

// ErrUnsetFilterLocation is a protocol error: a FindRecord carried a
// present Filter whose location oneof was not set.
var ErrUnsetFilterLocation = errors.New("dispatch: find filter has no location")

const wordsize = uint32(unsafe.Sizeof(uintptr(0)))

// Dispatcher routes one connection's requests against shared state. It
// carries no per-connection mutable data of its own — everything lives
// in state.SharedState — so one Dispatcher may be reused across
// connections, or one built fresh per connection; server.go does the
// latter to mirror original_source's per-connection worker shape.
type Dispatcher struct {
	state *state.SharedState
}

// New returns a Dispatcher bound to the given shared state.
func New(s *state.SharedState) *Dispatcher {
	return &Dispatcher{state: s}
}

// Dispatch decodes payload's leading packet id, routes to the matching
// handler, and returns a response payload with its own packet id prefix.
// Any returned error is a protocol error per spec.md §7: the caller must
// close the connection without sending a response.
func (d *Dispatcher) Dispatch(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("dispatch: %w: empty payload", ErrUnknownPacketId)
	}

	id := PacketId(payload[0])
	body := payload[1:]

	var response []byte
	var err error

	switch id {
	case PacketPing:
		response, err = d.handlePing(body)
	case PacketSetConfiguration:
		response, err = d.handleSetConfiguration(body)
	case PacketGetConfiguration:
		response, err = d.handleGetConfiguration(body)
	case PacketClearStorage:
		response, err = d.handleClearStorage(body)
	case PacketFind:
		response, err = d.handleFind(body)
	case PacketGetStatistics:
		response, err = d.handleGetStatistics(body)
	case PacketResetStatistics:
		response, err = d.handleResetStatistics(body)
	default:
		return nil, fmt.Errorf("dispatch: %w: %d", ErrUnknownPacketId, id)
	}

	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(response)+1)
	out = append(out, byte(id))
	out = append(out, response...)
	return out, nil
}

func (d *Dispatcher) handlePing(body []byte) ([]byte, error) {
	req, err := proto.UnmarshalPingRequest(body)
	if err != nil {
		return nil, fmt.Errorf("dispatch: decode PingRequest: %w", err)
	}

	return proto.PingResponse{Version: 1, Num: req.Num, Wordsize: wordsize}.Marshal(), nil
}

func (d *Dispatcher) handleSetConfiguration(body []byte) ([]byte, error) {
	req, err := proto.UnmarshalSetConfigurationRequest(body)
	if err != nil {
		return nil, fmt.Errorf("dispatch: decode SetConfigurationRequest: %w", err)
	}

	d.state.SetConfiguration(heap.Configuration{
		StackTraceOffset:             req.Configuration.StackTraceOffset,
		StackTraceSize:               req.Configuration.StackTraceSize,
		BacktraceFramesSkip:          req.Configuration.BacktraceFramesSkip,
		BacktraceFramesCount:         req.Configuration.BacktraceFramesCount,
		BacktraceResolveSymbolsCount: req.Configuration.BacktraceResolveSymbolsCount,
	})

	return proto.SetConfigurationResponse{}.Marshal(), nil
}

func (d *Dispatcher) handleGetConfiguration(body []byte) ([]byte, error) {
	if _, err := proto.UnmarshalGetConfigurationRequest(body); err != nil {
		return nil, fmt.Errorf("dispatch: decode GetConfigurationRequest: %w", err)
	}

	cfg := d.state.GetConfiguration()
	return proto.GetConfigurationResponse{Configuration: proto.Configuration{
		StackTraceOffset:             cfg.StackTraceOffset,
		StackTraceSize:               cfg.StackTraceSize,
		BacktraceFramesSkip:          cfg.BacktraceFramesSkip,
		BacktraceFramesCount:         cfg.BacktraceFramesCount,
		BacktraceResolveSymbolsCount: cfg.BacktraceResolveSymbolsCount,
	}}.Marshal(), nil
}

func (d *Dispatcher) handleClearStorage(body []byte) ([]byte, error) {
	if _, err := proto.UnmarshalClearStorageRequest(body); err != nil {
		return nil, fmt.Errorf("dispatch: decode ClearStorageRequest: %w", err)
	}

	d.state.ClearStorage()
	return proto.ClearStorageResponse{}.Marshal(), nil
}

func (d *Dispatcher) handleGetStatistics(body []byte) ([]byte, error) {
	if _, err := proto.UnmarshalGetStatisticsRequest(body); err != nil {
		return nil, fmt.Errorf("dispatch: decode GetStatisticsRequest: %w", err)
	}

	stats, allocated := d.state.Statistics()
	return proto.GetStatisticsResponse{Statistics: proto.Statistics{
		TotalAllocations:               stats.TotalAllocations,
		TotalReallocations:              stats.TotalReallocations,
		TotalDeallocations:              stats.TotalDeallocations,
		TotalDeallocationsNonAllocated: stats.TotalDeallocationsNonAllocated,
		Allocated:                       uint64(allocated),
	}}.Marshal(), nil
}

func (d *Dispatcher) handleResetStatistics(body []byte) ([]byte, error) {
	if _, err := proto.UnmarshalResetStatisticsRequest(body); err != nil {
		return nil, fmt.Errorf("dispatch: decode ResetStatisticsRequest: %w", err)
	}

	d.state.ResetStatistics()
	return proto.ResetStatisticsResponse{}.Marshal(), nil
}

// handleFind implements the three Find filter forms from spec.md §4.8:
// absent filter dumps everything, an Address filter a single point
// lookup, a Range filter a half-open range scan. Records are answered
// in request order, each echoing its id.
func (d *Dispatcher) handleFind(body []byte) ([]byte, error) {
	req, err := proto.UnmarshalFindRequest(body)
	if err != nil {
		return nil, fmt.Errorf("dispatch: decode FindRequest: %w", err)
	}

	found := make([]proto.FoundAllocation, 0, len(req.Records))

	for _, rec := range req.Records {
		var allocations []heap.Allocation

		switch {
		case rec.Filter == nil:
			d.state.WithStorage(func(s *store.Store) {
				allocations = s.Dump()
			})
		case rec.Filter.Address != nil:
			d.state.WithStorage(func(s *store.Store) {
				if a, ok := s.Find(heap.Address(*rec.Filter.Address)); ok {
					allocations = []heap.Allocation{a}
				}
			})
		case rec.Filter.Range != nil:
			d.state.WithStorage(func(s *store.Store) {
				allocations = s.FindRange(heap.Address(rec.Filter.Range.Lower), heap.Address(rec.Filter.Range.Upper))
			})
		default:
			log.Warn("find record has unset filter location", "id", rec.Id)
			return nil, fmt.Errorf("dispatch: record %d: %w", rec.Id, ErrUnsetFilterLocation)
		}

		found = append(found, proto.FoundAllocation{Id: rec.Id, Allocations: toProtoAllocations(allocations)})
	}

	return proto.FindResponse{Allocations: found}.Marshal(), nil
}

func toProtoAllocations(in []heap.Allocation) []proto.Allocation {
	out := make([]proto.Allocation, 0, len(in))
	for _, a := range in {
		out = append(out, toProtoAllocation(a))
	}
	return out
}

func toProtoAllocation(a heap.Allocation) proto.Allocation {
	pa := proto.Allocation{
		BaseAddress: uint64(a.BaseAddress),
		Size:        a.Size,
		HeapHandle:  uint64(a.HeapHandle),
	}

	if a.StackTrace != nil {
		pa.StackTrace = &proto.StackTrace{Base: uint64(a.StackTrace.Base), Trace: a.StackTrace.Trace}
	}

	if a.BackTrace != nil {
		frames := make([]proto.BackTraceFrame, 0, len(a.BackTrace.Frames))
		for _, f := range a.BackTrace.Frames {
			pf := proto.BackTraceFrame{
				InstructionPointer: uint64(f.InstructionPointer),
				StackPointer:       uint64(f.StackPointer),
			}
			if f.ModuleBase != nil {
				v := uint64(*f.ModuleBase)
				pf.ModuleBase = &v
			}
			for _, s := range f.ResolvedSymbols {
				ps := proto.BackTraceSymbol{Name: s.Name}
				if s.Address != nil {
					v := uint64(*s.Address)
					ps.Address = &v
				}
				pf.ResolvedSymbols = append(pf.ResolvedSymbols, ps)
			}
			frames = append(frames, pf)
		}
		pa.BackTrace = &proto.BackTrace{Frames: frames}
	}

	return pa
}
