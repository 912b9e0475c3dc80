package proto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// --- Configuration ---

func (c Configuration) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, c.StackTraceOffset)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, c.StackTraceSize)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.BacktraceFramesSkip))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.BacktraceFramesCount))
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.BacktraceResolveSymbolsCount))
	return b
}

func UnmarshalConfiguration(b []byte) (Configuration, error) {
	var c Configuration
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			c.StackTraceOffset = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			c.StackTraceSize = v
			return n, nil
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			c.BacktraceFramesSkip = uint32(v)
			return n, nil
		case 4:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			c.BacktraceFramesCount = uint32(v)
			return n, nil
		case 5:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			c.BacktraceResolveSymbolsCount = uint32(v)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return c, err
}

// --- Statistics ---

func (s Statistics) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, s.TotalAllocations)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, s.TotalReallocations)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, s.TotalDeallocations)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, s.TotalDeallocationsNonAllocated)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, s.Allocated)
	return b
}

func UnmarshalStatistics(b []byte) (Statistics, error) {
	var s Statistics
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2, 3, 4, 5:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			switch num {
			case 1:
				s.TotalAllocations = v
			case 2:
				s.TotalReallocations = v
			case 3:
				s.TotalDeallocations = v
			case 4:
				s.TotalDeallocationsNonAllocated = v
			case 5:
				s.Allocated = v
			}
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return s, err
}

// --- BackTraceSymbol / BackTraceFrame / BackTrace ---

func (s BackTraceSymbol) Marshal() []byte {
	var b []byte
	if s.Name != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, *s.Name)
	}
	if s.Address != nil {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, *s.Address)
	}
	return b
}

func unmarshalBackTraceSymbol(b []byte) (BackTraceSymbol, error) {
	var s BackTraceSymbol
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			s.Name = &v
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			s.Address = &v
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return s, err
}

func (f BackTraceFrame) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, f.InstructionPointer)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, f.StackPointer)
	if f.ModuleBase != nil {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, *f.ModuleBase)
	}
	for _, s := range f.ResolvedSymbols {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, s.Marshal())
	}
	return b
}

func unmarshalBackTraceFrame(b []byte) (BackTraceFrame, error) {
	var f BackTraceFrame
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			f.InstructionPointer = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			f.StackPointer = v
			return n, nil
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			f.ModuleBase = &v
			return n, nil
		case 4:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			sym, err := unmarshalBackTraceSymbol(v)
			if err != nil {
				return 0, err
			}
			f.ResolvedSymbols = append(f.ResolvedSymbols, sym)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return f, err
}

func (t BackTrace) Marshal() []byte {
	var b []byte
	for _, f := range t.Frames {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Marshal())
	}
	return b
}

func unmarshalBackTrace(b []byte) (BackTrace, error) {
	var t BackTrace
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			frame, err := unmarshalBackTraceFrame(v)
			if err != nil {
				return 0, err
			}
			t.Frames = append(t.Frames, frame)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return t, err
}

// --- StackTrace ---

func (t StackTrace) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, t.Base)
	for _, w := range t.Trace {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, w)
	}
	return b
}

func unmarshalStackTrace(b []byte) (StackTrace, error) {
	var t StackTrace
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			t.Base = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			t.Trace = append(t.Trace, v)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return t, err
}

// --- Allocation ---

func (a Allocation) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, a.BaseAddress)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, a.Size)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, a.HeapHandle)
	if a.StackTrace != nil {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.StackTrace.Marshal())
	}
	if a.BackTrace != nil {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, a.BackTrace.Marshal())
	}
	return b
}

func unmarshalAllocation(b []byte) (Allocation, error) {
	var a Allocation
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			a.BaseAddress = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			a.Size = v
			return n, nil
		case 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			a.HeapHandle = v
			return n, nil
		case 4:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			st, err := unmarshalStackTrace(v)
			if err != nil {
				return 0, err
			}
			a.StackTrace = &st
			return n, nil
		case 5:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			bt, err := unmarshalBackTrace(v)
			if err != nil {
				return 0, err
			}
			a.BackTrace = &bt
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return a, err
}

// --- Filter / RangeFilter / FindRecord / FoundAllocation ---

func (r RangeFilter) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Lower)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Upper)
	return b
}

func unmarshalRangeFilter(b []byte) (RangeFilter, error) {
	var r RangeFilter
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			r.Lower = v
			return n, nil
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			r.Upper = v
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return r, err
}

// Marshal encodes the location oneof: field 1 for Address, field 2 for
// Range. Neither set encodes to an empty message, which decodes back to
// an "unset location" Filter — the protocol error spec.md §4.8 requires
// dispatch to reject.
func (f Filter) Marshal() []byte {
	var b []byte
	switch {
	case f.Address != nil:
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, *f.Address)
	case f.Range != nil:
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Range.Marshal())
	}
	return b
}

func unmarshalFilter(b []byte) (Filter, error) {
	var f Filter
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			f.Address = &v
			return n, nil
		case 2:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			r, err := unmarshalRangeFilter(v)
			if err != nil {
				return 0, err
			}
			f.Range = &r
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return f, err
}

// Unset reports whether neither oneof arm was present on the wire.
func (f Filter) Unset() bool {
	return f.Address == nil && f.Range == nil
}

func (r FindRecord) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Id))
	if r.Filter != nil {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Filter.Marshal())
	}
	return b
}

func unmarshalFindRecord(b []byte) (FindRecord, error) {
	var r FindRecord
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			r.Id = uint32(v)
			return n, nil
		case 2:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			f, err := unmarshalFilter(v)
			if err != nil {
				return 0, err
			}
			r.Filter = &f
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return r, err
}

func (f FoundAllocation) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Id))
	for _, a := range f.Allocations {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, a.Marshal())
	}
	return b
}

func unmarshalFoundAllocation(b []byte) (FoundAllocation, error) {
	var f FoundAllocation
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			f.Id = uint32(v)
			return n, nil
		case 2:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			a, err := unmarshalAllocation(v)
			if err != nil {
				return 0, err
			}
			f.Allocations = append(f.Allocations, a)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return f, err
}

// --- Request/response envelopes ---

func (r PingRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Num))
	return b
}

func UnmarshalPingRequest(b []byte) (PingRequest, error) {
	var r PingRequest
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			r.Num = uint32(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return r, err
}

func (r PingResponse) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Version))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Num))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Wordsize))
	return b
}

func UnmarshalPingResponse(b []byte) (PingResponse, error) {
	var r PingResponse
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2, 3:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			switch num {
			case 1:
				r.Version = uint32(v)
			case 2:
				r.Num = uint32(v)
			case 3:
				r.Wordsize = uint32(v)
			}
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return r, err
}

func (r SetConfigurationRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Configuration.Marshal())
	return b
}

func UnmarshalSetConfigurationRequest(b []byte) (SetConfigurationRequest, error) {
	var r SetConfigurationRequest
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			cfg, err := UnmarshalConfiguration(v)
			if err != nil {
				return 0, err
			}
			r.Configuration = cfg
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return r, err
}

func (SetConfigurationResponse) Marshal() []byte { return nil }

func UnmarshalSetConfigurationResponse(b []byte) (SetConfigurationResponse, error) {
	return SetConfigurationResponse{}, skipUnknown(b)
}

func (GetConfigurationRequest) Marshal() []byte { return nil }

func UnmarshalGetConfigurationRequest(b []byte) (GetConfigurationRequest, error) {
	return GetConfigurationRequest{}, skipUnknown(b)
}

func (r GetConfigurationResponse) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Configuration.Marshal())
	return b
}

func UnmarshalGetConfigurationResponse(b []byte) (GetConfigurationResponse, error) {
	var r GetConfigurationResponse
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			cfg, err := UnmarshalConfiguration(v)
			if err != nil {
				return 0, err
			}
			r.Configuration = cfg
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return r, err
}

func (ClearStorageRequest) Marshal() []byte { return nil }

func UnmarshalClearStorageRequest(b []byte) (ClearStorageRequest, error) {
	return ClearStorageRequest{}, skipUnknown(b)
}

func (ClearStorageResponse) Marshal() []byte { return nil }

func UnmarshalClearStorageResponse(b []byte) (ClearStorageResponse, error) {
	return ClearStorageResponse{}, skipUnknown(b)
}

func (r FindRequest) Marshal() []byte {
	var b []byte
	for _, rec := range r.Records {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, rec.Marshal())
	}
	return b
}

func UnmarshalFindRequest(b []byte) (FindRequest, error) {
	var r FindRequest
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			rec, err := unmarshalFindRecord(v)
			if err != nil {
				return 0, err
			}
			r.Records = append(r.Records, rec)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return r, err
}

func (r FindResponse) Marshal() []byte {
	var b []byte
	for _, a := range r.Allocations {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, a.Marshal())
	}
	return b
}

func UnmarshalFindResponse(b []byte) (FindResponse, error) {
	var r FindResponse
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			fa, err := unmarshalFoundAllocation(v)
			if err != nil {
				return 0, err
			}
			r.Allocations = append(r.Allocations, fa)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return r, err
}

func (GetStatisticsRequest) Marshal() []byte { return nil }

func UnmarshalGetStatisticsRequest(b []byte) (GetStatisticsRequest, error) {
	return GetStatisticsRequest{}, skipUnknown(b)
}

func (r GetStatisticsResponse) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Statistics.Marshal())
	return b
}

func UnmarshalGetStatisticsResponse(b []byte) (GetStatisticsResponse, error) {
	var r GetStatisticsResponse
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			stats, err := UnmarshalStatistics(v)
			if err != nil {
				return 0, err
			}
			r.Statistics = stats
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return r, err
}

func (ResetStatisticsRequest) Marshal() []byte { return nil }

func UnmarshalResetStatisticsRequest(b []byte) (ResetStatisticsRequest, error) {
	return ResetStatisticsRequest{}, skipUnknown(b)
}

func (ResetStatisticsResponse) Marshal() []byte { return nil }

func UnmarshalResetStatisticsResponse(b []byte) (ResetStatisticsResponse, error) {
	return ResetStatisticsResponse{}, skipUnknown(b)
}

// forEachField walks every top-level field in b, letting visit consume
// the value bytes for its wire type and report how many bytes it used.
// visit is responsible for calling the appropriate protowire.Consume*
// function (or protowire.ConsumeFieldValue to skip an unrecognized
// field).
func forEachField(b []byte, visit func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("proto: invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		n, err := visit(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("proto: invalid field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func skipUnknown(b []byte) error {
	return forEachField(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}
