package store

import (
	"sort"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"

	"github.com/ntqbit/allocation-catcher/heap"
)

func TestPutFindRemoveRoundTrip(t *testing.T) {
	s := New()
	a := heap.Allocation{BaseAddress: 0x1000, Size: 16}
	s.Put(a)

	got, ok := s.Find(0x1000)
	require.True(t, ok)
	require.Equal(t, a, got)

	require.True(t, s.Remove(0x1000))
	_, ok = s.Find(0x1000)
	require.False(t, ok)
}

func TestRemoveMissingReportsNotFound(t *testing.T) {
	s := New()
	require.False(t, s.Remove(0xdead))
}

func TestPutReplacesAliasedAddress(t *testing.T) {
	s := New()
	s.Put(heap.Allocation{BaseAddress: 0x2000, Size: 8})
	s.Put(heap.Allocation{BaseAddress: 0x2000, Size: 64})

	got, ok := s.Find(0x2000)
	require.True(t, ok)
	require.Equal(t, uint64(64), got.Size)
	require.Equal(t, 1, s.Count())
}

func TestFindRangeAscendingHalfOpen(t *testing.T) {
	s := New()
	for _, addr := range []heap.Address{0x1000, 0x2000, 0x3000} {
		s.Put(heap.Allocation{BaseAddress: addr})
	}

	got := s.FindRange(0x1500, 0x2500)
	require.Len(t, got, 1)
	require.Equal(t, heap.Address(0x2000), got[0].BaseAddress)
}

func TestFindRangeInvertedIsEmptyNotError(t *testing.T) {
	s := New()
	s.Put(heap.Allocation{BaseAddress: 0x1000})

	got := s.FindRange(0x3000, 0x1000)
	require.Empty(t, got)
}

func TestDumpAscendingOrder(t *testing.T) {
	s := New()
	for _, addr := range []heap.Address{0x3000, 0x1000, 0x2000} {
		s.Put(heap.Allocation{BaseAddress: addr})
	}

	got := s.Dump()
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1].BaseAddress, got[i].BaseAddress)
	}
}

func TestClearRemovesEverything(t *testing.T) {
	s := New()
	s.Put(heap.Allocation{BaseAddress: 0x1000})
	s.Put(heap.Allocation{BaseAddress: 0x2000})
	s.Clear()
	require.Equal(t, 0, s.Count())
	require.Empty(t, s.Dump())
}

// TestFindRangeMatchesNaiveScan fuzzes a set of addresses and checks that
// FindRange agrees with a brute-force scan, covering spec.md §8 property 2.
func TestFindRangeMatchesNaiveScan(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(5, 200)

	var addrs []uint64
	f.Fuzz(&addrs)

	s := New()
	seen := make(map[heap.Address]bool)
	var unique []heap.Address
	for _, a := range addrs {
		addr := heap.Address(a)
		if !seen[addr] {
			seen[addr] = true
			unique = append(unique, addr)
			s.Put(heap.Allocation{BaseAddress: addr})
		}
	}

	if len(unique) < 2 {
		t.Skip("not enough unique addresses generated")
	}

	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })
	lower := unique[len(unique)/4]
	upper := unique[3*len(unique)/4]

	var want []heap.Address
	for _, a := range unique {
		if a >= lower && a < upper {
			want = append(want, a)
		}
	}

	got := s.FindRange(lower, upper)
	require.Len(t, got, len(want))
	for i, a := range got {
		require.Equal(t, want[i], a.BaseAddress)
	}
}
