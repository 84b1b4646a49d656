package simd

// ByteSet is a 256-bit membership bitmap over byte values.
type ByteSet struct {
	bits [4]uint64
}

// Add inserts b into the set.
func (s *ByteSet) Add(b byte) {
	s.bits[b>>6] |= 1 << (b & 63)
}

// Contains reports whether b is in the set.
func (s *ByteSet) Contains(b byte) bool {
	return s.bits[b>>6]&(1<<(b&63)) != 0
}

// Count returns the number of byte values in the set.
func (s *ByteSet) Count() int {
	n := 0
	for _, w := range s.bits {
		n += popcount(w)
	}
	return n
}

func popcount(w uint64) int {
	n := 0
	for w != 0 {
		w &= w - 1
		n++
	}
	return n
}

// skipAccepted points at the scan variant selected for this CPU at
// startup.
var skipAccepted = skipAcceptedScalar

// SkipAccepted returns the index of the first byte of data that is NOT a
// member of set, or len(data) if every byte is.
func SkipAccepted(data []byte, set *ByteSet) int {
	return skipAccepted(data, set)
}

func skipAcceptedScalar(data []byte, set *ByteSet) int {
	for i, b := range data {
		if !set.Contains(b) {
			return i
		}
	}
	return len(data)
}

// skipAcceptedUnrolled checks eight bytes per iteration. Worth it only
// where unaligned word loads are cheap.
func skipAcceptedUnrolled(data []byte, set *ByteSet) int {
	i := 0
	for ; i+8 <= len(data); i += 8 {
		chunk := data[i : i+8 : i+8]
		if !set.Contains(chunk[0]) {
			return i
		}
		if !set.Contains(chunk[1]) {
			return i + 1
		}
		if !set.Contains(chunk[2]) {
			return i + 2
		}
		if !set.Contains(chunk[3]) {
			return i + 3
		}
		if !set.Contains(chunk[4]) {
			return i + 4
		}
		if !set.Contains(chunk[5]) {
			return i + 5
		}
		if !set.Contains(chunk[6]) {
			return i + 6
		}
		if !set.Contains(chunk[7]) {
			return i + 7
		}
	}
	for ; i < len(data); i++ {
		if !set.Contains(data[i]) {
			return i
		}
	}
	return len(data)
}
