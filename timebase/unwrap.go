// Package timebase reconstructs agent sample times.
//
// Agents tag samples with a truncated, free-running microsecond counter and
// stamp each datagram with a 32-bit send counter. This package extends the
// truncated counter (Unwrapper), estimates the agent-to-receiver clock
// offset from (send, receive) pairs (EstimateOffset), and applies two
// best-effort corrections for the 2^32 microsecond hardware counter
// overflow (CorrectOverflowJumps, AlignChunkStarts).
package timebase

// Unwrapper extends a Bits-wide wrapping counter into an unbounded one.
//
// Each output equals raw + wrapOffset, where wrapOffset starts at 0 and grows
// by 2^Bits every time a reading is strictly less than the one before it.
// At most one wrap may occur between consecutive readings; sampling slower
// than the wrap period silently loses whole periods.
type Unwrapper struct {
	Bits uint
}

// Unwrap extends an ordered batch of raw readings.
func (u Unwrapper) Unwrap(raw []uint32) []uint64 {
	out := make([]uint64, len(raw))
	if len(raw) == 0 {
		return out
	}

	modulus := uint64(1) << u.Bits
	var wrapOffset uint64
	prev := raw[0]
	out[0] = uint64(prev)
	for i := 1; i < len(raw); i++ {
		cur := raw[i]
		if cur < prev {
			wrapOffset += modulus
		}
		out[i] = uint64(cur) + wrapOffset
		prev = cur
	}
	return out
}

// Wraps counts the overflows Unwrap would apply to raw.
func (u Unwrapper) Wraps(raw []uint32) int {
	n := 0
	for i := 1; i < len(raw); i++ {
		if raw[i] < raw[i-1] {
			n++
		}
	}
	return n
}
