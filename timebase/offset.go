package timebase

import (
	"errors"
	"time"

	"github.com/pithecene-io/colony/types"
)

// ErrNoPairs is returned when an offset is requested for an empty batch.
var ErrNoPairs = errors.New("no send/receive pairs")

// SyncPair couples a datagram's raw send counter with its receive time.
type SyncPair struct {
	SendCounter uint32
	RecvTime    time.Time
}

// OffsetEstimate is the batch offset and how far individual pairs disagree.
type OffsetEstimate struct {
	// Offset is the mean of recv - local_send in seconds.
	Offset float64
	// Spread is max(offset_i) - min(offset_i); network jitter plus any
	// send-counter wrap inside the batch.
	Spread float64
	Pairs  int
}

// LocalSendSeconds reduces a send counter to the profile's transmitted
// resolution and range: (((send >> shift) mod 2^k) << shift) / 1e6.
func LocalSendSeconds(send uint32, p types.Profile) float64 {
	v := (uint64(send) >> p.Shift) % p.Modulus()
	return float64(v<<p.Shift) / 1e6
}

// LocalSeconds converts an unwrapped sub-record counter to agent-clock seconds.
func LocalSeconds(extended uint64, shift uint) float64 {
	return float64(extended<<shift) / 1e6
}

// UnixSeconds converts a receive time to float seconds since the epoch.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// EstimateOffset averages recv_i - local_send_i over the batch.
func EstimateOffset(pairs []SyncPair, p types.Profile) (OffsetEstimate, error) {
	if len(pairs) == 0 {
		return OffsetEstimate{}, ErrNoPairs
	}

	var sum float64
	lo, hi := 0.0, 0.0
	for i, pair := range pairs {
		off := UnixSeconds(pair.RecvTime) - LocalSendSeconds(pair.SendCounter, p)
		sum += off
		if i == 0 || off < lo {
			lo = off
		}
		if i == 0 || off > hi {
			hi = off
		}
	}

	return OffsetEstimate{
		Offset: sum / float64(len(pairs)),
		Spread: hi - lo,
		Pairs:  len(pairs),
	}, nil
}
