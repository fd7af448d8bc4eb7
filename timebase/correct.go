package timebase

import (
	"math"
	"slices"
)

// Correction configures the hardware overflow repairs.
type Correction struct {
	// OverflowPeriod is the wrap period of the agent's 32-bit microsecond
	// counter in seconds (2^32 / 1e6).
	OverflowPeriod float64 `yaml:"overflow_period" json:"overflow_period"`
	// JumpTolerance is how close a step must be to ±OverflowPeriod to be
	// treated as an overflow artifact.
	JumpTolerance float64 `yaml:"jump_tolerance" json:"jump_tolerance"`
	// LargeJump flags forward steps that are not overflow-sized.
	LargeJump float64 `yaml:"large_jump" json:"large_jump"`
	// StartSkewThreshold is the distance above the median chunk start, and
	// the gap to the other starts, past which a chunk is treated as one
	// period in the future.
	StartSkewThreshold float64 `yaml:"start_skew_threshold" json:"start_skew_threshold"`
}

// DefaultCorrection returns the settings for a 32-bit microsecond counter.
func DefaultCorrection() Correction {
	period := float64(uint64(1)<<32) / 1e6
	return Correction{
		OverflowPeriod:     period,
		JumpTolerance:      1.0,
		LargeJump:          10.0,
		StartSkewThreshold: period / 2,
	}
}

// AnomalyKind classifies a suspicious step in a time series.
type AnomalyKind int

const (
	// AnomalyForwardOverflow is a step of about +period; corrected.
	AnomalyForwardOverflow AnomalyKind = iota + 1
	// AnomalyBackwardOverflow is a step of about -period; corrected.
	AnomalyBackwardOverflow
	// AnomalyBackwardStep is any other step backwards in time.
	AnomalyBackwardStep
	// AnomalyLargeJump is a forward step above LargeJump.
	AnomalyLargeJump
	// AnomalyStartSkew is a chunk whose start sits isolated far past the median.
	AnomalyStartSkew
)

// String returns the string representation of the anomaly kind.
func (k AnomalyKind) String() string {
	switch k {
	case AnomalyForwardOverflow:
		return "forward_overflow"
	case AnomalyBackwardOverflow:
		return "backward_overflow"
	case AnomalyBackwardStep:
		return "backward_step"
	case AnomalyLargeJump:
		return "large_jump"
	case AnomalyStartSkew:
		return "start_skew"
	default:
		return "unknown"
	}
}

// Anomaly records one suspicious sample.
type Anomaly struct {
	Kind AnomalyKind
	// Index is the sample (or chunk) the anomaly was detected at.
	Index int
	// Delta is the offending step in seconds.
	Delta     float64
	Corrected bool
}

// CorrectOverflowJumps repairs overflow-sized steps in times, in place.
//
// Steps are measured on the uncorrected series, so a +period step followed
// later by a -period step restores the original alignment. Only
// overflow-sized steps are modified; everything else is reported.
func CorrectOverflowJumps(times []float64, c Correction) []Anomaly {
	var anomalies []Anomaly
	if len(times) < 2 {
		return anomalies
	}

	var adjust float64
	prev := times[0]
	for i := 1; i < len(times); i++ {
		orig := times[i]
		step := orig - prev
		prev = orig

		switch {
		case math.Abs(step-c.OverflowPeriod) <= c.JumpTolerance:
			adjust -= c.OverflowPeriod
			anomalies = append(anomalies, Anomaly{Kind: AnomalyForwardOverflow, Index: i, Delta: step, Corrected: true})
		case math.Abs(step+c.OverflowPeriod) <= c.JumpTolerance:
			adjust += c.OverflowPeriod
			anomalies = append(anomalies, Anomaly{Kind: AnomalyBackwardOverflow, Index: i, Delta: step, Corrected: true})
		case step < 0:
			anomalies = append(anomalies, Anomaly{Kind: AnomalyBackwardStep, Index: i, Delta: step})
		case step > c.LargeJump:
			anomalies = append(anomalies, Anomaly{Kind: AnomalyLargeJump, Index: i, Delta: step})
		}

		times[i] = orig + adjust
	}
	return anomalies
}

// AlignChunkStarts returns the shift to apply to each chunk whose start was
// pushed one overflow period into the future. Shifts are 0 or
// -OverflowPeriod.
//
// Candidates are the starts more than StartSkewThreshold above the median.
// They are shifted together, and only when they form a cluster separated
// from the other starts by more than StartSkewThreshold and the shifted
// cluster does not land before the earliest remaining start. A long session
// with evenly spread chunks has no such gap and is left alone; a separated
// cluster that would land too early is reported uncorrected.
func AlignChunkStarts(starts []float64, c Correction) ([]float64, []Anomaly) {
	shifts := make([]float64, len(starts))
	if len(starts) < 2 {
		return shifts, nil
	}

	median := Median(starts)
	var candidates []int
	lowMin, lowMax := math.Inf(1), math.Inf(-1)
	highMin := math.Inf(1)
	for i, s := range starts {
		if s-median > c.StartSkewThreshold {
			candidates = append(candidates, i)
			highMin = min(highMin, s)
			continue
		}
		lowMin = min(lowMin, s)
		lowMax = max(lowMax, s)
	}
	if len(candidates) == 0 || highMin-lowMax <= c.StartSkewThreshold {
		return shifts, nil
	}

	corrected := highMin-c.OverflowPeriod >= lowMin-c.JumpTolerance
	anomalies := make([]Anomaly, 0, len(candidates))
	for _, i := range candidates {
		if corrected {
			shifts[i] = -c.OverflowPeriod
		}
		anomalies = append(anomalies, Anomaly{Kind: AnomalyStartSkew, Index: i, Delta: starts[i] - median, Corrected: corrected})
	}
	return shifts, anomalies
}

// Median returns the median of values; 0 for an empty slice.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
