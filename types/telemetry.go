// Package types defines the shared telemetry and chunk types.
package types

import (
	"fmt"
	"time"
)

// ContractVersion is stamped on outbound notifications and chunk manifests.
// It moves in lockstep with Version.
const ContractVersion = Version

// Record is one telemetry sub-record as received on the wire.
// Counter holds the truncated, wrapping local clock reading.
type Record struct {
	Counter uint32
	A0      uint8
	A1      uint8
	A2      uint8
}

// Profile describes the counter layout a deployment's firmware uses.
type Profile struct {
	// Name identifies the profile in config and logs.
	Name string `yaml:"name" json:"name"`
	// CounterBits is the width k of the wrapped sub-record counter.
	CounterBits uint `yaml:"counter_bits" json:"counter_bits"`
	// Shift is the number of low microsecond bits the agent drops
	// before truncating to CounterBits.
	Shift uint `yaml:"shift" json:"shift"`
	// CounterBytes is the wire width of the sub-record counter field.
	CounterBytes int `yaml:"counter_bytes" json:"counter_bytes"`
}

// Known firmware profiles.
var (
	// ProfilePico16 packs micros>>10 into a 16-bit counter.
	ProfilePico16 = Profile{Name: "pico16", CounterBits: 16, Shift: 10, CounterBytes: 2}
	// ProfilePico24 packs micros>>8 into a 24-bit counter.
	ProfilePico24 = Profile{Name: "pico24", CounterBits: 24, Shift: 8, CounterBytes: 3}
)

// LookupProfile returns a named profile.
func LookupProfile(name string) (Profile, error) {
	switch name {
	case "", ProfilePico16.Name:
		return ProfilePico16, nil
	case ProfilePico24.Name:
		return ProfilePico24, nil
	default:
		return Profile{}, fmt.Errorf("unknown profile %q (must be pico16 or pico24)", name)
	}
}

// Validate checks that the profile's fields agree with each other.
func (p Profile) Validate() error {
	if p.CounterBits == 0 || p.CounterBits > 32 {
		return fmt.Errorf("counter_bits must be in 1..32, got %d", p.CounterBits)
	}
	if p.CounterBytes < 1 || p.CounterBytes > 4 {
		return fmt.Errorf("counter_bytes must be in 1..4, got %d", p.CounterBytes)
	}
	if uint(p.CounterBytes)*8 < p.CounterBits {
		return fmt.Errorf("counter_bytes %d cannot hold %d counter bits", p.CounterBytes, p.CounterBits)
	}
	if p.Shift+p.CounterBits > 63 {
		return fmt.Errorf("shift %d too large for %d counter bits", p.Shift, p.CounterBits)
	}
	return nil
}

// RecordSize is the wire size of one sub-record: counter plus three channel bytes.
func (p Profile) RecordSize() int {
	return p.CounterBytes + 3
}

// Modulus is 2^CounterBits.
func (p Profile) Modulus() uint64 {
	return uint64(1) << p.CounterBits
}

// SessionMeta identifies one ingestion process lifetime for logging.
type SessionMeta struct {
	SessionID  string
	ListenAddr string
	StartedAt  time.Time
}
