package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/colony/timebase"
	"github.com/pithecene-io/colony/types"
	"github.com/pithecene-io/colony/wire"
)

// Defaults match the deployed firmware and receiver.
const (
	DefaultListenAddr    = ":5000"
	DefaultChunkTimeout  = 1 * time.Second
	DefaultSocketTimeout = 500 * time.Millisecond
	DefaultBufferSize    = 1024
)

// Config configures the ingestion service.
type Config struct {
	// ListenAddr is the UDP address to bind.
	ListenAddr string
	// Profile selects the sub-record counter layout.
	Profile types.Profile
	// ChunkTimeout is the inactivity gap that closes a chunk.
	ChunkTimeout time.Duration
	// SocketTimeout bounds each socket read; it sets the sweep cadence
	// when no traffic arrives.
	SocketTimeout time.Duration
	// BufferSize is the datagram read buffer; longer datagrams are truncated
	// and will fail to decode.
	BufferSize int
	// Parameters is the reply to parameter requests.
	Parameters wire.ParameterSet
	// AgentParameters overrides Parameters per agent id.
	AgentParameters map[int]wire.ParameterSet
	// Correction tunes overflow repairs.
	Correction timebase.Correction
	// CorrectJumps enables overflow jump repair while building chunks.
	CorrectJumps bool
	// MergeOnFlush merges the chunks saved since the last merge after each
	// manual or shutdown flush.
	MergeOnFlush bool
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    DefaultListenAddr,
		Profile:       types.ProfilePico16,
		ChunkTimeout:  DefaultChunkTimeout,
		SocketTimeout: DefaultSocketTimeout,
		BufferSize:    DefaultBufferSize,
		Parameters:    wire.DefaultParameterSet(),
		Correction:    timebase.DefaultCorrection(),
		CorrectJumps:  true,
		MergeOnFlush:  true,
	}
}

// Validate checks the config for values the loop cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if err := c.Profile.Validate(); err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	if c.ChunkTimeout <= 0 {
		return fmt.Errorf("chunk timeout must be > 0, got %s", c.ChunkTimeout)
	}
	if c.SocketTimeout <= 0 {
		return fmt.Errorf("socket timeout must be > 0, got %s", c.SocketTimeout)
	}
	if minSize := wire.HeaderSize + c.Profile.RecordSize(); c.BufferSize < minSize {
		return fmt.Errorf("buffer size must be >= %d, got %d", minSize, c.BufferSize)
	}
	if c.Correction.OverflowPeriod <= 0 {
		return fmt.Errorf("overflow period must be > 0, got %g", c.Correction.OverflowPeriod)
	}
	if c.Correction.JumpTolerance < 0 {
		return fmt.Errorf("jump tolerance must be >= 0, got %g", c.Correction.JumpTolerance)
	}
	for id := range c.AgentParameters {
		if id <= 0 || id > 255 {
			return fmt.Errorf("agent parameter override for invalid agent id %d", id)
		}
	}
	return nil
}
