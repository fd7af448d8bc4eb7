package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/colony/lode"
	"github.com/pithecene-io/colony/runtime"
	"github.com/pithecene-io/colony/timebase"
	"github.com/pithecene-io/colony/types"
	"github.com/pithecene-io/colony/wire"
)

// Config represents a colony.yaml configuration file.
// All values are optional and act as defaults for colony serve flags.
// CLI flags always override config values.
type Config struct {
	Listen        string   `yaml:"listen"`
	Profile       string   `yaml:"profile"`
	ChunkTimeout  Duration `yaml:"chunk_timeout"`
	SocketTimeout Duration `yaml:"socket_timeout"`
	BufferSize    int      `yaml:"buffer_size"`
	MergeOnFlush  *bool    `yaml:"merge_on_flush,omitempty"`
	MetricsAddr   string   `yaml:"metrics_addr"`

	Correction CorrectionConfig `yaml:"correction"`
	Storage    StorageConfig    `yaml:"storage"`
	Adapter    AdapterConfig    `yaml:"adapter"`

	// Parameters overrides fields of the default parameter reply.
	Parameters yaml.Node `yaml:"parameters"`
	// Agents overrides fields of Parameters per agent id.
	Agents map[int]yaml.Node `yaml:"agents"`
}

// CorrectionConfig tunes the overflow repairs. Zero values keep defaults.
type CorrectionConfig struct {
	Jumps              *bool   `yaml:"jumps,omitempty"`
	AlignStarts        *bool   `yaml:"align_starts,omitempty"`
	OverflowPeriod     float64 `yaml:"overflow_period"`
	JumpTolerance      float64 `yaml:"jump_tolerance"`
	LargeJump          float64 `yaml:"large_jump"`
	StartSkewThreshold float64 `yaml:"start_skew_threshold"`
}

// StorageConfig holds storage defaults from the config file.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds merge notification settings from the config file.
type AdapterConfig struct {
	Type      string            `yaml:"type"`
	URL       string            `yaml:"url"`
	Channel   string            `yaml:"channel,omitempty"`
	LatestKey string            `yaml:"latest_key,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Timeout   Duration          `yaml:"timeout,omitempty"`
	Retries   *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "500ms").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "1m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Apply overlays the file's values onto rc. Unset fields leave rc as is.
func (c *Config) Apply(rc *runtime.Config) error {
	if c.Listen != "" {
		rc.ListenAddr = c.Listen
	}
	if c.Profile != "" {
		p, err := types.LookupProfile(c.Profile)
		if err != nil {
			return err
		}
		rc.Profile = p
	}
	if c.ChunkTimeout.Duration > 0 {
		rc.ChunkTimeout = c.ChunkTimeout.Duration
	}
	if c.SocketTimeout.Duration > 0 {
		rc.SocketTimeout = c.SocketTimeout.Duration
	}
	if c.BufferSize > 0 {
		rc.BufferSize = c.BufferSize
	}
	if c.MergeOnFlush != nil {
		rc.MergeOnFlush = *c.MergeOnFlush
	}
	if c.Correction.Jumps != nil {
		rc.CorrectJumps = *c.Correction.Jumps
	}
	rc.Correction = c.Correction.apply(rc.Correction)

	params, agents, err := c.ParameterSets(rc.Parameters)
	if err != nil {
		return err
	}
	rc.Parameters = params
	if len(agents) > 0 {
		rc.AgentParameters = agents
	}
	return nil
}

func (c CorrectionConfig) apply(base timebase.Correction) timebase.Correction {
	if c.OverflowPeriod > 0 {
		base.OverflowPeriod = c.OverflowPeriod
		base.StartSkewThreshold = c.OverflowPeriod / 2
	}
	if c.JumpTolerance > 0 {
		base.JumpTolerance = c.JumpTolerance
	}
	if c.LargeJump > 0 {
		base.LargeJump = c.LargeJump
	}
	if c.StartSkewThreshold > 0 {
		base.StartSkewThreshold = c.StartSkewThreshold
	}
	return base
}

// AlignStarts reports whether merges should align chunk starts (default true).
func (c *Config) AlignStarts() bool {
	return c.Correction.AlignStarts == nil || *c.Correction.AlignStarts
}

// ParameterSets resolves the parameter reply and per-agent overrides.
// Each level only replaces the fields it names: parameters overlay base,
// and each agents entry overlays the resolved parameters.
func (c *Config) ParameterSets(base wire.ParameterSet) (wire.ParameterSet, map[int]wire.ParameterSet, error) {
	params := base
	if !c.Parameters.IsZero() {
		if err := c.Parameters.Decode(&params); err != nil {
			return base, nil, fmt.Errorf("invalid parameters: %w", err)
		}
	}

	var agents map[int]wire.ParameterSet
	for id, node := range c.Agents {
		if agents == nil {
			agents = make(map[int]wire.ParameterSet, len(c.Agents))
		}
		p := params
		if err := node.Decode(&p); err != nil {
			return base, nil, fmt.Errorf("invalid parameters for agent %d: %w", id, err)
		}
		agents[id] = p
	}
	return params, agents, nil
}

// StoreConfig converts the storage section.
func (s StorageConfig) StoreConfig() lode.StoreConfig {
	cfg := lode.StoreConfig{Backend: s.Backend, Path: s.Path}
	if s.Backend == lode.BackendS3 {
		cfg.S3.Bucket, cfg.S3.Prefix = lode.ParseS3Path(s.Path)
		cfg.S3.Region = s.Region
		cfg.S3.Endpoint = s.Endpoint
		cfg.S3.UsePathStyle = s.S3PathStyle
	}
	return cfg
}
