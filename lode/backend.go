package lode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// Storage backends.
const (
	BackendFS     = "fs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// S3Config holds configuration for the S3 storage backend.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string `yaml:"bucket"`
	// Prefix is the key prefix within the bucket (optional).
	Prefix string `yaml:"prefix"`
	// Region is the AWS region (optional, uses default chain if empty).
	Region string `yaml:"region"`
	// Endpoint is a custom endpoint URL for S3-compatible providers
	// (e.g. MinIO). Empty uses the default AWS endpoint.
	Endpoint string `yaml:"endpoint"`
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool `yaml:"path_style"`
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseS3Path parses a path in format "bucket/prefix" or "bucket".
func ParseS3Path(path string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(path, "/")
	return bucket, prefix
}

// StoreConfig selects and configures a chunk store backend.
type StoreConfig struct {
	// Backend is one of "fs", "s3", "memory".
	Backend string
	// Path is the fs root directory, or "bucket/prefix" for s3 when S3.Bucket is empty.
	Path string
	S3   S3Config
}

// Open creates a ChunkStore for cfg.
func Open(ctx context.Context, cfg StoreConfig, opts ...Option) (*ChunkStore, error) {
	switch cfg.Backend {
	case BackendFS, "":
		return NewFSChunkStore(cfg.Path, opts...)
	case BackendMemory:
		return NewMemoryChunkStore(opts...), nil
	case BackendS3:
		s3cfg := cfg.S3
		if s3cfg.Bucket == "" {
			s3cfg.Bucket, s3cfg.Prefix = ParseS3Path(cfg.Path)
		}
		return NewS3ChunkStore(ctx, s3cfg, opts...)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (must be fs, s3 or memory)", cfg.Backend)
	}
}

// NewFSChunkStore creates a ChunkStore rooted at dir, creating it if needed.
func NewFSChunkStore(dir string, opts ...Option) (*ChunkStore, error) {
	if dir == "" {
		return nil, errors.New("storage path is required for the fs backend")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, WrapInitError(err, BackendFS)
	}
	return NewChunkStore(lode.NewFSFactory(dir), BackendFS, opts...), nil
}

// NewMemoryChunkStore creates a ChunkStore that lives in process memory.
func NewMemoryChunkStore(opts ...Option) *ChunkStore {
	return NewChunkStore(lode.NewMemoryFactory(), BackendMemory, opts...)
}

// NewS3ChunkStore creates a ChunkStore on S3.
// Uses the AWS SDK default credential chain (env vars, shared config, IAM role).
func NewS3ChunkStore(ctx context.Context, s3cfg S3Config, opts ...Option) (*ChunkStore, error) {
	if err := s3cfg.Validate(); err != nil {
		return nil, err
	}

	var loadOpts []func(*config.LoadOptions) error
	if s3cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(s3cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, WrapInitError(fmt.Errorf("failed to load AWS config: %w", err), BackendS3)
	}

	var s3Opts []func(*s3.Options)
	if s3cfg.Endpoint != "" {
		endpoint := s3cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if s3cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	factory := func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: s3cfg.Bucket,
			Prefix: s3cfg.Prefix,
		})
	}
	return NewChunkStore(factory, BackendS3, opts...), nil
}
