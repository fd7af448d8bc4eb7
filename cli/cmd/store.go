package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/colony/cli/config"
	"github.com/pithecene-io/colony/lode"
	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/runtime"
)

// storeOptions holds the storage flags and whether each was given
// explicitly. Explicit flags beat the config file; flag defaults do not.
type storeOptions struct {
	backend, path, region          string
	backendSet, pathSet, regionSet bool
}

func storeOptionsFrom(c *cli.Context) storeOptions {
	return storeOptions{
		backend:    c.String(StorageBackendFlag.Name),
		path:       c.String(StoragePathFlag.Name),
		region:     c.String(StorageRegionFlag.Name),
		backendSet: c.IsSet(StorageBackendFlag.Name),
		pathSet:    c.IsSet(StoragePathFlag.Name),
		regionSet:  c.IsSet(StorageRegionFlag.Name),
	}
}

// storeConfig resolves the store location from flags and file.
func (o storeOptions) storeConfig(file *config.Config) lode.StoreConfig {
	sc := file.Storage
	if o.backendSet || sc.Backend == "" {
		sc.Backend = o.backend
	}
	if o.pathSet || sc.Path == "" {
		sc.Path = o.path
	}
	if o.regionSet || sc.Region == "" {
		sc.Region = o.region
	}
	return sc.StoreConfig()
}

// loadFileConfig reads the config file when a path is given.
// No path yields an empty config, which changes nothing.
func loadFileConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

// fileDefaults returns the runtime defaults with the config file applied.
func fileDefaults(file *config.Config) (runtime.Config, error) {
	rc := runtime.DefaultConfig()
	if err := file.Apply(&rc); err != nil {
		return rc, err
	}
	return rc, nil
}

// openStore opens the chunk store described by the flags and file.
// Merges through this store align chunk starts unless the file turns it off.
func openStore(ctx context.Context, c *cli.Context, file *config.Config, logger *log.Logger) (*lode.ChunkStore, error) {
	rc, err := fileDefaults(file)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := []lode.Option{lode.WithLogger(logger)}
	if file.AlignStarts() {
		opts = append(opts, lode.WithStartAlignment(rc.Correction))
	}

	store, err := lode.Open(ctx, storeOptionsFrom(c).storeConfig(file), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk store: %w", err)
	}
	return store, nil
}
