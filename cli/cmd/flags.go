// Package cmd provides CLI commands for the colony binary.
package cmd

import (
	"os"

	"github.com/urfave/cli/v2"
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for stats.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (stats only)",
	}
)

// Storage flags, shared by every command that opens the chunk store.
// Unset flags fall back to the config file, then to the defaults.
var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to colony.yaml",
		EnvVars: []string{"COLONY_CONFIG"},
	}

	StorageBackendFlag = &cli.StringFlag{
		Name:  "storage-backend",
		Usage: "Chunk store backend: fs, s3 or memory",
		Value: "fs",
	}

	StoragePathFlag = &cli.StringFlag{
		Name:  "storage-path",
		Usage: "Chunk store path (fs: directory, s3: bucket/prefix)",
		Value: defaultStoragePath,
	}

	StorageRegionFlag = &cli.StringFlag{
		Name:  "storage-region",
		Usage: "AWS region for the s3 backend (optional, uses default chain)",
	}
)

// defaultStoragePath is where chunks land when nothing else is configured.
const defaultStoragePath = "saved_chunks"

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// TUIReadOnlyFlags returns flags for commands that support TUI mode.
// This is an alias for ReadOnlyFlags, kept for documentation clarity.
func TUIReadOnlyFlags() []cli.Flag {
	return ReadOnlyFlags()
}

// StoreFlags returns the flags that locate the chunk store.
func StoreFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		StorageBackendFlag,
		StoragePathFlag,
		StorageRegionFlag,
	}
}

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
