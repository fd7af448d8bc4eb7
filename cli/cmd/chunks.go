package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/colony/cli/render"
	"github.com/pithecene-io/colony/iox"
	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/types"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// readTimeout bounds read-only store access.
const readTimeout = 30 * time.Second

// ChunksCommand returns the chunks command with subcommands.
func ChunksCommand() *cli.Command {
	return &cli.Command{
		Name:  "chunks",
		Usage: "Inspect stored chunks",
		Subcommands: []*cli.Command{
			chunksListCommand(),
		},
	}
}

func chunksListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List unmerged chunks in start-time order",
		Flags: append(append(ReadOnlyFlags(), StoreFlags()...),
			&cli.IntFlag{
				Name:  "agent",
				Usage: "Only list chunks from this agent id (1-255)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of chunks to return (0 = no limit)",
				Value: 0,
			},
		),
		Action: chunksListAction,
	}
}

// chunkFilter narrows a chunk listing.
type chunkFilter struct {
	agent int
	limit int
}

func (f chunkFilter) validate() error {
	if f.agent < 0 || f.agent > 255 {
		return fmt.Errorf("invalid agent id %d (must be 1-255)", f.agent)
	}
	if f.limit < 0 {
		return fmt.Errorf("invalid limit %d", f.limit)
	}
	return nil
}

// apply filters handles, keeping their order. The result is never nil.
func (f chunkFilter) apply(handles []types.ChunkHandle) []types.ChunkHandle {
	out := make([]types.ChunkHandle, 0, len(handles))
	for _, h := range handles {
		if f.agent != 0 && int(h.AgentID) != f.agent {
			continue
		}
		out = append(out, h)
		if f.limit > 0 && len(out) == f.limit {
			break
		}
	}
	return out
}

func chunksListAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	// TUI not supported for list commands
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for list commands", 1)
	}

	filter := chunkFilter{agent: c.Int("agent"), limit: c.Int("limit")}
	if err := filter.validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	file, err := loadFileConfig(c.String(ConfigFlag.Name))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	logger := log.NewLogger(nil)
	defer iox.DiscardErr(logger.Sync)

	ctx, cancel := context.WithTimeout(c.Context, readTimeout)
	defer cancel()

	store, err := openStore(ctx, c, file, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	handles, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}

	results := filter.apply(handles)

	// Warn if output is large and --limit was not specified (TTY only to avoid noise in pipelines)
	if len(results) > listWarningThreshold && filter.limit == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(results))
	}

	return r.Render(results)
}
