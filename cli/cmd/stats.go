package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/colony/cli/render"
	"github.com/pithecene-io/colony/cli/tui"
	"github.com/pithecene-io/colony/iox"
	"github.com/pithecene-io/colony/log"
)

// StatsCommand returns the stats command.
// Stats returns per-agent chunk and row counts for the store.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show per-agent chunk statistics for the store",
		Flags:  append(TUIReadOnlyFlags(), StoreFlags()...),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
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
	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read store: %w", err)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStoreStats, stats)
	}

	return r.Render(stats)
}
