package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/colony/adapter"
	"github.com/pithecene-io/colony/cli/config"
	"github.com/pithecene-io/colony/cli/render"
	"github.com/pithecene-io/colony/iox"
	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/types"
)

// reasonCLI marks merges started from the command line.
const reasonCLI = "cli"

// mergeTimeout bounds a command-line merge, including notification.
const mergeTimeout = 5 * time.Minute

// MergeCommand returns the merge command.
// Merge consolidates every chunk left in the store, typically after a
// crash or with merge_on_flush disabled.
func MergeCommand() *cli.Command {
	return &cli.Command{
		Name:  "merge",
		Usage: "Merge every stored chunk into one artifact",
		Flags: append(StoreFlags(),
			FormatFlag,
			NoColorFlag,
			&cli.BoolFlag{
				Name:  "no-notify",
				Usage: "Skip the configured merge notification",
			},
		),
		Action: mergeAction,
	}
}

func mergeAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	file, err := loadFileConfig(c.String(ConfigFlag.Name))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	sessionID := newSessionID()
	logger := log.NewLogger(&types.SessionMeta{SessionID: sessionID})
	defer iox.DiscardErr(logger.Sync)

	ctx, cancel := context.WithTimeout(c.Context, mergeTimeout)
	defer cancel()

	store, err := openStore(ctx, c, file, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	handles, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}
	res, err := store.Merge(ctx, handles)
	if err != nil {
		return fmt.Errorf("merge failed: %w", err)
	}

	event := adapter.NewMergeCompletedEvent(res, sessionID, reasonCLI, store.Backend(), time.Now())
	if !res.Nothing && !c.Bool("no-notify") && file.Adapter.Type != "" {
		publishEvent(ctx, file.Adapter, event, logger)
	}

	return r.Render(event)
}

// publishEvent sends event through the configured adapter. Failures are
// logged only: the merged artifact already exists.
func publishEvent(ctx context.Context, cfg config.AdapterConfig, event *adapter.MergeCompletedEvent, logger *log.Logger) {
	a, err := buildAdapter(cfg)
	if err != nil {
		logger.Warn("notification skipped", map[string]any{"error": err.Error()})
		return
	}
	defer iox.DiscardClose(a)

	if err := a.Publish(ctx, event); err != nil {
		logger.Warn("merge notification failed", map[string]any{
			"error": err.Error(),
			"path":  event.StoragePath,
		})
	}
}
