package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/anime-mapper/internal/platform/logging"
	"github.com/example/anime-mapper/services/mapper/internal/app"
	"github.com/example/anime-mapper/services/mapper/internal/config"
)

// commandContext builds the shared wiring on first use so argument errors
// never dial upstreams.
type commandContext struct {
	logLevel string
	app      *app.App
	log      *zap.Logger
	newApp   func(ctx context.Context, cfg config.Config, log *zap.Logger) (*app.App, error)
}

func (c *commandContext) ensureApp(ctx context.Context) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	log, err := logging.New(c.logLevel, "mapperctl")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a, err := c.newApp(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("mapperctl: init: %w", err)
	}
	c.app, c.log = a, log
	return a, nil
}

func (c *commandContext) close() {
	if c.app != nil {
		c.app.Close()
	}
	if c.log != nil {
		_ = c.log.Sync()
	}
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&commandContext{newApp: app.New})
}

func newRootCmdWith(ctx *commandContext) *cobra.Command {
	root := &cobra.Command{
		Use:           "mapperctl",
		Short:         "Resolve anime catalog mappings and stream sources from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(newMapCmd(ctx))
	root.AddCommand(newEpisodesCmd(ctx))
	root.AddCommand(newSourcesCmd(ctx))
	root.AddCommand(newCacheCmd(ctx))
	return root
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
