package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/example/anime-mapper/services/mapper/internal/cache"
	"github.com/example/anime-mapper/services/mapper/internal/catalog"
	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/sources"
)

var catalogs = []string{catalog.AnimePahe, catalog.AnimeKai, catalog.HiAnime}

func catalogArg(name string) (string, error) {
	for _, c := range catalogs {
		if c == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown catalog %q (want one of %v)", name, catalogs)
}

func newMapCmd(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "map <catalog> <anilist-id>",
		Short: "Map an AniList id to a catalog entry with its episodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := catalogArg(args[0])
			if err != nil {
				return err
			}
			id, err := strconv.Atoi(args[1])
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid anilist id %q", args[1])
			}
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			m, err := a.Mapping.Map(cmd.Context(), name, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), m)
		},
	}
}

func newEpisodesCmd(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "episodes <catalog> <candidate-id>",
		Short: "List the episodes of a catalog entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := catalogArg(args[0])
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			adapter, ok := a.Mapping.Adapter(name)
			if !ok {
				return fmt.Errorf("catalog %s not configured", name)
			}
			listing, err := a.Mapping.Indexer.List(cmd.Context(), adapter, args[1])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), listing)
		},
	}
}

func newSourcesCmd(ctx *commandContext) *cobra.Command {
	var server, track string
	cmd := &cobra.Command{
		Use:   "sources <catalog> <episode-token>",
		Short: "Resolve the playable stream of an episode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := catalogArg(args[0])
			if err != nil {
				return err
			}
			t := domain.ParseTrack(track)
			if track != "" && t == "" {
				return fmt.Errorf("invalid track %q", track)
			}
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			d, err := a.Pipelines[name].Resolve(cmd.Context(), sources.Request{Token: args[1], Server: server, Track: t})
			if err != nil {
				if errors.Is(err, domain.ErrExtractionFailed) {
					fmt.Fprintln(cmd.ErrOrStderr(), domain.RefererHint)
				}
				return err
			}
			return writeJSON(cmd.OutOrStdout(), d)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Server name or quality; first available when empty")
	cmd.Flags().StringVar(&track, "track", "", "Audio track: sub, dub or raw")
	return cmd
}

func newCacheCmd(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache of running mappers",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "invalidate [request-uri]",
		Short: "Drop one cached response, or all of them when no URI is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := "ALL"
			if len(args) == 1 {
				key = args[0]
			}
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			if a.NATS == nil {
				return errors.New("cache invalidation needs NATS_URL")
			}
			if err := cache.PublishInvalidation(a.NATS, cache.InvalidateSubject, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s\n", key)
			return nil
		},
	})
	return cacheCmd
}
