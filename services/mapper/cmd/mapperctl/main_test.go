package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/example/anime-mapper/services/mapper/internal/app"
	"github.com/example/anime-mapper/services/mapper/internal/config"
)

var errBuilt = errors.New("app built")

func execute(args ...string) (string, error) {
	ctx := &commandContext{newApp: func(context.Context, config.Config, *zap.Logger) (*app.App, error) {
		return nil, errBuilt
	}}
	cmd := newRootCmdWith(ctx)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRoot_Subcommands(t *testing.T) {
	want := map[string]bool{"map": false, "episodes": false, "sources": false, "cache": false}
	for _, c := range newRootCmd().Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("subcommand %s missing", name)
		}
	}
}

func TestArgumentErrors_DoNotBuildApp(t *testing.T) {
	cases := [][]string{
		{"map", "crunchyroll", "1"},
		{"map", "animepahe", "abc"},
		{"map", "animepahe", "0"},
		{"map", "animepahe"},
		{"sources", "hianime", "x?ep=1", "--track", "french"},
		{"episodes", "nyaa", "x"},
	}
	for _, args := range cases {
		_, err := execute(args...)
		if err == nil {
			t.Fatalf("%v: expected error", args)
		}
		if errors.Is(err, errBuilt) {
			t.Fatalf("%v: app must not be built for bad arguments", args)
		}
	}
}

func TestValidArguments_BuildApp(t *testing.T) {
	_, err := execute("map", "animekai", "21")
	if !errors.Is(err, errBuilt) {
		t.Fatalf("err = %v, want app construction", err)
	}
}

func TestCatalogArg(t *testing.T) {
	if c, err := catalogArg("animekai"); err != nil || c != "animekai" {
		t.Fatalf("animekai = %q, %v", c, err)
	}
	if _, err := catalogArg("AnimeKai"); err == nil || !strings.Contains(err.Error(), "unknown catalog") {
		t.Fatalf("err = %v", err)
	}
}
