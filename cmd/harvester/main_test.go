package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/email-harvester/internal/app"
	"github.com/JakeFAU/email-harvester/internal/config"
)

func TestApplyFlags(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Run: config.RunConfig{Categories: []string{"old"}, Output: "a.csv"}}
	applyFlags(&cfg, " dentist, ,plumber ", "seeds.txt", "")
	require.Equal(t, []string{"dentist", "plumber"}, cfg.Run.Categories)
	require.Equal(t, "seeds.txt", cfg.Run.SeedsFile)
	require.Equal(t, "a.csv", cfg.Run.Output)
}

func TestInput(t *testing.T) {
	t.Parallel()

	_, err := input(config.Config{})
	require.Error(t, err)

	in, err := input(config.Config{Run: config.RunConfig{Categories: []string{"dentist"}}})
	require.NoError(t, err)
	require.Equal(t, app.Input{Categories: []string{"dentist"}}, in)

	path := filepath.Join(t.TempDir(), "seeds.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://a.example\n\n"), 0o600))
	in, err = input(config.Config{Run: config.RunConfig{SeedsFile: path, Categories: []string{"ignored"}}})
	require.NoError(t, err)
	require.Equal(t, app.Input{Seeds: []string{"https://a.example"}}, in)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = input(config.Config{Run: config.RunConfig{SeedsFile: empty}})
	require.ErrorContains(t, err, "no URLs")
}

func TestBuildSearchOrder(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Search: config.SearchConfig{SerpAPIKey: "s", DuckDuckGo: true}}
	chain := buildSearch(cfg, zap.NewNop())
	require.Equal(t, []string{"serpapi", "duckduckgo"}, chain.Providers())
}

func TestBuildGate(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Enrichment: config.EnrichmentConfig{Mode: "preview", Unit: "email", MaxVerifications: 3}}
	gate, err := buildGate(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, "preview", string(gate.Mode()))

	cfg.Enrichment.Mode = "execute"
	_, err = buildGate(cfg, nil, zap.NewNop())
	require.Error(t, err)
}
