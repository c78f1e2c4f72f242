package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dshills/shelfsearch/internal/config"
	"github.com/dshills/shelfsearch/internal/library"
	"github.com/dshills/shelfsearch/pkg/types"
)

func setupWorkspace(t *testing.T) string {
	t.Helper()
	for _, key := range []string{config.EnvGeminiAPIKey, config.EnvOpenAIAPIKey, config.EnvDBPath, config.EnvCatalogPath} {
		t.Setenv(key, "")
	}

	dir := t.TempDir()
	require.NoError(t, library.WriteCatalog(filepath.Join(dir, "catalog.yaml"), []types.LibraryItem{
		{ID: 1, Title: "Wings", Description: "a story about dragons"},
		{ID: 2, Title: "Hallways", Description: "a romance in high school"},
	}))

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
storage:
  database_path: "./data/library.db"
library:
  catalog_path: "./catalog.yaml"
embedding:
  cloud: none
  local: hash
index:
  default_delay: 1ms
`), 0600))
	return cfgPath
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--version"}, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "Version: dev")
	assert.Contains(t, stdout.String(), "Build Mode:")
}

func TestRun_IndexThenSearch(t *testing.T) {
	cfgPath := setupWorkspace(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--config", cfgPath, "index"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "indexed=2")
	assert.FileExists(t, filepath.Join(filepath.Dir(cfgPath), "data", "library.db"))

	stdout.Reset()
	code = run([]string{"--config", cfgPath, "index"}, &stdout, &stderr)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "indexed=0", "already indexed")

	stdout.Reset()
	code = run([]string{"--config", cfgPath, "search", "--limit", "5", "dragons"}, &stdout, &stderr)
	require.Equal(t, 0, code)

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	assert.Len(t, lines, 2)
}

func TestRun_Errors(t *testing.T) {
	cfgPath := setupWorkspace(t)
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 2, run([]string{"--no-such-flag"}, &stdout, &stderr))
	assert.Equal(t, 2, run([]string{"--config", cfgPath, "frobnicate"}, &stdout, &stderr))
	assert.Equal(t, 1, run([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr))
	assert.Equal(t, 1, run([]string{"--config", cfgPath, "search", "   "}, &stdout, &stderr), "empty query")
}

func TestNewApp_WithoutCatalog(t *testing.T) {
	cfgPath := setupWorkspace(t)
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	cfg.Library.CatalogPath = ""

	a, err := newApp(cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	_, ok := a.repo.(*library.MemoryRepository)
	assert.True(t, ok)
	assert.NoError(t, a.watch(t.Context()), "watching needs a catalog file")
	assert.Nil(t, a.watcher)
}
