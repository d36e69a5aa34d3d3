package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("store:\n  backend: sqlite\n  sqlitePath: %s\n  autoMigrate: true\n", filepath.Join(dir, "chunks.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

const requestJSON = `{
  "fileId": "f1",
  "courseId": "c1",
  "kind": "pdf",
  "title": "Lecture 7",
  "segments": [
    {"text": "Dijkstra's algorithm finds shortest paths with a priority queue", "page": 3}
  ]
}`

func TestIngestStatusAndRetrieve(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, requestJSON, "--config", cfg, "ingest", "-")
	require.NoError(t, err)
	var ingested map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &ingested))
	assert.EqualValues(t, 1, ingested["chunkCount"])

	out, err = run(t, "", "--config", cfg, "status", "c1")
	require.NoError(t, err)
	var status struct {
		Counts map[string]int `json:"counts"`
		Files  []any          `json:"files"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 1, status.Counts["pdf"])
	assert.Len(t, status.Files, 1)

	out, err = run(t, "", "--config", cfg, "retrieve", "c1", "shortest paths", "--limit", "3")
	require.NoError(t, err)
	var res struct {
		Chunks []struct {
			FileID string `json:"fileId"`
			Page   int    `json:"page"`
		} `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "f1", res.Chunks[0].FileID)
	assert.Equal(t, 3, res.Chunks[0].Page)
}

func TestMetaNotFound(t *testing.T) {
	cfg := writeConfig(t)
	_, err := run(t, "", "--config", cfg, "meta", "c1", "missing")
	assert.Error(t, err)
}

func TestReindexReportsRebuild(t *testing.T) {
	cfg := writeConfig(t)
	_, err := run(t, requestJSON, "--config", cfg, "ingest", "-")
	require.NoError(t, err)

	out, err := run(t, "", "--config", cfg, "reindex")
	require.NoError(t, err)
	var report map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report["files"])
	assert.Equal(t, 1, report["chunks"])

	out, err = run(t, "", "--config", cfg, "reindex", "--course", "c1", "--file", "f1")
	require.NoError(t, err)
	assert.Contains(t, out, "reindexed f1: 1 chunks")
}

func TestArgsAreChecked(t *testing.T) {
	_, err := run(t, "", "status")
	assert.Error(t, err)
}
