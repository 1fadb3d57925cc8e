package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brandpilot/backend/config"
	"github.com/brandpilot/backend/internal/domain"
	"gopkg.in/yaml.v3"
)

func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbType = "sqlite"
	dbDSN = filepath.Join(dir, "data", "guidelines.db")
	embeddingProvider = "hash"
	t.Cleanup(func() {
		ingestID, ingestTitle, validateBrand = "", "", ""
		searchK = 5
	})
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestIngestListSearchDelete(t *testing.T) {
	dir := setupWorkspace(t)
	guide := writeFile(t, dir, "fitnow-voice.md", "# Voice\n\nNever use superlatives. Always mention the brand name.")

	out, err := run(t, "ingest", guide, "--title", "FitNow voice")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if !strings.Contains(out, "ingested fitnow-voice") {
		t.Fatalf("unexpected ingest output: %q", out)
	}

	out, err = run(t, "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, "fitnow-voice") || !strings.Contains(out, "FitNow voice") {
		t.Fatalf("unexpected list output: %q", out)
	}

	out, err = run(t, "search", "superlatives", "-k", "1")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if !strings.Contains(out, "[fitnow-voice/") {
		t.Fatalf("unexpected search output: %q", out)
	}

	if _, err := run(t, "delete", "fitnow-voice"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := run(t, "delete", "fitnow-voice"); err == nil {
		t.Fatalf("expected error deleting a missing document")
	}
}

func TestValidateCommand(t *testing.T) {
	dir := setupWorkspace(t)
	guide := writeFile(t, dir, "voice.md", "Never use superlatives.")
	draft := writeFile(t, dir, "draft.txt", "FitNow is the best app ever")

	if _, err := run(t, "ingest", guide, "--id", "voice"); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	out, err := run(t, "validate", draft, "--brand", "FitNow")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	var result domain.ValidationResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode result: %v, out=%q", err, out)
	}
	if result.Pass {
		t.Fatalf("superlative draft must not pass")
	}
	if len(result.Feedback) == 0 {
		t.Fatalf("expected feedback")
	}
}

func TestIngestMissingFile(t *testing.T) {
	setupWorkspace(t)
	if _, err := run(t, "ingest", "/does/not/exist.md"); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestInitConfigWritesFlags(t *testing.T) {
	dir := setupWorkspace(t)
	path := filepath.Join(dir, "config.yaml")

	if _, err := run(t, "init-config", path); err != nil {
		t.Fatalf("init-config failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.Database.DSN != dbDSN || cfg.Embedding.Provider != "hash" {
		t.Fatalf("unexpected config: %+v", cfg.Database)
	}

	if _, err := run(t, "init-config", path); err == nil {
		t.Fatalf("expected error when the file exists")
	}
}
