package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cognicore/tagrec/pkg/tagrec/internalerr"
)

const testCorpus = "Id,Title,Body,Tags\n" +
	`"1","Print a string in Java","How do I print a string in Java","java printing"` + "\n" +
	`"2","Java string split","Splitting a string in Java","java string"` + "\n" +
	`"2","Java string split","duplicate","java"` + "\n" +
	`"3","Python list comprehension","How do list comprehensions work in python","python list"` + "\n"

const testConfig = `
query:
  min_term_freq: 1
  min_doc_freq: 1
logging:
  level: error
`

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestBuildIndexAndRecommend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	corpusPath := writeTemp(t, dir, "questions.csv", testCorpus)
	cfgPath := writeTemp(t, dir, "tagrec.yaml", testConfig)
	indexDir := filepath.Join(dir, "index")

	var out bytes.Buffer
	if err := run(ctx, []string{"build-index", "-config", cfgPath, corpusPath, indexDir}, &out); err != nil {
		t.Fatalf("build-index: %v", err)
	}
	if !strings.Contains(out.String(), "Indexed: 3  Dropped: 0  Duplicates: 1  Failed: 0") {
		t.Errorf("build-index output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Elapsed time:") {
		t.Error("missing elapsed time")
	}

	out.Reset()
	err := run(ctx, []string{"recommend", "-config", cfgPath,
		"-title", "Print a Java string", "-body", "How can java print a string", "-explain", indexDir}, &out)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	var tagLines []string
	for _, l := range lines[1:] {
		if !strings.HasPrefix(l, "  term ") {
			tagLines = append(tagLines, l)
		}
	}
	if len(tagLines) == 0 || !strings.HasPrefix(tagLines[0], "java ") {
		t.Errorf("recommend output:\n%s", out.String())
	}
}

func TestBuildIndexBadPaths(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	err := run(ctx, []string{"build-index", filepath.Join(dir, "missing.csv"), filepath.Join(dir, "out")}, &bytes.Buffer{})
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("missing corpus: expected ErrInvalidConfig, got %v", err)
	}

	corpusPath := writeTemp(t, dir, "questions.csv", testCorpus)
	err = run(ctx, []string{"build-index", corpusPath, corpusPath}, &bytes.Buffer{})
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("file as output dir: expected ErrInvalidConfig, got %v", err)
	}

	if err := run(ctx, []string{"build-index", corpusPath}, &bytes.Buffer{}); err == nil {
		t.Error("expected usage error for missing output dir")
	}
}

func TestBuildIndexRejectsMemoryBackend(t *testing.T) {
	dir := t.TempDir()
	corpusPath := writeTemp(t, dir, "questions.csv", testCorpus)
	cfgPath := writeTemp(t, dir, "tagrec.yaml", "index:\n  backend: memory\n")

	var out bytes.Buffer
	err := run(context.Background(), []string{"build-index", "-config", cfgPath, corpusPath, filepath.Join(dir, "index")}, &out)
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if strings.Contains(out.String(), "Indexed:") {
		t.Errorf("build-index reported success:\n%s", out.String())
	}
}

func TestRecommendWithoutIndex(t *testing.T) {
	err := run(context.Background(), []string{"recommend", "-title", "x", t.TempDir()}, &bytes.Buffer{})
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestUnknownCommand(t *testing.T) {
	if err := run(context.Background(), []string{"reindex"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown command")
	}
}
