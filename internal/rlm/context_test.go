package rlm

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, rel, contents string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadRepoContext_FiltersByLanguageAndSkipsExcludedDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")
	writeFile(t, dir, "lib/helper.py", "def f(): pass\n")
	writeFile(t, dir, "vendor/dep.go", "package dep\n")
	writeFile(t, dir, ".git/HEAD", "ref: refs/heads/main\n")

	ctx, err := LoadRepoContext(dir, []string{"go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ctx.Files) != 1 {
		t.Fatalf("expected exactly 1 file (main.go), got %d: %+v", len(ctx.Files), ctx.Files)
	}
	if ctx.Files[0].Path != "main.go" {
		t.Fatalf("expected main.go, got %q", ctx.Files[0].Path)
	}
}

func TestLoadRepoContext_NoLanguagesKeepsEverything(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\n")
	writeFile(t, dir, "b.py", "pass\n")

	ctx, err := LoadRepoContext(dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ctx.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(ctx.Files))
	}
}

func TestTopLargest_OrdersBySizeDescending(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "small.go", "x")
	writeFile(t, dir, "big.go", "xxxxxxxxxxxxxxxxxxxx")

	ctx, err := LoadRepoContext(dir, []string{"go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	top := ctx.TopLargest(1)
	if len(top) != 1 || top[0].Path != "big.go" {
		t.Fatalf("expected big.go first, got %+v", top)
	}
}

func TestPreview_ClampsToFileCount(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "only.go", "package only\n")

	ctx, err := LoadRepoContext(dir, []string{"go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ctx.Preview(20); len(got) != 1 {
		t.Fatalf("expected preview clamped to 1 file, got %d", len(got))
	}
}
