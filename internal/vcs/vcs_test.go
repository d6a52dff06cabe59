package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestIsClean(t *testing.T) {
	dir := initRepo(t)
	r := New(dir, nil)
	clean, err := r.IsClean(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !clean {
		t.Fatal("expected clean tree after fresh commit")
	}

	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	clean, err = r.IsClean(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if clean {
		t.Fatal("expected dirty tree after adding an untracked file")
	}
}

func TestRevertUncommittedChanges(t *testing.T) {
	dir := initRepo(t)
	r := New(dir, nil)

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("modified"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "untracked.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := r.RevertUncommittedChanges(context.Background()); err != nil {
		t.Fatal(err)
	}

	clean, err := r.IsClean(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !clean {
		t.Fatal("expected clean tree after revert")
	}

	content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "one" {
		t.Fatalf("expected reverted content 'one', got %q", content)
	}
}
