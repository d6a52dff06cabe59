// Package rlm implements the C8 recursive-LM REPL: a root model emits
// code, the code runs in a sandboxed namespace exposing the repository
// and sub-LM query primitives, and the loop continues until a FINAL
// sentinel is raised or the iteration budget is exhausted (§4.7).
//
// Grounded on the teacher's internal/interfaces/repl/repl.go
// read-dispatch-print loop shape, internal/domain/context/pruner.go and
// summarizer.go for history budgeting, internal/infrastructure/tool/lsp_tool.go
// for the JSON-RPC-over-stdio plumbing (adapted from Content-Length framing
// to the line-delimited framing §6 specifies for the REPL sandbox), and
// internal/infrastructure/codeintel for the repository file walk.
package rlm

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// excludedDirs are never descended into when building a RepoContext,
// matching common build/cache/VCS directories (§4.7 "excluding hidden
// directories and well-known build/cache dirs").
var excludedDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"__pycache__": true, ".venv": true, "venv": true,
	"dist": true, "build": true, ".cache": true, ".idea": true,
}

// languageExtensions maps a selectable language to the file extensions
// that belong to it.
var languageExtensions = map[string][]string{
	"python":     {".py"},
	"go":         {".go"},
	"javascript": {".js", ".jsx", ".mjs"},
	"typescript": {".ts", ".tsx"},
	"rust":       {".rs"},
	"java":       {".java"},
	"ruby":       {".rb"},
	"elixir":     {".ex", ".exs"},
}

// FileInfo is one repository file's path (relative to Root) and size.
type FileInfo struct {
	Path string
	Size int64
}

// RepoContext is the read-only repository snapshot built once per REPL
// session, filtered to the selected languages' extensions (§4.7
// "context").
type RepoContext struct {
	Root      string
	Languages []string
	Files     []FileInfo

	// ChangedFiles is populated in PR mode with the files touched by
	// the pull request under review, for the system prompt's PR
	// changed-files section (§4.7 step 1).
	ChangedFiles []string
}

// LoadRepoContext walks root, keeping files whose extension belongs to
// one of languages (all languages if none given), skipping hidden
// directories and excludedDirs.
func LoadRepoContext(root string, languages []string) (*RepoContext, error) {
	allowed := extensionSet(languages)

	var files []FileInfo
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || excludedDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(name)
		if len(allowed) > 0 && !allowed[ext] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		files = append(files, FileInfo{Path: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &RepoContext{Root: root, Languages: languages, Files: files}, nil
}

func extensionSet(languages []string) map[string]bool {
	set := map[string]bool{}
	for _, lang := range languages {
		for _, ext := range languageExtensions[lang] {
			set[ext] = true
		}
	}
	return set
}

// Preview returns the first n files in walk order, for the system
// prompt's "preview of first 20 files" (§4.7 step 1).
func (c *RepoContext) Preview(n int) []FileInfo {
	if n > len(c.Files) {
		n = len(c.Files)
	}
	return c.Files[:n]
}

// TopLargest returns the n largest files by size, for the system
// prompt's "top-5 largest with sizes" (§4.7 step 1).
func (c *RepoContext) TopLargest(n int) []FileInfo {
	sorted := append([]FileInfo(nil), c.Files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size > sorted[j].Size })
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
