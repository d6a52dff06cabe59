package rlm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/existential-birds/daydream-sub000/pkg/errors"
	"github.com/existential-birds/daydream-sub000/pkg/safego"
)

// Querier issues a single stateless completion against a named model,
// the sub-LM primitive exposed to sandboxed code as llm_query (§4.7).
// Implementations wrap whichever backend.Backend the caller configured
// for RLM use.
type Querier interface {
	Query(ctx context.Context, prompt, model string) (string, error)
}

// Namespace answers the callback RPCs a running sandbox issues back to
// the host: repo introspection and sub-LM queries. One Namespace is
// shared by every Sandbox.Execute call within a REPL session (§4.7
// "namespace mapping populated once at startup").
type Namespace struct {
	Repo    *RepoContext
	Querier Querier
	Logger  *zap.Logger

	// parallelLimit bounds concurrent llm_query_parallel fan-out.
	parallelLimit int
}

// NewNamespace builds a Namespace over repo, using querier for both
// llm_query and llm_query_parallel.
func NewNamespace(repo *RepoContext, querier Querier, logger *zap.Logger) *Namespace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Namespace{Repo: repo, Querier: querier, Logger: logger, parallelLimit: 4}
}

// Handle dispatches one inbound callback method name to its
// implementation. It satisfies the Handler signature expected by Conn.
func (n *Namespace) Handle(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "llm_query":
		return n.handleLLMQuery(ctx, params)
	case "llm_query_parallel":
		return n.handleLLMQueryParallel(ctx, params)
	case "files_containing":
		return n.handleFilesContaining(params)
	case "files_importing":
		return n.handleFilesImporting(params)
	case "file_exists":
		return n.handleFileExists(params)
	case "list_files_matching":
		return n.handleListFilesMatching(params)
	case "get_file_slice":
		return n.handleGetFileSlice(params)
	default:
		return nil, fmt.Errorf("unknown rlm callback method: %s", method)
	}
}

type llmQueryParams struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

func (n *Namespace) handleLLMQuery(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var p llmQueryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.NewParseFailure("malformed llm_query params", err)
	}
	model := p.Model
	if model == "" {
		model = "haiku"
	}
	answer, err := n.Querier.Query(ctx, p.Prompt, model)
	if err != nil {
		return nil, apperrors.NewBackendTurnFailure("llm_query failed", err)
	}
	return json.Marshal(answer)
}

type llmQueryParallelParams struct {
	Prompts []string `json:"prompts"`
	Model   string   `json:"model"`
}

func (n *Namespace) handleLLMQueryParallel(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var p llmQueryParallelParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.NewParseFailure("malformed llm_query_parallel params", err)
	}
	model := p.Model
	if model == "" {
		model = "haiku"
	}

	results := make([]string, len(p.Prompts))
	errs := make([]error, len(p.Prompts))

	sem := make(chan struct{}, n.parallelLimit)
	var wg sync.WaitGroup
	for i, prompt := range p.Prompts {
		i, prompt := i, prompt
		wg.Add(1)
		safego.Go(n.Logger, fmt.Sprintf("llm_query_parallel[%d]", i), func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			answer, err := n.Querier.Query(ctx, prompt, model)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = answer
		})
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			n.Logger.Warn("llm_query_parallel item failed", zap.Int("index", i), zap.Error(err))
			results[i] = ""
		}
	}
	return json.Marshal(results)
}

type patternParams struct {
	Pattern string `json:"pattern"`
}

func (n *Namespace) handleFilesContaining(raw json.RawMessage) (json.RawMessage, error) {
	var p patternParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.NewParseFailure("malformed files_containing params", err)
	}
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("invalid regex: %v", err))
	}

	var matches []string
	for _, f := range n.Repo.Files {
		content, err := os.ReadFile(filepath.Join(n.Repo.Root, f.Path))
		if err != nil {
			continue
		}
		if re.Match(content) {
			matches = append(matches, f.Path)
		}
	}
	return json.Marshal(matches)
}

type moduleParams struct {
	Module string `json:"module"`
}

// importPatterns are coarse, language-agnostic heuristics for "this
// file imports module" — exact enough for repo-navigation prompts
// without parsing each language's AST.
var importPatterns = []string{
	`import\s+(\(.*?%s.*?\)|"?%s"?)`,
	`from\s+%s\s+import`,
	`require\(['"]%s['"]\)`,
	`require\s+['"]%s['"]`,
}

func (n *Namespace) handleFilesImporting(raw json.RawMessage) (json.RawMessage, error) {
	var p moduleParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.NewParseFailure("malformed files_importing params", err)
	}
	quoted := regexp.QuoteMeta(p.Module)

	var res []*regexp.Regexp
	for _, pat := range importPatterns {
		n := strings.Count(pat, "%s")
		args := make([]any, n)
		for i := range args {
			args[i] = quoted
		}
		compiled, err := regexp.Compile(fmt.Sprintf(pat, args...))
		if err != nil {
			continue
		}
		res = append(res, compiled)
	}

	var matches []string
	for _, f := range n.Repo.Files {
		content, err := os.ReadFile(filepath.Join(n.Repo.Root, f.Path))
		if err != nil {
			continue
		}
		for _, re := range res {
			if re.Match(content) {
				matches = append(matches, f.Path)
				break
			}
		}
	}
	return json.Marshal(matches)
}

type pathParams struct {
	Path string `json:"path"`
}

func (n *Namespace) handleFileExists(raw json.RawMessage) (json.RawMessage, error) {
	var p pathParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.NewParseFailure("malformed file_exists params", err)
	}
	_, err := os.Stat(filepath.Join(n.Repo.Root, p.Path))
	return json.Marshal(err == nil)
}

type globParams struct {
	Glob string `json:"glob"`
}

func (n *Namespace) handleListFilesMatching(raw json.RawMessage) (json.RawMessage, error) {
	var p globParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.NewParseFailure("malformed list_files_matching params", err)
	}

	var matches []string
	for _, f := range n.Repo.Files {
		ok, err := filepath.Match(p.Glob, f.Path)
		if err != nil {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("invalid glob: %v", err))
		}
		if ok {
			matches = append(matches, f.Path)
		}
	}
	return json.Marshal(matches)
}

type fileSliceParams struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// handleGetFileSlice returns the 1-based inclusive [StartLine, EndLine]
// range of path's lines (§4.7 "get_file_slice").
func (n *Namespace) handleGetFileSlice(raw json.RawMessage) (json.RawMessage, error) {
	var p fileSliceParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.NewParseFailure("malformed get_file_slice params", err)
	}
	if p.StartLine < 1 || p.EndLine < p.StartLine {
		return nil, apperrors.NewInvalidInputError("start_line/end_line out of range")
	}

	f, err := os.Open(filepath.Join(n.Repo.Root, p.Path))
	if err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("file not found: %s", p.Path))
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo < p.StartLine {
			continue
		}
		if lineNo > p.EndLine {
			break
		}
		lines = append(lines, scanner.Text())
	}
	return json.Marshal(strings.Join(lines, "\n"))
}
