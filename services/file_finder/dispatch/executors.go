// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/filescout/services/file_finder/inject"
	"github.com/AleutianAI/filescout/services/file_finder/job"
	"github.com/AleutianAI/filescout/services/file_finder/workflow"
)

// excludeSet normalizes task-level excluded paths to slash-separated
// relative form for lookup during walks.
func excludeSet(paths []string) map[string]bool {
	if len(paths) == 0 {
		return nil
	}
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		p = strings.TrimSuffix(filepath.ToSlash(p), "/")
		if p != "" {
			set[p] = true
		}
	}
	return set
}

// defaultSkipDirs are directory names never descended into.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"target":       true,
	"vendor":       true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
}

// TreeExecutor renders a textual directory tree for the
// directory_tree_generation task type.
type TreeExecutor struct {
	// MaxDepth bounds recursion; 0 means the default of 12.
	MaxDepth int

	// MaxEntries bounds total listed entries; 0 means the default of
	// 10000. The tree is truncated with a marker beyond that.
	MaxEntries int
}

type treeOutput struct {
	DirectoryTree string `json:"directoryTree"`
}

// Execute implements Executor.
func (e *TreeExecutor) Execute(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	var payload inject.TreePayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return nil, fmt.Errorf("parse tree payload: %w", err)
	}
	if payload.RootPath == "" {
		return nil, fmt.Errorf("tree payload has no root path")
	}

	maxDepth := e.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 12
	}
	maxEntries := e.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10000
	}

	excluded := excludeSet(payload.ExcludedPaths)

	var sb strings.Builder
	sb.WriteString(filepath.Base(payload.RootPath) + "/\n")

	entries := 0
	truncated := false

	var walk func(dir, rel string, depth int) error
	walk = func(dir, rel string, depth int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if depth > maxDepth || truncated {
			return nil
		}
		listing, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read %s: %w", dir, err)
		}
		sort.Slice(listing, func(i, k int) bool {
			return listing[i].Name() < listing[k].Name()
		})
		for _, entry := range listing {
			if entries >= maxEntries {
				truncated = true
				return nil
			}
			name := entry.Name()
			if entry.IsDir() && defaultSkipDirs[name] {
				continue
			}
			entryRel := name
			if rel != "" {
				entryRel = rel + "/" + name
			}
			if excluded[entryRel] {
				continue
			}
			entries++
			sb.WriteString(strings.Repeat("  ", depth))
			if entry.IsDir() {
				sb.WriteString(name + "/\n")
				if err := walk(filepath.Join(dir, name), entryRel, depth+1); err != nil {
					return err
				}
			} else {
				sb.WriteString(name + "\n")
			}
		}
		return nil
	}

	if err := walk(payload.RootPath, "", 1); err != nil {
		return nil, err
	}
	if truncated {
		sb.WriteString("... (truncated)\n")
	}

	return json.Marshal(treeOutput{DirectoryTree: sb.String()})
}

// FilterExecutor applies pattern groups to the file tree for the
// local_file_filtering task type.
//
// A group selects a file when every pattern it carries matches: the
// path pattern against the relative path, the content pattern against
// the file contents, and the negative path pattern against nothing.
// The result is the union over all groups, sorted.
type FilterExecutor struct {
	// MaxFileSize bounds content-pattern reads; larger files fail the
	// content match. 0 means the default of 1 MiB.
	MaxFileSize int64
}

type filterOutput struct {
	FilteredFiles []string `json:"filteredFiles"`
}

// compiledGroup is a PatternGroup with its regexes compiled.
type compiledGroup struct {
	path     *regexp.Regexp
	content  *regexp.Regexp
	negative *regexp.Regexp
}

func compileGroup(group workflow.PatternGroup) (compiledGroup, error) {
	var cg compiledGroup
	var err error
	if group.PathPattern != "" {
		if cg.path, err = regexp.Compile(group.PathPattern); err != nil {
			return cg, fmt.Errorf("group %q path pattern: %w", group.Title, err)
		}
	}
	if group.ContentPattern != "" {
		if cg.content, err = regexp.Compile(group.ContentPattern); err != nil {
			return cg, fmt.Errorf("group %q content pattern: %w", group.Title, err)
		}
	}
	if group.NegativePathPattern != "" {
		if cg.negative, err = regexp.Compile(group.NegativePathPattern); err != nil {
			return cg, fmt.Errorf("group %q negative pattern: %w", group.Title, err)
		}
	}
	return cg, nil
}

// Execute implements Executor.
func (e *FilterExecutor) Execute(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	var payload inject.FilteringPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return nil, fmt.Errorf("parse filtering payload: %w", err)
	}
	if payload.RootPath == "" {
		return nil, fmt.Errorf("filtering payload has no root path")
	}

	maxSize := e.MaxFileSize
	if maxSize <= 0 {
		maxSize = 1 << 20
	}

	groups := make([]compiledGroup, 0, len(payload.PatternGroups))
	for _, group := range payload.PatternGroups {
		cg, err := compileGroup(group)
		if err != nil {
			return nil, err
		}
		groups = append(groups, cg)
	}

	excluded := excludeSet(payload.ExcludedPaths)

	selected := map[string]bool{}
	err := filepath.WalkDir(payload.RootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, err := filepath.Rel(payload.RootPath, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if path == payload.RootPath {
				return nil
			}
			if defaultSkipDirs[d.Name()] || excluded[rel] {
				return filepath.SkipDir
			}
			return nil
		}
		if excluded[rel] {
			return nil
		}

		for _, group := range groups {
			if matchGroup(group, rel, path, maxSize) {
				selected[rel] = true
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", payload.RootPath, err)
	}

	files := make([]string, 0, len(selected))
	for rel := range selected {
		files = append(files, rel)
	}
	sort.Strings(files)

	return json.Marshal(filterOutput{FilteredFiles: files})
}

func matchGroup(group compiledGroup, rel, abs string, maxSize int64) bool {
	if group.negative != nil && group.negative.MatchString(rel) {
		return false
	}
	if group.path != nil && !group.path.MatchString(rel) {
		return false
	}
	if group.content != nil {
		info, err := os.Stat(abs)
		if err != nil || info.Size() > maxSize {
			return false
		}
		data, err := os.ReadFile(abs)
		if err != nil || !group.content.Match(data) {
			return false
		}
	}
	// A negative-only group excludes; it never selects on its own.
	return group.path != nil || group.content != nil
}
