// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/filescout/pkg/logging"
)

// Registry holds validated workflow definitions keyed by name.
//
// # Description
//
// Load reads every *.json document in a directory; a malformed or
// invalid document is logged and skipped without affecting the rest.
// When a directory yields no valid definitions, LoadOrBuiltin installs
// the built-in FileFinderWorkflow so the engine always has something to
// run. Watch re-loads the directory on file changes; running workflows
// keep the definition snapshot they started with, because the
// orchestrator resolves definitions once at start.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]*WorkflowDefinition

	validate *validator.Validate
	logger   *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		definitions: make(map[string]*WorkflowDefinition),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("component", "workflow_registry"),
	}
}

// Get returns the named definition.
func (r *Registry) Get(name string) (*WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDefinitionNotFound, name)
	}
	return def, nil
}

// Names returns the sorted names of all registered definitions.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.definitions))
	for name := range r.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register validates and installs a definition, replacing any existing
// definition with the same name.
func (r *Registry) Register(def *WorkflowDefinition) error {
	if err := r.validate.Struct(def); err != nil {
		return fmt.Errorf("definition %q: %w", def.Name, err)
	}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("definition %q: %w", def.Name, err)
	}
	r.mu.Lock()
	r.definitions[def.Name] = def
	r.mu.Unlock()
	return nil
}

// Load reads and validates every *.json definition document under dir.
//
// Each file is handled independently: a document that fails to parse or
// validate is logged and skipped. Load replaces the registry contents
// with the surviving set and returns ErrNoDefinitions when that set is
// empty.
func (r *Registry) Load(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read definition directory %s: %w", dir, err)
	}

	loaded := make(map[string]*WorkflowDefinition)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := r.loadFile(path)
		if err != nil {
			r.logger.Warn("skipping workflow definition", "path", path, "error", err)
			continue
		}
		if _, dup := loaded[def.Name]; dup {
			r.logger.Warn("skipping workflow definition with duplicate name",
				"path", path, "name", def.Name)
			continue
		}
		loaded[def.Name] = def
		r.logger.Info("loaded workflow definition",
			"name", def.Name, "stages", len(def.Stages), "path", path)
	}

	if len(loaded) == 0 {
		return fmt.Errorf("%w: %s", ErrNoDefinitions, dir)
	}

	r.mu.Lock()
	r.definitions = loaded
	r.mu.Unlock()
	return nil
}

// LoadOrBuiltin loads definitions from dir, falling back to the
// built-in FileFinderWorkflow when the directory cannot be read or
// yields nothing valid. An empty dir skips loading entirely.
func (r *Registry) LoadOrBuiltin(dir string) {
	if dir != "" {
		if err := r.Load(dir); err == nil {
			return
		} else {
			r.logger.Warn("falling back to built-in workflow definition",
				"dir", dir, "error", err)
		}
	}
	builtin := BuiltinFileFinderDefinition()
	r.mu.Lock()
	r.definitions = map[string]*WorkflowDefinition{builtin.Name: builtin}
	r.mu.Unlock()
	r.logger.Info("registered built-in workflow definition", "name", builtin.Name)
}

// loadFile parses and validates a single definition document.
func (r *Registry) loadFile(path string) (*WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	var def WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := r.validate.Struct(&def); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Watch re-loads dir whenever definition files change, until ctx is
// canceled. Reload failures keep the previous definition set.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".json") {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := r.Load(dir); err != nil {
					r.logger.Warn("definition reload failed, keeping previous set",
						"dir", dir, "error", err)
				} else {
					r.logger.Info("reloaded workflow definitions",
						"dir", dir, "names", r.Names())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("definition watcher error", "error", err)
			}
		}
	}()
	return nil
}
