// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the filescout configuration file.
package config

import (
	"os"
	"path/filepath"
)

// FilescoutConfig is the full configuration document.
type FilescoutConfig struct {
	// Logging controls the engine's log output.
	Logging LoggingConfig `yaml:"logging"`

	// Store: where job records persist.
	Store StoreConfig `yaml:"store"`

	// Workflows: definition documents and engine tuning.
	Workflows WorkflowConfig `yaml:"workflows"`

	// Dispatch: the local worker pool.
	Dispatch DispatchConfig `yaml:"dispatch"`

	// ModelBackend: the OpenAI-compatible endpoint for AI stages.
	ModelBackend BackendConfig `yaml:"model_backend"`

	// HTTP: the API listener.
	HTTP HTTPConfig `yaml:"http"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir"`   // log file directory
	JSON  bool   `yaml:"json"`  // JSON lines instead of text
}

type StoreConfig struct {
	Path     string `yaml:"path"`      // badger data directory
	InMemory bool   `yaml:"in_memory"` // ephemeral store, for development
}

type WorkflowConfig struct {
	DefinitionsDir      string `yaml:"definitions_dir"`       // workflow definition documents (*.json)
	WatchDefinitions    bool   `yaml:"watch_definitions"`     // hot-reload on changes
	MaxConcurrentStages int    `yaml:"max_concurrent_stages"` // per-workflow live job budget
	LockTimeoutSeconds  int    `yaml:"lock_timeout_seconds"`  // bounded wait for workflow locks
	RetentionHours      int    `yaml:"retention_hours"`       // terminal workflows older than this are dropped
}

type DispatchConfig struct {
	Workers            int `yaml:"workers"`              // pool size
	PollIntervalSecond int `yaml:"poll_interval_second"` // queue scan fallback interval
	JobTimeoutSeconds  int `yaml:"job_timeout_seconds"`  // per-job execution deadline
}

type BackendConfig struct {
	// Type can be "openai", "ollama", or any OpenAI-compatible server.
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never lives in the config file.
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float32 `yaml:"temperature"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"` // listen address, e.g. ":12310"
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() FilescoutConfig {
	dataDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".filescout")
	}
	return FilescoutConfig{
		Logging: LoggingConfig{
			Level: "info",
			Dir:   filepath.Join(dataDir, "logs"),
			JSON:  true,
		},
		Store: StoreConfig{
			Path: filepath.Join(dataDir, "jobs"),
		},
		Workflows: WorkflowConfig{
			DefinitionsDir:      filepath.Join(dataDir, "workflows"),
			WatchDefinitions:    true,
			MaxConcurrentStages: 3,
			LockTimeoutSeconds:  5,
			RetentionHours:      24,
		},
		Dispatch: DispatchConfig{
			Workers:            4,
			PollIntervalSecond: 2,
			JobTimeoutSeconds:  300,
		},
		ModelBackend: BackendConfig{
			Type:        "ollama",
			BaseURL:     "http://localhost:11434/v1",
			Model:       "qwen2.5-coder:14b",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.1,
		},
		HTTP: HTTPConfig{
			Addr: ":12310",
		},
	}
}
