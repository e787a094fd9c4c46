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
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/filescout/services/file_finder/job"
	"github.com/AleutianAI/filescout/services/file_finder/workflow"
)

// ErrEmptyCompletion indicates the model returned no choices.
var ErrEmptyCompletion = errors.New("chat completion returned no choices")

// systemPrompts instruct the model per task type. Each prompt pins the
// exact JSON shape the stage's extractor expects.
var systemPrompts = map[string]string{
	string(workflow.TaskRegexPatternGeneration): `You generate regular expressions that locate files in a codebase.
Given a task description and a directory tree, respond with JSON only:
{"patternGroups": [{"title": "...", "pathPattern": "...", "contentPattern": "...", "negativePathPattern": "..."}]}
Every group needs a title and at least one pattern. Patterns must be valid RE2. Omit pattern fields you do not need. Produce at least one group.`,

	string(workflow.TaskPathFinding): `You select the files relevant to a task from a list of candidates.
Given a task description, a directory tree, and candidate files, respond with JSON only:
{"verifiedPaths": ["..."], "unverifiedPaths": ["..."]}
verifiedPaths must be candidates that appear in the directory tree. Paths you believe relevant but could not confirm go in unverifiedPaths. Both keys are required even when empty.`,

	string(workflow.TaskPathCorrection): `You correct file paths that could not be verified against a directory tree.
Given a task description, a directory tree, and unverified paths, respond with JSON only:
{"correctedPaths": ["..."]}
Map each unverified path to the closest real path in the tree. Never invent paths absent from the tree.`,
}

func init() {
	// Extended stages reuse the base prompts; the payload differences
	// (exclusions, extended lists) are already in the user message.
	systemPrompts[string(workflow.TaskExtendedPathFinding)] = systemPrompts[string(workflow.TaskPathFinding)]
	systemPrompts[string(workflow.TaskExtendedPathCorrection)] = systemPrompts[string(workflow.TaskPathCorrection)]
}

const genericPrompt = `You analyze a codebase to help locate files for a task. Respond with JSON only.`

// ChatConfig configures the model-backed executor.
type ChatConfig struct {
	// APIKey authenticates against the completion API.
	APIKey string

	// BaseURL overrides the API endpoint, for local OpenAI-compatible
	// servers. Empty uses the default endpoint.
	BaseURL string

	// Model names the completion model. Default: gpt-4o-mini.
	Model string

	// Temperature for completions. Default: 0 (deterministic-ish).
	Temperature float32
}

// completionClient is the slice of the OpenAI client the executor
// uses; narrowed for testing.
type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatExecutor runs AI-backed task types through a chat completion
// API. One executor instance serves every AI task type; the system
// prompt is selected by the job's task type.
type ChatExecutor struct {
	client completionClient
	config ChatConfig
}

// NewChatExecutor creates an executor backed by the configured API.
func NewChatExecutor(config ChatConfig) *ChatExecutor {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &ChatExecutor{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}
}

// Execute implements Executor: the job payload becomes the user
// message, the model's JSON reply becomes the job output with the
// token usage attached.
func (e *ChatExecutor) Execute(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	prompt, ok := systemPrompts[j.TaskType]
	if !ok {
		prompt = genericPrompt
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.config.Model,
		Temperature: e.config.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: string(j.Payload)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion for %s: %w", j.TaskType, err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	return attachTokenCount([]byte(resp.Choices[0].Message.Content), resp.Usage.TotalTokens)
}

// attachTokenCount adds the usage total to the model's JSON object so
// extractors can account for it.
func attachTokenCount(content []byte, tokens int) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(content, &fields); err != nil {
		return nil, fmt.Errorf("model reply is not a JSON object: %w", err)
	}
	count, err := json.Marshal(tokens)
	if err != nil {
		return nil, err
	}
	fields["tokenCount"] = count
	return json.Marshal(fields)
}
