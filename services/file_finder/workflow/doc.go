// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow defines the data model for multi-stage file discovery
// workflows: DAG definitions, per-run state, stage jobs, and the typed
// intermediate data accumulated as stages complete.
//
// A workflow is one run of a named DAG of stages over a task context.
// Stage identity is the stage name, a free string unique within its
// definition; adding a stage to a definition document requires no code
// change elsewhere. The Registry loads definition documents from a
// directory, validates each one (acyclic, no dangling dependencies, at
// least one entry stage), and falls back to the built-in FileFinderWorkflow
// when no document can be loaded.
//
// The types here are passive; the orchestrator package owns all mutation
// of live WorkflowState records.
package workflow
