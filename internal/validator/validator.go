// Package validator provides JSON schema validation for task and workflow
// payloads.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator validates task and workflow creation payloads.
type Validator struct {
	taskSchema     *jsonschema.Schema
	workflowSchema *jsonschema.Schema
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// New creates a new validator with embedded schemas.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("task.json", strings.NewReader(taskSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add task schema: %w", err)
	}
	if err := compiler.AddResource("workflow.json", strings.NewReader(workflowSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add workflow schema: %w", err)
	}

	taskSchema, err := compiler.Compile("task.json")
	if err != nil {
		return nil, fmt.Errorf("compile task schema: %w", err)
	}

	workflowSchema, err := compiler.Compile("workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &Validator{
		taskSchema:     taskSchema,
		workflowSchema: workflowSchema,
	}, nil
}

// ValidateTask validates a decoded task payload.
func (v *Validator) ValidateTask(task map[string]interface{}) *ValidationResult {
	return v.validate(v.taskSchema, task)
}

// ValidateWorkflow validates a decoded workflow payload.
func (v *Validator) ValidateWorkflow(workflow map[string]interface{}) *ValidationResult {
	return v.validate(v.workflowSchema, workflow)
}

// ValidateTaskJSON validates a JSON-encoded task payload.
func (v *Validator) ValidateTaskJSON(data []byte) *ValidationResult {
	var task map[string]interface{}
	if err := json.Unmarshal(data, &task); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.ValidateTask(task)
}

// ValidateWorkflowJSON validates a JSON-encoded workflow payload.
func (v *Validator) ValidateWorkflowJSON(data []byte) *ValidationResult {
	var workflow map[string]interface{}
	if err := json.Unmarshal(data, &workflow); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.ValidateWorkflow(workflow)
}

// validate runs schema validation and converts errors.
func (v *Validator) validate(schema *jsonschema.Schema, data interface{}) *ValidationResult {
	err := schema.Validate(data)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{Valid: false}

	if verr, ok := err.(*jsonschema.ValidationError); ok {
		result.Errors = extractErrors(verr)
	} else {
		result.Errors = []ValidationError{
			{Path: "$", Message: err.Error()},
		}
	}

	return result
}

// extractErrors recursively extracts validation errors.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	if verr.Message != "" {
		errors = append(errors, ValidationError{
			Path:    verr.InstanceLocation,
			Message: verr.Message,
		})
	}

	for _, cause := range verr.Causes {
		errors = append(errors, extractErrors(cause)...)
	}

	return errors
}

// Embedded JSON schemas

const taskSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "task.json",
  "title": "Task",
  "description": "Schema for task creation payloads",
  "type": "object",
  "required": ["type"],
  "properties": {
    "id": {
      "type": "string",
      "pattern": "^[a-zA-Z][a-zA-Z0-9._-]*$",
      "description": "Task identifier; generated when omitted"
    },
    "type": {
      "type": "string",
      "minLength": 1,
      "description": "Executor-facing task type"
    },
    "description": {
      "type": "string"
    },
    "priority": {
      "type": "integer",
      "minimum": 0,
      "maximum": 100,
      "description": "Scheduling priority, higher runs first"
    },
    "dependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["task_id"],
        "properties": {
          "task_id": {"type": "string"},
          "type": {
            "type": "string",
            "enum": ["finish-to-start", "start-to-start", "finish-to-finish", "start-to-finish"]
          },
          "lag": {"type": "integer", "description": "Lag in nanoseconds"}
        }
      }
    },
    "resources": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["resource_id", "amount"],
        "properties": {
          "resource_id": {"type": "string"},
          "type": {
            "type": "string",
            "enum": ["cpu", "memory", "disk", "network", "custom"]
          },
          "amount": {"type": "number", "exclusiveMinimum": 0},
          "unit": {"type": "string"},
          "exclusive": {"type": "boolean"},
          "priority": {"type": "integer"}
        }
      }
    },
    "schedule": {
      "type": "object",
      "properties": {
        "start_time": {"type": "string", "format": "date-time"},
        "deadline": {"type": "string", "format": "date-time"},
        "timezone": {"type": "string"},
        "recurring": {
          "type": "object",
          "required": ["interval"],
          "properties": {
            "interval": {"type": "string", "enum": ["daily", "weekly", "monthly"]},
            "count": {"type": "integer", "minimum": 1}
          }
        }
      }
    },
    "assigned_agent": {
      "type": "string",
      "description": "Hard executor constraint"
    },
    "tags": {
      "type": "array",
      "items": {"type": "string"}
    },
    "timeout": {
      "type": "integer",
      "minimum": 0,
      "description": "Attempt timeout in nanoseconds"
    },
    "estimated_duration": {
      "type": "integer",
      "minimum": 0
    },
    "retry": {
      "type": "object",
      "properties": {
        "max_attempts": {"type": "integer", "minimum": 1, "maximum": 100},
        "backoff": {"type": "integer", "minimum": 0},
        "backoff_multiplier": {"type": "number", "minimum": 1}
      }
    },
    "rollback": {
      "type": "string",
      "enum": ["previous-checkpoint", "initial-state", "custom"]
    },
    "rollback_selector": {
      "type": "string",
      "description": "Expression selecting the rollback checkpoint"
    }
  }
}`

const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "workflow.json",
  "title": "Workflow",
  "description": "Schema for workflow creation payloads",
  "type": "object",
  "required": ["name", "tasks"],
  "properties": {
    "id": {
      "type": "string",
      "pattern": "^[a-zA-Z][a-zA-Z0-9._-]*$"
    },
    "name": {
      "type": "string",
      "minLength": 1
    },
    "description": {
      "type": "string"
    },
    "tasks": {
      "type": "array",
      "items": {"$ref": "task.json"},
      "minItems": 1,
      "description": "Tasks in the workflow graph"
    },
    "parallelism": {
      "type": "object",
      "properties": {
        "max_concurrent": {"type": "integer", "minimum": 0},
        "strategy": {
          "type": "string",
          "enum": ["breadth-first", "depth-first", "priority-based"]
        }
      }
    },
    "error_handling": {
      "type": "object",
      "properties": {
        "strategy": {
          "type": "string",
          "enum": ["fail-fast", "continue-on-error", "retry-failed"]
        },
        "max_retries": {"type": "integer", "minimum": 0, "maximum": 10}
      }
    }
  }
}`
