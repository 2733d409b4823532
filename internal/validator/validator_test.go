package validator

import (
	"testing"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestValidateTaskJSON_Valid(t *testing.T) {
	v := newValidator(t)

	payload := `{
		"id": "ingest-1",
		"type": "ingest",
		"priority": 80,
		"dependencies": [{"task_id": "extract-1", "type": "finish-to-start", "lag": 60000000000}],
		"resources": [{"resource_id": "gpu-0", "type": "custom", "amount": 1, "exclusive": true}],
		"schedule": {"start_time": "2026-03-01T12:00:00Z", "recurring": {"interval": "daily", "count": 5}},
		"retry": {"max_attempts": 3, "backoff": 1000000000, "backoff_multiplier": 2},
		"rollback": "previous-checkpoint",
		"tags": ["etl"]
	}`

	if result := v.ValidateTaskJSON([]byte(payload)); !result.Valid {
		t.Fatalf("errors = %+v", result.Errors)
	}
}

func TestValidateTaskJSON_Invalid(t *testing.T) {
	v := newValidator(t)

	cases := []struct {
		name    string
		payload string
	}{
		{"missing type", `{"priority": 50}`},
		{"empty type", `{"type": ""}`},
		{"priority above range", `{"type": "job", "priority": 101}`},
		{"negative priority", `{"type": "job", "priority": -1}`},
		{"unknown dependency type", `{"type": "job", "dependencies": [{"task_id": "a", "type": "after"}]}`},
		{"dependency without task id", `{"type": "job", "dependencies": [{"type": "finish-to-start"}]}`},
		{"unknown resource type", `{"type": "job", "resources": [{"resource_id": "r", "type": "quantum", "amount": 1}]}`},
		{"zero resource amount", `{"type": "job", "resources": [{"resource_id": "r", "amount": 0}]}`},
		{"unknown recurring interval", `{"type": "job", "schedule": {"recurring": {"interval": "hourly"}}}`},
		{"zero retry attempts", `{"type": "job", "retry": {"max_attempts": 0}}`},
		{"unknown rollback strategy", `{"type": "job", "rollback": "latest"}`},
		{"id starting with digit", `{"id": "1task", "type": "job"}`},
		{"negative timeout", `{"type": "job", "timeout": -5}`},
		{"malformed JSON", `{"type": "job"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := v.ValidateTaskJSON([]byte(tc.payload))
			if result.Valid {
				t.Fatalf("payload accepted: %s", tc.payload)
			}
			if len(result.Errors) == 0 {
				t.Fatal("no errors reported")
			}
		})
	}
}

func TestValidateWorkflowJSON_Valid(t *testing.T) {
	v := newValidator(t)

	payload := `{
		"name": "nightly-etl",
		"tasks": [
			{"id": "extract", "type": "extract"},
			{"id": "load", "type": "load", "dependencies": [{"task_id": "extract"}]}
		],
		"parallelism": {"max_concurrent": 2, "strategy": "breadth-first"},
		"error_handling": {"strategy": "retry-failed", "max_retries": 2}
	}`

	if result := v.ValidateWorkflowJSON([]byte(payload)); !result.Valid {
		t.Fatalf("errors = %+v", result.Errors)
	}
}

func TestValidateWorkflowJSON_Invalid(t *testing.T) {
	v := newValidator(t)

	cases := []struct {
		name    string
		payload string
	}{
		{"missing name", `{"tasks": [{"type": "job"}]}`},
		{"missing tasks", `{"name": "wf"}`},
		{"empty tasks", `{"name": "wf", "tasks": []}`},
		{"invalid nested task", `{"name": "wf", "tasks": [{"priority": 50}]}`},
		{"unknown strategy", `{"name": "wf", "tasks": [{"type": "job"}], "parallelism": {"strategy": "random"}}`},
		{"unknown error strategy", `{"name": "wf", "tasks": [{"type": "job"}], "error_handling": {"strategy": "ignore"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := v.ValidateWorkflowJSON([]byte(tc.payload))
			if result.Valid {
				t.Fatalf("payload accepted: %s", tc.payload)
			}
		})
	}
}

func TestValidateTask_DecodedPayload(t *testing.T) {
	v := newValidator(t)

	result := v.ValidateTask(map[string]interface{}{
		"type":     "job",
		"priority": float64(50),
	})
	if !result.Valid {
		t.Fatalf("errors = %+v", result.Errors)
	}
}
