// Package run defines the Run domain entity: one execution of a task over a dataset.
package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/EvalForge/internal/domain"
)

// Status represents the workflow state of a run.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
)

// ValidStatuses is the set of all recognized workflow statuses.
var ValidStatuses = map[Status]bool{
	StatusDraft:     true,
	StatusRunning:   true,
	StatusCompleted: true,
	StatusFailed:    true,
	StatusSubmitted: true,
	StatusApproved:  true,
	StatusRejected:  true,
}

// Terminal reports whether the status forbids further item/score mutation.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSubmitted, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// CanSubmit reports whether a run in this status may be submitted for approval.
func (s Status) CanSubmit() bool {
	switch s {
	case StatusSubmitted, StatusApproved, StatusRejected:
		return false
	}
	return true
}

// CanDecide reports whether a run in this status may be approved or rejected.
func (s Status) CanDecide() bool {
	return s == StatusSubmitted
}

// Run represents a single execution of a task over a dataset.
type Run struct {
	ID            string          `json:"id"`
	ExternalRunID string          `json:"external_run_id,omitempty"`
	CreatedByID   string          `json:"created_by_id"`
	OwnerID       string          `json:"owner_id"`
	Task          string          `json:"task"`
	Dataset       string          `json:"dataset"`
	Model         string          `json:"model,omitempty"`
	Metrics       []string        `json:"metrics"`
	RunMetadata   json.RawMessage `json:"run_metadata,omitempty"`
	RunConfig     json.RawMessage `json:"run_config,omitempty"`
	Status        Status          `json:"status"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Validate checks run invariants after construction or projection.
func (r *Run) Validate() error {
	if r.OwnerID == "" {
		return fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}
	if r.Task == "" {
		return fmt.Errorf("%w: task is required", domain.ErrValidation)
	}
	if r.Dataset == "" {
		return fmt.Errorf("%w: dataset is required", domain.ErrValidation)
	}
	if !ValidStatuses[r.Status] {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, r.Status)
	}
	return nil
}

// CreateRequest is the body of POST /v1/runs.
type CreateRequest struct {
	ExternalRunID string          `json:"external_run_id,omitempty"`
	Task          string          `json:"task"`
	Dataset       string          `json:"dataset"`
	Model         string          `json:"model,omitempty"`
	Metrics       []string        `json:"metrics"`
	RunMetadata   json.RawMessage `json:"run_metadata,omitempty"`
	RunConfig     json.RawMessage `json:"run_config,omitempty"`
}

// Validate checks that the CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if r.Task == "" {
		return errors.New("task is required")
	}
	if r.Dataset == "" {
		return errors.New("dataset is required")
	}
	for _, m := range r.Metrics {
		if m == "" {
			return errors.New("metric names must be non-empty")
		}
	}
	return nil
}

// CreateResponse is returned by POST /v1/runs.
type CreateResponse struct {
	RunID   string `json:"run_id"`
	LiveURL string `json:"live_url"`
}

// Summary is the computed aggregate shown on dashboard listings.
type Summary struct {
	TotalItems     int                `json:"total_items"`
	CompletedItems int                `json:"completed_items"`
	ErrorItems     int                `json:"error_items"`
	ExpectedTotal  int                `json:"expected_total,omitempty"`
	SuccessRate    float64            `json:"success_rate"`
	AvgLatencyMS   float64            `json:"avg_latency_ms"`
	MetricAverages map[string]float64 `json:"metric_averages"`
}

// WithSummary pairs a run with its computed summary for list responses.
type WithSummary struct {
	Run     Run     `json:"run"`
	Summary Summary `json:"summary"`
}

// Group is a set of runs sharing a task name, sub-grouped by model.
type Group struct {
	Task   string       `json:"task"`
	Models []ModelGroup `json:"models"`
}

// ModelGroup is the set of runs for one model under a task.
type ModelGroup struct {
	Model string        `json:"model"`
	Runs  []WithSummary `json:"runs"`
}

// Detail is the full run view: the run, its summary, and all items with scores.
type Detail struct {
	Run     Run     `json:"run"`
	Summary Summary `json:"summary"`
	Items   []Item  `json:"items"`
}
