// Package models defines the workflow, node and watchdog records of the orchestration engine.
package models

import (
	"encoding/json"
	"time"
)

// Workflow is a named process instance tied to a subject and a decider.
type Workflow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"       validate:"required"`
	Decider   string         `json:"decider"    validate:"required"`
	Subject   map[string]any `json:"subject"    validate:"required"`
	UserID    string         `json:"user_id"    validate:"required"`
	Complete  bool           `json:"complete"`
	Paused    bool           `json:"paused"`
	Migrated  bool           `json:"migrated"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SubjectKey returns the canonical encoding of the subject. Map keys are
// sorted by encoding/json, so equal subjects always produce the same key.
func (w *Workflow) SubjectKey() (string, error) {
	return SubjectKey(w.Subject)
}

// SubjectKey returns the canonical encoding of a subject payload.
func SubjectKey(subject map[string]any) (string, error) {
	raw, err := json.Marshal(subject)
	if err != nil {
		return "", err
	}

	return string(raw), nil
}

func (w *Workflow) TargetType() SubjectType { return SubjectWorkflow }

func (w *Workflow) TargetID() string { return w.ID }

func (w *Workflow) WorkflowRef() string { return w.ID }

// WorkflowFilter narrows workflow listings. Empty fields match everything.
type WorkflowFilter struct {
	UserID       string
	WorkflowType string
	Decider      string
	Subject      map[string]any
}
