package models

import "time"

// SubjectType names the kind of entity an event or watchdog is attached to.
type SubjectType string

const (
	SubjectWorkflow SubjectType = "workflow"
	SubjectNode     SubjectType = "node"
)

// Target is anything an event can be fired on.
type Target interface {
	TargetType() SubjectType
	TargetID() string
	WorkflowRef() string
}

// Subject identifies a watched entity.
type Subject struct {
	Type SubjectType `json:"subject_type"`
	ID   string      `json:"subject_id"`
}

// SubjectOf returns the subject identity of a target.
func SubjectOf(t Target) Subject {
	return Subject{Type: t.TargetType(), ID: t.TargetID()}
}

// Watchdog monitors a subject for progress within a time window.
type Watchdog struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	SubjectType SubjectType   `json:"subject_type"`
	SubjectID   string        `json:"subject_id"`
	Duration    time.Duration `json:"duration"`
	TimerID     string        `json:"timer_id"`
	ArmedAt     time.Time     `json:"armed_at"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Subject returns the watched subject.
func (w *Watchdog) Subject() Subject {
	return Subject{Type: w.SubjectType, ID: w.SubjectID}
}

// ExpiresAt is the time the current arming runs out.
func (w *Watchdog) ExpiresAt() time.Time {
	return w.ArmedAt.Add(w.Duration)
}
