package task

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition can happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Metadata is the destination context of an upload. It mirrors the
// meta_data form field accepted by the document-create endpoint.
type Metadata struct {
	FolderID      string `json:"current_folder_id,omitempty"`
	NewFolderName string `json:"newFolderName,omitempty"`
}

// Task is a snapshot-safe record of one admitted transfer. Values handed out
// by the tracker are copies; Result and Error are never mutated after they
// are set.
type Task struct {
	ID         string     `json:"id"`
	BatchID    string     `json:"batch_id"`
	Name       string     `json:"name"`
	Size       int64      `json:"size"`
	Metadata   Metadata   `json:"metadata"`
	Status     Status     `json:"status"`
	Progress   int        `json:"progress"`
	Error      *Error     `json:"error,omitempty"`
	Result     any        `json:"result,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Cancelled reports whether the task failed because it was cancelled.
func (t Task) Cancelled() bool {
	return t.Status == StatusFailed && t.Error != nil && t.Error.Reason == ReasonCancelled
}

type Stats struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}
