package types

import (
	"net/http"
	"time"
)

// TaskStatus represents the lifecycle state of an onboarding task
type TaskStatus string

const (
	StatusRunning     TaskStatus = "RUNNING"
	StatusOK          TaskStatus = "OK"
	StatusError       TaskStatus = "ERROR"
	StatusRebooting   TaskStatus = "REBOOTING"
	StatusRollingBack TaskStatus = "ROLLING_BACK"
	StatusRevoking    TaskStatus = "REVOKING"
)

// Terminal reports whether no further transitions will happen
func (s TaskStatus) Terminal() bool {
	return s == StatusOK || s == StatusError
}

// Result codes reported with a task
const (
	CodeOK             = http.StatusOK
	CodeAccepted       = http.StatusAccepted
	CodeBadRequest     = http.StatusBadRequest
	CodeNotFound       = http.StatusNotFound
	CodeUnprocessable  = http.StatusUnprocessableEntity
	CodeInternalServer = http.StatusInternalServerError
)

// Result is the externally visible outcome of a task
type Result struct {
	Class   string     `json:"class"`
	Code    int        `json:"code"`
	Status  TaskStatus `json:"status"`
	Message string     `json:"message,omitempty"`
	Errors  []string   `json:"errors,omitempty"`
}

// Task is the persisted record of one submitted declaration
type Task struct {
	ID             string      `json:"id"`
	Result         Result      `json:"result"`
	Declaration    Declaration `json:"declaration,omitempty"`
	Target         Target      `json:"target"`
	CurrentConfig  Config      `json:"currentConfig,omitempty"`
	OriginalConfig Config      `json:"originalConfig,omitempty"`
	LastUpdate     time.Time   `json:"lastUpdate"`

	// Pending holds the encrypted request needed to resume after a reboot
	// or a license revocation killed the agent. Empty otherwise.
	Pending []byte `json:"pending,omitempty"`
	Resumed bool   `json:"resumed,omitempty"`
}

// DeepCopy returns an independent copy of the task
func (t *Task) DeepCopy() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.Result.Errors = append([]string(nil), t.Result.Errors...)
	out.Declaration = t.Declaration.DeepCopy()
	out.CurrentConfig = t.CurrentConfig.DeepCopy()
	out.OriginalConfig = t.OriginalConfig.DeepCopy()
	if t.Pending != nil {
		out.Pending = append([]byte(nil), t.Pending...)
	}
	return &out
}

// PendingRequest is the plaintext form of Task.Pending
type PendingRequest struct {
	Request Request `json:"request"`
}
