package storage

import (
	"errors"

	"github.com/cuemby/onboard/pkg/types"
)

// ErrNotFound is returned for unknown task ids
var ErrNotFound = errors.New("not found")

// Store defines the interface for onboarding task persistence.
// Implemented by BoltStore.
type Store interface {
	// Tasks
	SaveTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	DeleteTask(id string) error

	// Metadata
	SetMostRecentTask(id string) error
	MostRecentTask() (string, error)

	// Utility
	Close() error
}
