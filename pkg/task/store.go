package task

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/onboard/pkg/events"
	"github.com/cuemby/onboard/pkg/log"
	"github.com/cuemby/onboard/pkg/storage"
	"github.com/cuemby/onboard/pkg/types"
)

// ErrNotFound is returned for task ids the store does not know
var ErrNotFound = errors.New("task not found")

// Delays between persistence attempts
var saveBackoff = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// Store is the task state store. Memory is authoritative; every change is
// written through to the backend on a best-effort basis.
type Store struct {
	mu         sync.RWMutex
	tasks      map[string]*types.Task
	mostRecent string

	backend storage.Store
	broker  *events.Broker
	backoff []time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewStore loads every persisted task from backend. A nil backend keeps
// tasks in memory only.
func NewStore(backend storage.Store, broker *events.Broker) (*Store, error) {
	s := &Store{
		tasks:   map[string]*types.Task{},
		backend: backend,
		broker:  broker,
		backoff: saveBackoff,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  log.WithComponent("task"),
	}
	if backend == nil {
		return s, nil
	}

	persisted, err := backend.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	for _, t := range persisted {
		s.tasks[t.ID] = t
	}
	if s.mostRecent, err = backend.MostRecentTask(); err != nil {
		return nil, fmt.Errorf("failed to load most recent task: %w", err)
	}
	return s, nil
}

// AddTask creates a RUNNING task and makes it the most recent one
func (s *Store) AddTask() string {
	s.mu.Lock()
	t := &types.Task{
		ID: uuid.New().String(),
		Result: types.Result{
			Class:  "Result",
			Code:   types.CodeAccepted,
			Status: types.StatusRunning,
		},
		LastUpdate: s.now(),
	}
	s.tasks[t.ID] = t
	s.mostRecent = t.ID
	snapshot := t.DeepCopy()
	s.mu.Unlock()

	s.persist(snapshot, true)
	s.broker.Publish(&events.Event{Type: events.EventTaskCreated, TaskID: t.ID, Status: t.Result.Status, Code: t.Result.Code})
	return t.ID
}

// GetTask returns a copy of the task
func (s *Store) GetTask(id string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.DeepCopy(), nil
}

// ListTasks returns copies of every task, oldest first
func (s *Store) ListTasks() []*types.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.DeepCopy())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastUpdate.Equal(out[j].LastUpdate) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastUpdate.Before(out[j].LastUpdate)
	})
	return out
}

// MostRecentTask returns the last added task, or nil
func (s *Store) MostRecentTask() *types.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[s.mostRecent]
	if !ok {
		return nil
	}
	return t.DeepCopy()
}

// SetDeclaration stores decl with its secrets masked
func (s *Store) SetDeclaration(id string, decl types.Declaration) error {
	masked, _ := MaskSecrets(map[string]any(decl)).(map[string]any)
	return s.update(id, func(t *types.Task) {
		t.Declaration = types.Declaration(masked)
	})
}

// GetDeclaration returns the masked declaration of a task
func (s *Store) GetDeclaration(id string) (types.Declaration, error) {
	t, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	return t.Declaration, nil
}

// SetTarget records which device the task applies to. The password is never stored.
func (s *Store) SetTarget(id string, target types.Target) error {
	target.Password = ""
	return s.update(id, func(t *types.Task) {
		t.Target = target
	})
}

// SetCurrentConfig records the device config after the task's last apply
func (s *Store) SetCurrentConfig(id string, cfg types.Config) error {
	return s.update(id, func(t *types.Task) {
		t.CurrentConfig = cfg.DeepCopy()
	})
}

// SetOriginalConfig records the device config before any declaration was applied
func (s *Store) SetOriginalConfig(id string, cfg types.Config) error {
	return s.update(id, func(t *types.Task) {
		t.OriginalConfig = cfg.DeepCopy()
	})
}

// SetPending stores or, with nil, wipes the encrypted resume request
func (s *Store) SetPending(id string, pending []byte, resumed bool) error {
	return s.update(id, func(t *types.Task) {
		t.Pending = pending
		t.Resumed = resumed
	})
}

// ClearPending wipes the encrypted resume request and leaves Resumed alone
func (s *Store) ClearPending(id string) error {
	return s.update(id, func(t *types.Task) {
		t.Pending = nil
	})
}

// SetErrors replaces the error list of a task
func (s *Store) SetErrors(id string, errs []string) error {
	return s.update(id, func(t *types.Task) {
		t.Result.Errors = append([]string(nil), errs...)
	})
}

// UpdateResult replaces code, status and message, and appends errs to the
// task's error list.
func (s *Store) UpdateResult(id string, code int, status types.TaskStatus, message string, errs ...string) error {
	var prev types.TaskStatus
	err := s.update(id, func(t *types.Task) {
		prev = t.Result.Status
		t.Result.Code = code
		t.Result.Status = status
		t.Result.Message = message
		t.Result.Errors = append(t.Result.Errors, errs...)
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("task_id", id).
		Str("from", string(prev)).
		Str("to", string(status)).
		Int("code", code).
		Msg("Task status changed")
	s.broker.Publish(&events.Event{Type: events.EventTaskStatus, TaskID: id, Status: status, Code: code, Message: message})
	return nil
}

func (s *Store) update(id string, mutate func(t *types.Task)) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	mutate(t)
	t.LastUpdate = s.now()
	snapshot := t.DeepCopy()
	s.mu.Unlock()

	s.persist(snapshot, false)
	return nil
}

// persist writes a task through to the backend. Failures are logged and
// retried with backoff; the in-memory state stays authoritative.
func (s *Store) persist(t *types.Task, mostRecent bool) {
	if s.backend == nil {
		return
	}

	save := func() error {
		if err := s.backend.SaveTask(t); err != nil {
			return err
		}
		if mostRecent {
			return s.backend.SetMostRecentTask(t.ID)
		}
		return nil
	}

	err := save()
	for _, delay := range s.backoff {
		if err == nil {
			return
		}
		s.logger.Warn().Err(err).Str("task_id", t.ID).Dur("retry_in", delay).Msg("Failed to save task state")
		time.Sleep(delay)
		err = save()
	}
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", t.ID).Msg("Giving up saving task state")
	}
}
