package domain

import (
	"context"
	"time"

	"github.com/meinzeug/autodevai-orchestrator/shared/events"
	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/pkg/errors"
)

// SagaStatus represents the status of a saga
type SagaStatus string

const (
	SagaStatusPending      SagaStatus = "pending"
	SagaStatusRunning      SagaStatus = "running"
	SagaStatusCompensating SagaStatus = "compensating"
	SagaStatusCompleted    SagaStatus = "completed"
	SagaStatusFailed       SagaStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible
func (s SagaStatus) IsTerminal() bool {
	return s == SagaStatusCompleted || s == SagaStatusFailed
}

// RetryPolicy bounds retries of a single saga step. Retries are local to
// the step and never re-run prior steps.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	Backoff     time.Duration `json:"backoff"`
}

// DefaultRetryPolicy is applied to steps that do not set one
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Backoff: 0}
}

// SagaStep is one forward operation in a saga
type SagaStep struct {
	ID          string        `json:"id"`
	ServiceType ServiceType   `json:"service_type"`
	Operation   *Operation    `json:"operation"`
	Timeout     time.Duration `json:"timeout"`
	Retry       RetryPolicy   `json:"retry_policy"`
}

// CompensationStep undoes one forward step. Compensations must be
// idempotent; a nil compensation means the step has no undo.
type CompensationStep struct {
	StepID    string     `json:"step_id"`
	Operation *Operation `json:"operation"`
}

// Saga aggregate root. Mutated only by the saga orchestrator; persisted
// after every step transition.
type Saga struct {
	ID                 models.ID
	Steps              []SagaStep
	Compensations      []*CompensationStep
	CurrentStep        int
	Status             SagaStatus
	Context            map[string]*OperationResult
	CancelRequested    bool
	Error              string
	CompensationErrors []string
	Timestamps         models.Timestamps
	Version            models.Version

	// baseVersion is the version the saga was loaded at. Mutations
	// between a load and the next save advance Version exactly once,
	// which is the step the repositories' optimistic locking expects.
	baseVersion int

	events []*events.Event
}

// NewSaga builds a pending saga from an ordered step list and the
// index-aligned compensation list.
func NewSaga(steps []SagaStep, compensations []*CompensationStep) (*Saga, error) {
	if len(steps) == 0 {
		return nil, errors.New("saga requires at least one step")
	}
	if compensations != nil && len(compensations) != len(steps) {
		return nil, errors.New("compensations must be index-aligned with steps")
	}
	if compensations == nil {
		compensations = make([]*CompensationStep, len(steps))
	}

	seen := make(map[string]struct{}, len(steps))
	for i := range steps {
		if steps[i].ID == "" {
			return nil, errors.Errorf("step %d has no ID", i)
		}
		if _, dup := seen[steps[i].ID]; dup {
			return nil, errors.Errorf("duplicate step ID %q", steps[i].ID)
		}
		seen[steps[i].ID] = struct{}{}
		if steps[i].Operation == nil {
			return nil, errors.Errorf("step %q has no operation", steps[i].ID)
		}
		if steps[i].Retry.MaxAttempts <= 0 {
			steps[i].Retry = DefaultRetryPolicy()
		}
	}

	saga := &Saga{
		ID:            models.GenerateUUID(),
		Steps:         steps,
		Compensations: compensations,
		CurrentStep:   0,
		Status:        SagaStatusPending,
		Context:       make(map[string]*OperationResult),
		Timestamps:    models.NewTimestamps(),
		Version:       models.NewVersion(),
	}
	saga.MarkLoaded()
	return saga, nil
}

// MarkLoaded anchors the version after the saga is read from storage.
// Repositories call it on every load.
func (s *Saga) MarkLoaded() {
	s.baseVersion = s.Version.Value
}

// Start transitions the saga to running
func (s *Saga) Start() error {
	if s.Status != SagaStatusPending {
		return errors.New("saga can only start from pending status")
	}

	s.Status = SagaStatusRunning
	s.touch()

	s.recordEvent(events.NewEvent(s.ID, events.SagaStartedEvent, SagaStartedData{
		SagaID: s.ID,
		Steps:  len(s.Steps),
	}))
	return nil
}

// Checkpoint moves the step cursor forward. The cursor never decreases
// while the saga is running.
func (s *Saga) Checkpoint(stepIndex int) error {
	if s.Status != SagaStatusRunning {
		return errors.New("checkpoint requires a running saga")
	}
	if stepIndex < s.CurrentStep {
		return errors.Errorf("step cursor cannot move backwards (%d < %d)", stepIndex, s.CurrentStep)
	}
	if stepIndex >= len(s.Steps) {
		return errors.Errorf("step index %d out of range", stepIndex)
	}

	s.CurrentStep = stepIndex
	s.touch()
	return nil
}

// RecordStepResult stores a successful step result into the accumulated
// context, keyed by step ID.
func (s *Saga) RecordStepResult(stepIndex int, result *OperationResult) error {
	if s.Status != SagaStatusRunning {
		return errors.New("step results require a running saga")
	}
	if stepIndex != s.CurrentStep {
		return errors.Errorf("result for step %d but cursor is at %d", stepIndex, s.CurrentStep)
	}

	step := s.Steps[stepIndex]
	s.Context[step.ID] = result
	s.touch()

	s.recordEvent(events.NewEvent(s.ID, events.SagaStepCompletedEvent, SagaStepCompletedData{
		SagaID:      s.ID,
		StepID:      step.ID,
		StepIndex:   stepIndex,
		ServiceType: step.ServiceType,
	}))
	return nil
}

// BeginCompensating transitions to compensating after a step failed with
// retries exhausted. This is the one transition allowed to precede a
// decreasing walk over prior steps.
func (s *Saga) BeginCompensating(cause error) error {
	if s.Status != SagaStatusRunning {
		return errors.New("only a running saga can compensate")
	}

	s.Status = SagaStatusCompensating
	s.Error = cause.Error()
	s.touch()

	s.recordEvent(events.NewEvent(s.ID, events.SagaCompensatingEvent, SagaCompensatingData{
		SagaID:     s.ID,
		FailedStep: s.CurrentStep,
		Reason:     cause.Error(),
	}))
	return nil
}

// RequestCancellation flags the saga for cancellation. The orchestrator
// honors the flag between steps and between retries; it never interrupts
// a step already in flight. Terminal sagas cannot be canceled.
func (s *Saga) RequestCancellation() error {
	if s.Status.IsTerminal() {
		return errors.Errorf("saga is already %s", s.Status)
	}
	if s.CancelRequested {
		return nil
	}

	s.CancelRequested = true
	s.touch()

	s.recordEvent(events.NewEvent(s.ID, events.SagaCancellationRequestedEvent, SagaCancellationRequestedData{
		SagaID: s.ID,
		AtStep: s.CurrentStep,
	}))
	return nil
}

// RecordCompensationFailure logs a failed compensation on the saga record
// for manual follow-up. It never blocks remaining compensations.
func (s *Saga) RecordCompensationFailure(stepID string, err error) {
	s.CompensationErrors = append(s.CompensationErrors, errors.Wrapf(err, "step %s", stepID).Error())
	s.touch()

	s.recordEvent(events.NewEvent(s.ID, events.SagaCompensationFailedEvent, SagaCompensationFailedData{
		SagaID: s.ID,
		StepID: stepID,
		Reason: err.Error(),
	}))
}

// Complete marks a fully successful saga
func (s *Saga) Complete() error {
	if s.Status != SagaStatusRunning {
		return errors.New("saga can only complete from running status")
	}

	s.Status = SagaStatusCompleted
	s.touch()

	s.recordEvent(events.NewEvent(s.ID, events.SagaCompletedEvent, SagaCompletedData{
		SagaID: s.ID,
		Steps:  len(s.Steps),
	}))
	return nil
}

// Fail terminates the saga after compensation has run
func (s *Saga) Fail() error {
	if s.Status != SagaStatusCompensating {
		return errors.New("saga can only fail from compensating status")
	}

	s.Status = SagaStatusFailed
	s.touch()

	s.recordEvent(events.NewEvent(s.ID, events.SagaFailedEvent, SagaFailedData{
		SagaID:             s.ID,
		FailedStep:         s.CurrentStep,
		Reason:             s.Error,
		CompensationErrors: s.CompensationErrors,
	}))
	return nil
}

// Events returns recorded domain events
func (s *Saga) Events() []*events.Event {
	return s.events
}

// ClearEvents clears recorded domain events
func (s *Saga) ClearEvents() {
	s.events = make([]*events.Event, 0)
}

func (s *Saga) recordEvent(event *events.Event) {
	s.events = append(s.events, event)
}

func (s *Saga) touch() {
	s.Timestamps = s.Timestamps.Update()
	if s.Version.Value == s.baseVersion {
		s.Version = s.Version.Update()
	}
}

// SagaRepository persists saga records durably after every checkpoint
type SagaRepository interface {
	Save(ctx context.Context, saga *Saga) error
	FindByID(ctx context.Context, id models.ID) (*Saga, error)
	FindByStatus(ctx context.Context, status SagaStatus) ([]*Saga, error)
}

// Saga event payloads

type SagaStartedData struct {
	SagaID models.ID `json:"saga_id"`
	Steps  int       `json:"steps"`
}

type SagaStepCompletedData struct {
	SagaID      models.ID   `json:"saga_id"`
	StepID      string      `json:"step_id"`
	StepIndex   int         `json:"step_index"`
	ServiceType ServiceType `json:"service_type"`
}

type SagaCancellationRequestedData struct {
	SagaID models.ID `json:"saga_id"`
	AtStep int       `json:"at_step"`
}

type SagaCompensatingData struct {
	SagaID     models.ID `json:"saga_id"`
	FailedStep int       `json:"failed_step"`
	Reason     string    `json:"reason"`
}

type SagaCompensationFailedData struct {
	SagaID models.ID `json:"saga_id"`
	StepID string    `json:"step_id"`
	Reason string    `json:"reason"`
}

type SagaCompletedData struct {
	SagaID models.ID `json:"saga_id"`
	Steps  int       `json:"steps"`
}

type SagaFailedData struct {
	SagaID             models.ID `json:"saga_id"`
	FailedStep         int       `json:"failed_step"`
	Reason             string    `json:"reason"`
	CompensationErrors []string  `json:"compensation_errors,omitempty"`
}
