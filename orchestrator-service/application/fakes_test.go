package application

import (
	"context"
	"sync"

	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/shared/events"
	"github.com/meinzeug/autodevai-orchestrator/shared/models"
	"github.com/pkg/errors"
)

// fakeBridge is a scriptable Bridge for dispatch tests
type fakeBridge struct {
	mu           sync.Mutex
	capabilities []domain.OperationType
	executeFn    func(ctx context.Context, op *domain.Operation, endpoint domain.ServiceEndpoint) (*domain.OperationResult, error)
	calls        int
	shutdownErr  error
}

func newFakeBridge(capabilities ...domain.OperationType) *fakeBridge {
	return &fakeBridge{capabilities: capabilities}
}

func (b *fakeBridge) Initialize(ctx context.Context, config domain.BridgeConfig) error {
	return nil
}

func (b *fakeBridge) Execute(ctx context.Context, op *domain.Operation, endpoint domain.ServiceEndpoint) (*domain.OperationResult, error) {
	b.mu.Lock()
	b.calls++
	fn := b.executeFn
	b.mu.Unlock()

	if fn != nil {
		return fn(ctx, op, endpoint)
	}
	return domain.NewSuccessResult(op.ID, map[string]interface{}{"ok": true}, 0), nil
}

func (b *fakeBridge) HealthCheck(ctx context.Context, endpoint domain.ServiceEndpoint) (domain.HealthStatus, error) {
	return domain.HealthStatusHealthy, nil
}

func (b *fakeBridge) Capabilities() []domain.OperationType {
	return b.capabilities
}

func (b *fakeBridge) Shutdown(ctx context.Context) error {
	return b.shutdownErr
}

func (b *fakeBridge) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// capturingPublisher records every published event
type capturingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *capturingPublisher) Publish(ctx context.Context, toPublish ...*events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, toPublish...)
	return nil
}

func (p *capturingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]string, len(p.events))
	for i, event := range p.events {
		types[i] = event.EventType
	}
	return types
}

func (p *capturingPublisher) countOf(eventType string) int {
	count := 0
	for _, recorded := range p.eventTypes() {
		if recorded == eventType {
			count++
		}
	}
	return count
}

// failingSagaRepository returns a fixed error from every method
type failingSagaRepository struct {
	err error
}

func (r *failingSagaRepository) Save(ctx context.Context, saga *domain.Saga) error {
	return r.err
}

func (r *failingSagaRepository) FindByID(ctx context.Context, id models.ID) (*domain.Saga, error) {
	return nil, r.err
}

func (r *failingSagaRepository) FindByStatus(ctx context.Context, status domain.SagaStatus) ([]*domain.Saga, error) {
	return nil, r.err
}

// conflictingSagaRepository rejects the first n saves the way an
// optimistic-lock conflict does, then delegates
type conflictingSagaRepository struct {
	domain.SagaRepository
	mu        sync.Mutex
	conflicts int
}

func (r *conflictingSagaRepository) Save(ctx context.Context, saga *domain.Saga) error {
	r.mu.Lock()
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return errors.Errorf("saga %s was modified concurrently", saga.ID)
	}
	r.mu.Unlock()
	return r.SagaRepository.Save(ctx, saga)
}

// fakeDispatcher is a scriptable OperationDispatcher for saga tests
type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []domain.OperationType
	respond    func(op *domain.Operation) (*domain.OperationResult, error)
	onDispatch func(op *domain.Operation)
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, op *domain.Operation) (*domain.OperationResult, error) {
	d.mu.Lock()
	d.dispatched = append(d.dispatched, op.Type)
	onDispatch := d.onDispatch
	respond := d.respond
	d.mu.Unlock()

	if onDispatch != nil {
		onDispatch(op)
	}
	if respond != nil {
		return respond(op)
	}
	return domain.NewSuccessResult(op.ID, nil, 0), nil
}

func (d *fakeDispatcher) dispatchedTypes() []domain.OperationType {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.OperationType(nil), d.dispatched...)
}

func (d *fakeDispatcher) countOf(opType domain.OperationType) int {
	count := 0
	for _, dispatched := range d.dispatchedTypes() {
		if dispatched == opType {
			count++
		}
	}
	return count
}
