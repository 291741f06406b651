package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/application"
	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/handlers"
	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/infrastructure"
	"github.com/meinzeug/autodevai-orchestrator/shared/circuitbreaker"
	sharedinfra "github.com/meinzeug/autodevai-orchestrator/shared/infrastructure"
	"github.com/meinzeug/autodevai-orchestrator/shared/telemetry"
)

type Dependencies struct {
	// Database
	DB *sqlx.DB

	// Core infrastructure
	EndpointRegistry *infrastructure.InMemoryEndpointRegistry
	LoadBalancer     *infrastructure.LoadBalancer
	Breakers         *circuitbreaker.Manager
	SagaRepository   *infrastructure.PostgresSagaRepository
	EventStore       *sharedinfra.PostgresEventStore

	// Routing
	BridgeRouter *application.BridgeRouter

	// Use Cases
	ExecuteOperation   *application.ExecuteOperation
	SagaOrchestrator   *application.SagaOrchestrator
	GetSaga            *application.GetSaga
	CancelSaga         *application.CancelSaga
	RegisterEndpoint   *application.RegisterEndpoint
	DeregisterEndpoint *application.DeregisterEndpoint
	MarkEndpointHealth *application.MarkEndpointHealth

	// HTTP Handlers
	OrchestratorHandlers *handlers.OrchestratorHandlers

	// Event Handlers
	OrchestratorEventHandlers *handlers.OrchestratorEventHandlers

	// Messaging
	EventPublisher  *sharedinfra.SNSPublisherAdapter
	EventSubscriber *sharedinfra.SQSSubscriberAdapter

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func()

	// Background lifecycle
	cancelBackground context.CancelFunc
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize telemetry first
	if config.Telemetry.Enabled {
		telConfig := telemetry.OrchestratorServiceConfig.WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)
		tel, telemetryShutdown, err := telemetry.Init(ctx, telConfig)
		if err != nil {
			log.Printf("Failed to initialize telemetry: %v", err)
			// Continue without telemetry rather than failing
		} else {
			deps.Telemetry = tel
			deps.TelemetryShutdown = telemetryShutdown
		}
	}

	// Initialize database
	db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	deps.DB = db

	// Initialize AWS infrastructure
	snsPublisher, err := sharedinfra.NewSNSPublisherAdapter(config.AWS.SNSTopicArn)
	if err != nil {
		return nil, fmt.Errorf("failed to create SNS publisher: %w", err)
	}
	deps.EventPublisher = snsPublisher

	eventSubscriber, err := sharedinfra.NewSQSSubscriberAdapter(config.AWS.SQSQueueURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQS subscriber: %w", err)
	}
	deps.EventSubscriber = eventSubscriber

	// Every published event also lands in the Postgres audit log
	deps.EventStore = sharedinfra.NewPostgresEventStore(db)
	eventPublisher := sharedinfra.NewStorePublisher(snsPublisher, deps.EventStore)

	// Core infrastructure
	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	deps.cancelBackground = cancelBackground

	deps.EndpointRegistry = infrastructure.NewInMemoryEndpointRegistry(config.RegistryTTL(), config.RegistryGrace())
	deps.EndpointRegistry.StartSweeper(backgroundCtx, config.RegistrySweepInterval())

	deps.LoadBalancer = infrastructure.NewLoadBalancer(infrastructure.BalancingStrategy(config.Orchestrator.Balancer.Strategy))

	deps.Breakers = circuitbreaker.NewManager(circuitbreaker.Config{
		FailureThreshold: uint32(config.Orchestrator.Breaker.FailureThreshold),
		SuccessThreshold: uint32(config.Orchestrator.Breaker.SuccessThreshold),
		RecoveryTimeout:  time.Duration(config.Orchestrator.Breaker.RecoverySeconds) * time.Second,
		CallTimeout:      time.Duration(config.Orchestrator.Breaker.CallTimeoutSeconds) * time.Second,
	}, domain.CountsForBreaker)
	deps.Breakers.RegisterStateChangeListener(application.NewBreakerEventPublisher(eventPublisher))

	// Bridges
	deps.BridgeRouter = application.NewBridgeRouter()
	if err := registerBridges(ctx, deps.BridgeRouter, &config.Orchestrator.Bridges); err != nil {
		return nil, fmt.Errorf("failed to register bridges: %w", err)
	}

	// Repositories
	deps.SagaRepository = infrastructure.NewPostgresSagaRepository(db)

	// Initialize use cases
	deps.ExecuteOperation = application.NewExecuteOperation(
		deps.BridgeRouter,
		deps.EndpointRegistry,
		deps.LoadBalancer,
		deps.Breakers,
		eventPublisher,
	)
	deps.SagaOrchestrator = application.NewSagaOrchestrator(
		deps.SagaRepository,
		deps.BridgeRouter,
		deps.ExecuteOperation,
		eventPublisher,
	)
	deps.GetSaga = application.NewGetSaga(deps.SagaRepository)
	deps.CancelSaga = application.NewCancelSaga(deps.SagaRepository, eventPublisher)
	deps.RegisterEndpoint = application.NewRegisterEndpoint(deps.EndpointRegistry, eventPublisher)
	deps.DeregisterEndpoint = application.NewDeregisterEndpoint(deps.EndpointRegistry, eventPublisher)
	deps.MarkEndpointHealth = application.NewMarkEndpointHealth(deps.EndpointRegistry, eventPublisher)

	// Initialize handlers
	deps.OrchestratorHandlers = handlers.NewOrchestratorHandlers(
		deps.ExecuteOperation,
		deps.SagaOrchestrator,
		deps.GetSaga,
		deps.CancelSaga,
		deps.RegisterEndpoint,
		deps.DeregisterEndpoint,
		deps.MarkEndpointHealth,
	)
	deps.OrchestratorEventHandlers = handlers.NewOrchestratorEventHandlers(
		application.NewEndpointProbeHandler(deps.MarkEndpointHealth),
		application.NewEndpointProvisionedHandler(deps.RegisterEndpoint),
	)

	return deps, nil
}

// registerBridges builds and initializes the configured bridges
func registerBridges(ctx context.Context, router *application.BridgeRouter, cfg *Bridges) error {
	if cfg.ClaudeFlow.Enabled {
		bridge := infrastructure.NewClaudeFlowBridge()
		if err := bridge.Initialize(ctx, domain.BridgeConfig{
			ServiceType: domain.ServiceTypeClaudeFlow,
			Settings:    cfg.ClaudeFlow.Settings,
		}); err != nil {
			return err
		}
		if err := router.Register(domain.ServiceTypeClaudeFlow, bridge); err != nil {
			return err
		}
	}

	if cfg.Codex.Enabled {
		bridge := infrastructure.NewCodexBridge()
		if err := bridge.Initialize(ctx, domain.BridgeConfig{
			ServiceType: domain.ServiceTypeCodex,
			Settings:    cfg.Codex.Settings,
		}); err != nil {
			return err
		}
		if err := router.Register(domain.ServiceTypeCodex, bridge); err != nil {
			return err
		}
	}

	for _, plugin := range cfg.Plugins {
		serviceType := domain.ServiceType(plugin.ServiceType)
		capabilities := make([]domain.OperationType, len(plugin.Capabilities))
		for i, capability := range plugin.Capabilities {
			capabilities[i] = domain.OperationType(capability)
		}

		bridge, err := infrastructure.NewPluginBridge(serviceType, capabilities, plugin.OperationsPath)
		if err != nil {
			return err
		}
		if err := bridge.Initialize(ctx, domain.BridgeConfig{
			ServiceType: serviceType,
			Settings:    plugin.Settings,
		}); err != nil {
			return err
		}
		if err := router.Register(serviceType, bridge); err != nil {
			return err
		}
	}

	return nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.cancelBackground != nil {
		d.cancelBackground()
	}

	if d.BridgeRouter != nil {
		if err := d.BridgeRouter.Shutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown bridges: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.EventPublisher != nil {
		if err := d.EventPublisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event publisher: %w", err))
		}
	}

	if d.EventSubscriber != nil {
		if err := d.EventSubscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event subscriber: %w", err))
		}
	}

	if d.TelemetryShutdown != nil {
		d.TelemetryShutdown()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
