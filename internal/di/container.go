package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/craftyard/api/internal/platform/config"
	"github.com/craftyard/api/internal/repositories"
	"github.com/craftyard/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders          services.OrderService
	Proofs          services.ProofService
	Consultations   services.ConsultationService
	Personalization services.PersonalizationService
	Snapshots       services.SnapshotService
	Assets          services.AssetService
	System          services.SystemService
	Audit           services.AuditLogService
	Counters        services.CounterService
}

// EventPublishers groups the per-domain event sinks. Fields left nil disable
// publishing for that domain; services treat events as fire-and-forget.
type EventPublishers struct {
	Orders        services.OrderEventPublisher
	Proofs        services.ProofEventPublisher
	Consultations services.ConsultationEventPublisher
	Snapshots     services.SnapshotEventPublisher
}

// Deps collects the infrastructure the container wires into services.
type Deps struct {
	Config   config.Config
	Registry repositories.Registry
	Escrow   services.EscrowGateway
	Freezer  services.SnapshotImageFreezer
	Events   EventPublishers
	Build    services.BuildInfo
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, deps Deps) (Services, error) {
	var svc Services
	reg := deps.Registry

	if auditRepo := reg.AuditLogs(); auditRepo != nil {
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: auditRepo,
			Clock:      time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	if counterRepo := reg.Counters(); counterRepo != nil {
		counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
			Repository: counterRepo,
			Clock:      time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build counter service: %w", err)
		}
		svc.Counters = counterSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            deps.Build,
			Audit:            svc.Audit,
			Counters:         svc.Counters,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	if assetRepo := reg.Assets(); assetRepo != nil {
		assetSvc, err := services.NewAssetService(services.AssetServiceDeps{
			Repository: assetRepo,
			Clock:      time.Now,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build asset service: %w", err)
		}
		svc.Assets = assetSvc
	}

	configRepo := reg.PersonalizationConfigs()
	submissionRepo := reg.Submissions()
	if configRepo != nil && submissionRepo != nil {
		personalizationSvc, err := services.NewPersonalizationService(services.PersonalizationServiceDeps{
			Configs:     configRepo,
			Submissions: submissionRepo,
			Clock:       time.Now,
			Logger:      deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build personalization service: %w", err)
		}
		svc.Personalization = personalizationSvc
	}

	ordersRepo := reg.Orders()
	if snapshotRepo := reg.Snapshots(); snapshotRepo != nil && submissionRepo != nil && configRepo != nil && ordersRepo != nil {
		snapshotSvc, err := services.NewSnapshotService(services.SnapshotServiceDeps{
			Snapshots:   snapshotRepo,
			Submissions: submissionRepo,
			Configs:     configRepo,
			Setups:      reg.ReusableSetups(),
			Orders:      ordersRepo,
			UnitOfWork:  reg,
			Freezer:     deps.Freezer,
			Clock:       time.Now,
			Events:      deps.Events.Snapshots,
			Logger:      deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build snapshot service: %w", err)
		}
		svc.Snapshots = snapshotSvc
	}

	if ordersRepo != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:            ordersRepo,
			Timeline:          reg.Timeline(),
			Bookings:          reg.Bookings(),
			Counters:          reg.Counters(),
			Catalog:           reg.Catalog(),
			Escrow:            deps.Escrow,
			Personalization:   svc.Snapshots,
			UnitOfWork:        reg,
			OrderNumberPrefix: deps.Config.Pipeline.OrderNumberPrefix,
			Clock:             time.Now,
			Events:            deps.Events.Orders,
			Logger:            deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if proofRepo := reg.Proofs(); proofRepo != nil && svc.Orders != nil {
		proofSvc, err := services.NewProofService(services.ProofServiceDeps{
			Proofs:     proofRepo,
			Comments:   reg.ProofComments(),
			Orders:     svc.Orders,
			UnitOfWork: reg,
			Clock:      time.Now,
			Events:     deps.Events.Proofs,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build proof service: %w", err)
		}
		svc.Proofs = proofSvc
	}

	if sessionRepo := reg.Consultations(); sessionRepo != nil && svc.Orders != nil {
		consultationSvc, err := services.NewConsultationService(services.ConsultationServiceDeps{
			Sessions:   sessionRepo,
			Orders:     svc.Orders,
			UnitOfWork: reg,
			Clock:      time.Now,
			Events:     deps.Events.Consultations,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build consultation service: %w", err)
		}
		svc.Consultations = consultationSvc
	}

	return svc, nil
}
