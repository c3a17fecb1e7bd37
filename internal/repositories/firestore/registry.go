package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/iterator"

	pfirestore "github.com/craftyard/api/internal/platform/firestore"
	pstorage "github.com/craftyard/api/internal/platform/storage"
	"github.com/craftyard/api/internal/repositories"
)

// RegistryDeps lists the infrastructure a Firestore-backed registry needs.
type RegistryDeps struct {
	Provider    *pfirestore.Provider
	Storage     *pstorage.Client
	AssetBucket string

	// Additional readiness probes merged with the built-in Firestore check.
	HealthChecks []repositories.DependencyCheck
}

// Registry wires every Firestore repository behind the repositories.Registry
// contract so the DI container can hand them to services.
type Registry struct {
	provider *pfirestore.Provider

	orders        *OrderRepository
	timeline      *OrderTimelineRepository
	consultations *ConsultationRepository
	proofs        *ProofRepository
	proofComments *ProofCommentRepository
	configs       *PersonalizationConfigRepository
	submissions   *SubmissionRepository
	snapshots     *SnapshotRepository
	setups        *ReusableSetupRepository
	bookings      *BookingRepository
	assets        *AssetRepository
	catalog       *CatalogRepository
	auditLogs     *AuditLogRepository
	counters      *CounterRepository
	health        repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the full Firestore repository set.
func NewRegistry(deps RegistryDeps) (*Registry, error) {
	if deps.Provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}

	reg := &Registry{provider: deps.Provider}

	var err error
	if reg.orders, err = NewOrderRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.timeline, err = NewOrderTimelineRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.consultations, err = NewConsultationRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.proofs, err = NewProofRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.proofComments, err = NewProofCommentRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.configs, err = NewPersonalizationConfigRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.submissions, err = NewSubmissionRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.snapshots, err = NewSnapshotRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.setups, err = NewReusableSetupRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.bookings, err = NewBookingRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.catalog, err = NewCatalogRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.auditLogs, err = NewAuditLogRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	if reg.counters, err = NewCounterRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	if deps.Storage != nil {
		if reg.assets, err = NewAssetRepository(deps.Provider, deps.Storage, deps.AssetBucket); err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
	}

	checks := make([]repositories.DependencyCheck, 0, len(deps.HealthChecks)+1)
	checks = append(checks, repositories.DependencyCheck{
		Name:  "firestore",
		Check: reg.probeFirestore,
	})
	checks = append(checks, deps.HealthChecks...)
	if reg.health, err = repositories.NewDependencyHealthRepository(checks); err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	return reg, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx executes fn as a sequential unit. Writes that must be atomic open
// their own Firestore transactions inside the repositories (checked order and
// proof status updates, snapshot creation, counter increments, locked
// submission guards), so the registry does not carry one in the context.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return fn(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Timeline() repositories.OrderTimelineRepository     { return r.timeline }
func (r *Registry) Consultations() repositories.ConsultationRepository { return r.consultations }
func (r *Registry) Proofs() repositories.ProofRepository               { return r.proofs }
func (r *Registry) ProofComments() repositories.ProofCommentRepository { return r.proofComments }
func (r *Registry) PersonalizationConfigs() repositories.PersonalizationConfigRepository {
	return r.configs
}
func (r *Registry) Submissions() repositories.SubmissionRepository       { return r.submissions }
func (r *Registry) Snapshots() repositories.SnapshotRepository           { return r.snapshots }
func (r *Registry) ReusableSetups() repositories.ReusableSetupRepository { return r.setups }
func (r *Registry) Bookings() repositories.BookingRepository             { return r.bookings }

// Assets returns nil when the registry was built without a storage client.
func (r *Registry) Assets() repositories.AssetRepository {
	if r.assets == nil {
		return nil
	}
	return r.assets
}

func (r *Registry) Catalog() repositories.CatalogRepository    { return r.catalog }
func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.auditLogs }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }
func (r *Registry) Health() repositories.HealthRepository      { return r.health }

func (r *Registry) probeFirestore(ctx context.Context) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection(countersCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}
