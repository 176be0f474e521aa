package head

import (
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/G-Research/minionfleet/internal/directive"
)

const (
	factoriesTable = "factories"
	nodeIndex      = "id"
)

// RegisteredFactory is a factory the head heard from, with the scenarios it can run.
type RegisteredFactory struct {
	NodeID    string
	Scenarios []directive.ScenarioDescriptor
	LastSeen  time.Time
}

// Supports returns the descriptor of scenario if the factory can run it.
func (f *RegisteredFactory) Supports(scenario string) (directive.ScenarioDescriptor, bool) {
	for _, descriptor := range f.Scenarios {
		if descriptor.Name == scenario {
			return descriptor, true
		}
	}
	return directive.ScenarioDescriptor{}, false
}

// FactoryRegistry tracks the factories from their registration feedbacks. A factory that did not send any for longer
// than the heartbeat timeout is considered lost.
type FactoryRegistry struct {
	db    *memdb.MemDB
	clock clock.Clock
}

func NewFactoryRegistry(clock clock.Clock) (*FactoryRegistry, error) {
	db, err := memdb.NewMemDB(factoryRegistrySchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &FactoryRegistry{db: db, clock: clock}, nil
}

// Register records or refreshes a factory. It returns true if the factory was not known yet.
func (r *FactoryRegistry) Register(registration directive.FactoryRegistration) (bool, error) {
	if registration.NodeID == "" {
		return false, errors.New("registration without node id")
	}
	txn := r.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(factoriesTable, nodeIndex, registration.NodeID)
	if err != nil {
		return false, errors.WithStack(err)
	}
	factory := &RegisteredFactory{
		NodeID:    registration.NodeID,
		Scenarios: append([]directive.ScenarioDescriptor(nil), registration.Scenarios...),
		LastSeen:  r.clock.Now(),
	}
	if err := txn.Insert(factoriesTable, factory); err != nil {
		return false, errors.WithStack(err)
	}
	txn.Commit()
	return existing == nil, nil
}

// Healthy returns the registered factories sorted by node id.
func (r *FactoryRegistry) Healthy() ([]*RegisteredFactory, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(factoriesTable, nodeIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	result := make([]*RegisteredFactory, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		result = append(result, obj.(*RegisteredFactory))
	}
	return result, nil
}

// Supporting returns the factories able to run scenario, sorted by node id.
func (r *FactoryRegistry) Supporting(scenario string) ([]*RegisteredFactory, error) {
	all, err := r.Healthy()
	if err != nil {
		return nil, err
	}
	supporting := make([]*RegisteredFactory, 0, len(all))
	for _, factory := range all {
		if _, ok := factory.Supports(scenario); ok {
			supporting = append(supporting, factory)
		}
	}
	return supporting, nil
}

// Descriptor returns the description of scenario as announced by the first factory supporting it.
func (r *FactoryRegistry) Descriptor(scenario string) (directive.ScenarioDescriptor, bool, error) {
	supporting, err := r.Supporting(scenario)
	if err != nil || len(supporting) == 0 {
		return directive.ScenarioDescriptor{}, false, err
	}
	descriptor, _ := supporting[0].Supports(scenario)
	return descriptor, true, nil
}

// Expire forgets the factories not seen since timeout and returns their node ids.
func (r *FactoryRegistry) Expire(timeout time.Duration) ([]string, error) {
	deadline := r.clock.Now().Add(-timeout)
	txn := r.db.Txn(true)
	defer txn.Abort()
	iter, err := txn.Get(factoriesTable, nodeIndex)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var expired []*RegisteredFactory
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		factory := obj.(*RegisteredFactory)
		if factory.LastSeen.Before(deadline) {
			expired = append(expired, factory)
		}
	}
	nodes := make([]string, 0, len(expired))
	for _, factory := range expired {
		if err := txn.Delete(factoriesTable, factory); err != nil {
			return nil, errors.WithStack(err)
		}
		nodes = append(nodes, factory.NodeID)
	}
	txn.Commit()
	return nodes, nil
}

func factoryRegistrySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			factoriesTable: {
				Name: factoriesTable,
				Indexes: map[string]*memdb.IndexSchema{
					nodeIndex: {
						Name:    nodeIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "NodeID"},
					},
				},
			},
		},
	}
}
