package head

import (
	"github.com/G-Research/minionfleet/internal/common/fleeterrors"
	"github.com/G-Research/minionfleet/internal/directive"
)

// resolveAssignments distributes the DAGs of scenario over the factories supporting it. Every supporting factory
// gets the DAGs under load and shares their minions, so the population is split evenly as upper bounds and a
// factory left with an empty share is not assigned. The other
// DAGs run once per campaign and go to the first factory in node order.
func resolveAssignments(scenario string, minionsCount int, factories []*RegisteredFactory) (map[string]directive.FactoryScenarioAssignment, []directive.DAGDescriptor, error) {
	var supporting []*RegisteredFactory
	var dags []directive.DAGDescriptor
	for _, factory := range factories {
		descriptor, ok := factory.Supports(scenario)
		if !ok {
			continue
		}
		if dags == nil {
			dags = descriptor.DAGs
		}
		supporting = append(supporting, factory)
	}
	if len(supporting) == 0 {
		return nil, nil, &fleeterrors.ErrNotFound{Type: "scenario", Value: scenario, Message: "no healthy factory supports it"}
	}

	loaded := make([]*RegisteredFactory, 0, len(supporting))
	for _, factory := range supporting {
		if supportsDAGs(factory, scenario, dags) {
			loaded = append(loaded, factory)
		}
	}
	if len(loaded) == 0 {
		return nil, nil, &fleeterrors.ErrNotFound{Type: "scenario", Value: scenario, Message: "factories disagree on its DAGs"}
	}

	assignments := map[string]directive.FactoryScenarioAssignment{}
	for i, factory := range loaded {
		count := share(minionsCount, len(loaded), i)
		if count == 0 && i > 0 {
			continue
		}
		assignment := directive.FactoryScenarioAssignment{MaxMinionsCount: count}
		for _, dag := range dags {
			if dag.IsUnderLoad && !dag.IsSingleton {
				assignment.DAGs = append(assignment.DAGs, dag.Name)
			} else if i == 0 {
				assignment.DAGs = append(assignment.DAGs, dag.Name)
			}
		}
		if len(assignment.DAGs) == 0 {
			continue
		}
		assignments[factory.NodeID] = assignment
	}
	return assignments, dags, nil
}

// share splits total in parts, the first ones taking the remainder.
func share(total, parts, index int) int {
	count := total / parts
	if index < total%parts {
		count++
	}
	return count
}

func supportsDAGs(factory *RegisteredFactory, scenario string, dags []directive.DAGDescriptor) bool {
	descriptor, ok := factory.Supports(scenario)
	if !ok {
		return false
	}
	for _, dag := range dags {
		found := false
		for _, supported := range descriptor.DAGs {
			if supported.Name == dag.Name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
