package selector

import (
	"fmt"

	"github.com/ahrav/go-invoker/internal/llm/catalog"
	"github.com/ahrav/go-invoker/internal/llm/configuration"
)

// Candidate is an eligible binding together with the live signals the
// strategies rank on.
type Candidate struct {
	Binding catalog.VendorBinding
	// Index is the binding's position in catalog order; it breaks ties.
	Index int
	// SuccessRate is the registry's recorded rate, or the catalog rate when
	// the vendor has no record yet.
	SuccessRate float64
	// Utilization is in-flight calls divided by ConcurrentLimit; zero when
	// the binding has no limit.
	Utilization float64
}

// Strategy orders candidates. Less reports whether a is strictly preferred
// over b; equal candidates fall back to catalog order.
type Strategy interface {
	Name() configuration.Strategy
	Less(a, b Candidate) bool
}

// PriorityFirst prefers the lowest Priority value.
type PriorityFirst struct{}

func (PriorityFirst) Name() configuration.Strategy { return configuration.StrategyPriorityFirst }

func (PriorityFirst) Less(a, b Candidate) bool { return a.Binding.Priority < b.Binding.Priority }

// LoadBalancing prefers the least utilized binding.
type LoadBalancing struct{}

func (LoadBalancing) Name() configuration.Strategy { return configuration.StrategyLoadBalancing }

func (LoadBalancing) Less(a, b Candidate) bool { return a.Utilization < b.Utilization }

// FailOver prefers the highest success rate.
type FailOver struct{}

func (FailOver) Name() configuration.Strategy { return configuration.StrategyFailOver }

func (FailOver) Less(a, b Candidate) bool { return a.SuccessRate > b.SuccessRate }

// CostOptimal prefers the cheapest input plus output cost.
type CostOptimal struct{}

func (CostOptimal) Name() configuration.Strategy { return configuration.StrategyCostOptimal }

func (CostOptimal) Less(a, b Candidate) bool { return a.Binding.TotalCost() < b.Binding.TotalCost() }

// ParseStrategy resolves a configured strategy name.
func ParseStrategy(name configuration.Strategy) (Strategy, error) {
	switch name {
	case configuration.StrategyPriorityFirst, "":
		return PriorityFirst{}, nil
	case configuration.StrategyLoadBalancing:
		return LoadBalancing{}, nil
	case configuration.StrategyFailOver:
		return FailOver{}, nil
	case configuration.StrategyCostOptimal:
		return CostOptimal{}, nil
	default:
		return nil, fmt.Errorf("unknown selection strategy %q", name)
	}
}
