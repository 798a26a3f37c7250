package signal

import (
	"fmt"
	"sync"
)

// Factory builds a detector with its default configuration
type Factory func() Detector

var (
	registry     = make(map[string]Factory)
	order        []string
	registryLock sync.RWMutex
)

// Register adds a detector factory. Re-registering a name replaces the
// factory but keeps its original position.
func Register(name string, factory Factory) {
	registryLock.Lock()
	defer registryLock.Unlock()
	if _, ok := registry[name]; !ok {
		order = append(order, name)
	}
	registry[name] = factory
}

// Get builds a registered detector
func Get(name string) (Detector, error) {
	registryLock.RLock()
	factory, ok := registry[name]
	registryLock.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown detector: %s (available: %v)", name, List())
	}
	return factory(), nil
}

// List returns registered names in registration order
func List() []string {
	registryLock.RLock()
	defer registryLock.RUnlock()
	return append([]string(nil), order...)
}

// All builds every registered detector in registration order
func All() []Detector {
	names := List()
	detectors := make([]Detector, 0, len(names))
	for _, name := range names {
		if d, err := Get(name); err == nil {
			detectors = append(detectors, d)
		}
	}
	return detectors
}

func init() {
	Register(LiquiditySweepName, func() Detector { return NewLiquiditySweep(DefaultLiquiditySweepConfig()) })
	Register(WyckoffSpringName, func() Detector { return NewWyckoffSpring(DefaultWyckoffConfig()) })
	Register(MomentumVelocityName, func() Detector { return NewMomentumVelocity(DefaultVelocityConfig()) })
}
