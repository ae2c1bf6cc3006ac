package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoDriver is returned by Select when no registered Factory reported
// compatible.
var ErrNoDriver = errors.New("driver: no compatible driver found")

// Registry holds every Factory the daemon knows how to bind to, and picks
// exactly one at startup (§4.G).
type Registry struct {
	factories []Factory
}

// NewRegistry builds a Registry over the given factories. fpauthd ships
// exactly one (cros_fp), but the registry itself places no limit on how
// many can be registered.
func NewRegistry(factories ...Factory) *Registry {
	return &Registry{factories: factories}
}

type compatResult struct {
	factory Factory
	ok      bool
	err     error
}

// Select calls IsCompatible on every registered factory concurrently and
// returns the single compatible one. Zero compatible factories is ErrNoDriver;
// more than one is an AmbiguousDriversError naming every match.
func (r *Registry) Select(ctx context.Context) (Driver, Factory, error) {
	if len(r.factories) == 0 {
		return nil, nil, ErrNoDriver
	}

	results := make([]compatResult, len(r.factories))
	var wg sync.WaitGroup
	for i, f := range r.factories {
		wg.Add(1)
		go func(i int, f Factory) {
			defer wg.Done()
			ok, err := f.IsCompatible(ctx)
			results[i] = compatResult{factory: f, ok: ok, err: err}
		}(i, f)
	}
	wg.Wait()

	var compatible []Factory
	for _, res := range results {
		if res.err != nil {
			return nil, nil, fmt.Errorf("driver: is_compatible(%s): %w", res.factory.Name(), res.err)
		}
		if res.ok {
			compatible = append(compatible, res.factory)
		}
	}

	switch len(compatible) {
	case 0:
		return nil, nil, ErrNoDriver
	case 1:
		drv, err := compatible[0].OpenAndInit(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("driver: open_and_init(%s): %w", compatible[0].Name(), err)
		}
		return drv, compatible[0], nil
	default:
		return nil, nil, &AmbiguousDriversError{Names: factoryNames(compatible)}
	}
}

// AmbiguousDriversError reports that more than one factory claimed
// compatibility; §9's "one compatible sensor is selected at startup"
// invariant cannot be satisfied without operator intervention.
type AmbiguousDriversError struct {
	Names []string
}

func (e *AmbiguousDriversError) Error() string {
	return fmt.Sprintf("driver: ambiguous drivers: %v", e.Names)
}

func factoryNames(factories []Factory) []string {
	names := make([]string, len(factories))
	for i, f := range factories {
		names[i] = f.Name()
	}
	return names
}
