package xsec

import (
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
)

// Options carries backend acquisition parameters.
type Options struct {
	// AlgorithmProviders names the native implementation to open for each
	// key family. A missing entry selects the backend default.
	AlgorithmProviders map[KeyType]string

	Logger logr.Logger

	// Registerer receives the backend's collectors when non-nil.
	Registerer prometheus.Registerer
}

// Factory constructs a backend provider.
type Factory func(opts Options) (Provider, error)

var (
	mu         sync.Mutex
	factories  = map[string]Factory{}
	active     Provider
	activeName string
)

// Register makes a backend available under name. It panics on a duplicate
// or nil factory, as database/sql does for drivers.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if f == nil {
		panic("xsec: Register factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic("xsec: Register called twice for backend " + name)
	}
	factories[name] = f
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Initialize creates the process-wide provider. A repeated call for the same
// backend returns the existing provider and ignores opts; a call for another
// backend fails with KindAlreadyInitialized until Shutdown.
func Initialize(name string, opts Options) (Provider, error) {
	const op = "xsec.Initialize"
	mu.Lock()
	defer mu.Unlock()
	if active != nil {
		if name == activeName {
			return active, nil
		}
		return nil, Ef(KindAlreadyInitialized, op, "backend %q is active, requested %q", activeName, name)
	}
	f, ok := factories[name]
	if !ok {
		return nil, Ef(KindProviderInit, op, "unknown backend %q (forgotten import?)", name)
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	p, err := f(opts)
	if err != nil {
		if KindOf(err) == 0 {
			err = E(KindProviderInit, op, err)
		}
		return nil, err
	}
	opts.Logger.V(1).Info("crypto provider initialized", "backend", name, "provider", p.Name())
	active, activeName = p, name
	return p, nil
}

// Active returns the provider created by Initialize.
func Active() (Provider, error) {
	mu.Lock()
	defer mu.Unlock()
	if active == nil {
		return nil, Ef(KindProviderInit, "xsec.Active", "no provider initialized")
	}
	return active, nil
}

// Shutdown closes the active provider. It is a no-op when none is active.
func Shutdown() error {
	mu.Lock()
	p := active
	active, activeName = nil, ""
	mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Close()
}
