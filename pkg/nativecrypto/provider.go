// Package nativecrypto implements the xsec interfaces on top of a native
// crypto subsystem (native.API). On Windows that is CNG; importing the
// package registers it as the "native" backend.
package nativecrypto

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"

	"xsec-crypto/pkg/native"
	"xsec-crypto/pkg/xsec"
)

// BackendName is the registry name.
const BackendName = "native"

func init() {
	xsec.Register(BackendName, func(opts xsec.Options) (xsec.Provider, error) {
		api, err := native.Open()
		if err != nil {
			return nil, xsec.E(xsec.KindProviderInit, "nativecrypto.Open", err)
		}
		return New(api, opts)
	})
}

// dependent is an object holding native handles on behalf of a provider.
type dependent interface {
	release() error
}

// Provider owns one algorithm handle per key family and every certificate
// and key created through it.
type Provider struct {
	api     native.API
	log     logr.Logger
	metrics *metrics

	// algMu guards algs against Close while a call is using a handle.
	algMu      sync.RWMutex
	algs       map[xsec.KeyType]native.Handle
	algsClosed bool

	mu     sync.Mutex
	closed bool
	deps   map[dependent]struct{}
}

var _ xsec.Provider = (*Provider)(nil)

// New acquires the algorithm handles named by opts.AlgorithmProviders (the
// subsystem default where unset). Nothing stays open when it fails.
func New(api native.API, opts xsec.Options) (*Provider, error) {
	const op = "nativecrypto.New"
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	m := newMetrics()
	if opts.Registerer != nil {
		if err := m.register(opts.Registerer); err != nil {
			return nil, xsec.E(xsec.KindProviderInit, op, err)
		}
	}
	p := &Provider{
		api:     api,
		log:     log.WithName("nativecrypto"),
		metrics: m,
		algs:    map[xsec.KeyType]native.Handle{},
		deps:    map[dependent]struct{}{},
	}
	for _, kt := range xsec.SupportedKeyTypes {
		impl := opts.AlgorithmProviders[kt]
		h, err := api.OpenAlgorithm(kt, impl)
		if err != nil {
			m.failed(kindAlgorithm)
			result := multierror.Append(fmt.Errorf("open %s algorithm %q: %w", kt, impl, err), p.closeAlgs())
			return nil, xsec.E(xsec.KindProviderInit, op, result.ErrorOrNil())
		}
		p.algs[kt] = h
		m.opened(kindAlgorithm)
		p.log.V(2).Info("algorithm handle opened", "family", kt.String(), "implementation", impl)
	}
	p.log.V(1).Info("provider ready", "subsystem", api.Name())
	return p, nil
}

func (p *Provider) Name() string { return p.api.Name() }

func (p *Provider) NewX509() (xsec.X509, error) {
	x := &X509{prov: p}
	if err := p.track("provider.NewX509", x); err != nil {
		return nil, err
	}
	return x, nil
}

func (p *Provider) CreateKeyFromRaw(raw xsec.RawKey) (xsec.Key, error) {
	const op = "provider.CreateKeyFromRaw"
	if raw == nil {
		return nil, xsec.Ef(xsec.KindUnsupportedAlgorithm, op, "no key material")
	}
	kt := raw.Type()
	var h native.Handle
	err := p.withAlg(op, kt, func(alg native.Handle) (err error) {
		h, err = p.api.ImportPublicKey(alg, raw)
		return err
	})
	if err != nil {
		return nil, p.keyErr(op, err)
	}
	return p.newKey(op, kt, h)
}

// Close releases every live certificate and key, then the algorithm
// handles. Later operations on those objects report KindDestroyed.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	deps := make([]dependent, 0, len(p.deps))
	for d := range p.deps {
		deps = append(deps, d)
	}
	p.deps = nil
	p.mu.Unlock()

	var result *multierror.Error
	for _, d := range deps {
		if err := d.release(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := p.closeAlgs(); err != nil {
		result = multierror.Append(result, err)
	}
	if len(deps) > 0 {
		p.log.Info("provider closed with live objects", "released", len(deps))
	} else {
		p.log.V(1).Info("provider closed")
	}
	return result.ErrorOrNil()
}

func (p *Provider) closeAlgs() error {
	p.algMu.Lock()
	defer p.algMu.Unlock()
	p.algsClosed = true
	var result *multierror.Error
	for kt, h := range p.algs {
		if err := p.api.CloseAlgorithm(h); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s algorithm: %w", kt, err))
		}
		p.metrics.released(kindAlgorithm)
		delete(p.algs, kt)
	}
	return result.ErrorOrNil()
}

// withAlg runs fn with the algorithm handle of kt held open.
func (p *Provider) withAlg(op string, kt xsec.KeyType, fn func(native.Handle) error) error {
	p.algMu.RLock()
	defer p.algMu.RUnlock()
	if p.algsClosed {
		return xsec.Ef(xsec.KindDestroyed, op, "provider closed")
	}
	h, ok := p.algs[kt]
	if !ok {
		return xsec.Ef(xsec.KindUnsupportedAlgorithm, op, "no algorithm handle for %s keys", kt)
	}
	return fn(h)
}

func (p *Provider) track(op string, d dependent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return xsec.Ef(xsec.KindDestroyed, op, "provider closed")
	}
	p.deps[d] = struct{}{}
	return nil
}

func (p *Provider) untrack(d dependent) {
	p.mu.Lock()
	delete(p.deps, d)
	p.mu.Unlock()
}

func (p *Provider) alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

// keyErr classifies a failed key acquisition. Errors already typed by this
// package pass through.
func (p *Provider) keyErr(op string, err error) error {
	if xsec.KindOf(err) != 0 {
		return err
	}
	p.metrics.failed(kindKey)
	return xsec.E(xsec.KindKeyExtraction, op, err)
}
