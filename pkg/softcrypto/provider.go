// Package softcrypto is the pure software backend, built on the Go
// standard crypto packages. Import it for its side effect of registering
// the "software" backend with xsec.
package softcrypto

import (
	"sync/atomic"

	"github.com/go-logr/logr"

	"xsec-crypto/pkg/xsec"
)

const (
	// BackendName is the registry name.
	BackendName = "software"
	// ProviderName is the identity reported by every object of this backend.
	ProviderName = "GoCrypto"
)

func init() {
	xsec.Register(BackendName, func(opts xsec.Options) (xsec.Provider, error) {
		return New(opts)
	})
}

// Provider builds software certificates and keys. It holds no native
// resources; the closed flag only enforces teardown order.
type Provider struct {
	log    logr.Logger
	closed atomic.Bool
}

var _ xsec.Provider = (*Provider)(nil)

// New creates a Provider. Naming a native implementation for any family is
// a configuration error for this backend.
func New(opts xsec.Options) (*Provider, error) {
	for kt, impl := range opts.AlgorithmProviders {
		if impl != "" {
			return nil, xsec.Ef(xsec.KindProviderInit, "softcrypto.New",
				"%s: algorithm provider %q not supported by the software backend", kt, impl)
		}
	}
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Provider{log: log.WithName("softcrypto")}, nil
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) NewX509() (xsec.X509, error) {
	if p.closed.Load() {
		return nil, xsec.E(xsec.KindDestroyed, "provider.NewX509", nil)
	}
	return &X509{prov: p}, nil
}

func (p *Provider) CreateKeyFromRaw(raw xsec.RawKey) (xsec.Key, error) {
	const op = "provider.CreateKeyFromRaw"
	if p.closed.Load() {
		return nil, xsec.E(xsec.KindDestroyed, op, nil)
	}
	switch v := raw.(type) {
	case xsec.RSAKeyValue:
		pub, err := v.RSAPublicKey()
		if err != nil {
			return nil, xsec.E(xsec.KindKeyExtraction, op, err)
		}
		return newRSAKey(p, pub), nil
	case xsec.DSAKeyValue:
		pub, err := v.DSAPublicKey()
		if err != nil {
			return nil, xsec.E(xsec.KindKeyExtraction, op, err)
		}
		return newDSAKey(p, pub), nil
	default:
		return nil, xsec.Ef(xsec.KindUnsupportedAlgorithm, op, "raw key %T", raw)
	}
}

// Close marks the provider closed. Objects created earlier report
// KindDestroyed from operations that need the provider.
func (p *Provider) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.log.V(1).Info("provider closed")
	return nil
}

func (p *Provider) alive() bool { return p != nil && !p.closed.Load() }
