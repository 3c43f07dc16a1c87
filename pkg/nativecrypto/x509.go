package nativecrypto

import (
	"sync"

	"xsec-crypto/pkg/native"
	"xsec-crypto/pkg/xsec"
)

// X509 wraps a native certificate context. The DER bytes of the last
// successful load are kept alongside it.
type X509 struct {
	prov *Provider

	mu     sync.Mutex
	der    []byte
	cert   native.Handle
	closed bool
}

var _ xsec.X509 = (*X509)(nil)

// LoadBase64 opens the new context before touching the current one, so a
// failed load leaves the previous certificate in place.
func (x *X509) LoadBase64(buf []byte, n int) error {
	const op = "x509.LoadBase64"
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return xsec.E(xsec.KindDestroyed, op, nil)
	}
	if !x.prov.alive() {
		return xsec.Ef(xsec.KindDestroyed, op, "provider closed")
	}
	der, err := xsec.DecodeBase64(buf, n)
	if err != nil {
		return err
	}
	h, err := x.prov.api.OpenCertificate(der)
	if err != nil {
		x.prov.metrics.failed(kindCertificate)
		return xsec.E(xsec.KindCertificateParse, op, err)
	}
	x.prov.metrics.opened(kindCertificate)
	if x.cert != 0 {
		if err := x.closeCert(); err != nil {
			x.prov.log.Error(err, "releasing replaced certificate context")
		}
	}
	x.cert, x.der = h, der
	return nil
}

func (x *X509) DEREncoding() []byte {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.der == nil {
		return nil
	}
	out := make([]byte, len(x.der))
	copy(out, x.der)
	return out
}

func (x *X509) PublicKeyType() (xsec.KeyType, error) {
	const op = "x509.PublicKeyType"
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(op); err != nil {
		return xsec.KeyTypeUnknown, err
	}
	return x.keyType(op)
}

func (x *X509) ClonePublicKey() (xsec.Key, error) {
	const op = "x509.ClonePublicKey"
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.check(op); err != nil {
		return nil, err
	}
	kt, err := x.keyType(op)
	if err != nil {
		return nil, err
	}
	var h native.Handle
	err = x.prov.withAlg(op, kt, func(alg native.Handle) (err error) {
		h, err = x.prov.api.ExportPublicKey(x.cert, alg)
		return err
	})
	if err != nil {
		return nil, x.prov.keyErr(op, err)
	}
	return x.prov.newKey(op, kt, h)
}

func (x *X509) ProviderName() string { return x.prov.Name() }

// Close releases the certificate context. It is idempotent.
func (x *X509) Close() error {
	err := x.release()
	x.prov.untrack(x)
	return err
}

func (x *X509) release() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	x.der = nil
	if x.cert == 0 {
		return nil
	}
	return x.closeCert()
}

func (x *X509) closeCert() error {
	err := x.prov.api.CloseCertificate(x.cert)
	x.prov.metrics.released(kindCertificate)
	x.cert = 0
	return err
}

func (x *X509) keyType(op string) (xsec.KeyType, error) {
	oid, err := x.prov.api.PublicKeyAlgorithm(x.cert)
	if err != nil {
		return xsec.KeyTypeUnknown, xsec.E(xsec.KindKeyExtraction, op, err)
	}
	kt := native.KeyTypeForOID(oid)
	if kt == xsec.KeyTypeUnknown {
		return kt, xsec.Ef(xsec.KindUnsupportedAlgorithm, op, "subject key algorithm %s", oid)
	}
	return kt, nil
}

func (x *X509) check(op string) error {
	if x.closed {
		return xsec.E(xsec.KindDestroyed, op, nil)
	}
	if x.cert == 0 {
		return xsec.E(xsec.KindNotLoaded, op, nil)
	}
	return nil
}
