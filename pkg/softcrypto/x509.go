package softcrypto

import (
	"crypto/dsa" //nolint:staticcheck // DSA is still part of XML-DSig.
	"crypto/rsa"
	"crypto/x509"

	"xsec-crypto/pkg/xsec"
)

// X509 is a certificate parsed by crypto/x509. The parsed form plays the
// role of the native certificate context and is always re-derived from der.
type X509 struct {
	prov   *Provider
	der    []byte
	cert   *x509.Certificate
	closed bool
}

var _ xsec.X509 = (*X509)(nil)

func (c *X509) LoadBase64(buf []byte, n int) error {
	const op = "x509.LoadBase64"
	if c.closed {
		return xsec.E(xsec.KindDestroyed, op, nil)
	}
	if !c.prov.alive() {
		return xsec.Ef(xsec.KindDestroyed, op, "provider closed")
	}
	der, err := xsec.DecodeBase64(buf, n)
	if err != nil {
		return err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return xsec.E(xsec.KindCertificateParse, op, err)
	}
	c.der, c.cert = der, cert
	return nil
}

func (c *X509) DEREncoding() []byte {
	if c.der == nil {
		return nil
	}
	out := make([]byte, len(c.der))
	copy(out, c.der)
	return out
}

func (c *X509) PublicKeyType() (xsec.KeyType, error) {
	const op = "x509.PublicKeyType"
	if err := c.check(op); err != nil {
		return xsec.KeyTypeUnknown, err
	}
	switch c.cert.PublicKeyAlgorithm {
	case x509.RSA:
		return xsec.KeyTypeRSA, nil
	case x509.DSA:
		return xsec.KeyTypeDSA, nil
	default:
		return xsec.KeyTypeUnknown, xsec.Ef(xsec.KindUnsupportedAlgorithm, op, "%v", c.cert.PublicKeyAlgorithm)
	}
}

func (c *X509) ClonePublicKey() (xsec.Key, error) {
	const op = "x509.ClonePublicKey"
	if err := c.check(op); err != nil {
		return nil, err
	}
	if !c.prov.alive() {
		return nil, xsec.Ef(xsec.KindDestroyed, op, "provider closed")
	}
	switch pub := c.cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return newRSAKey(c.prov, pub), nil
	case *dsa.PublicKey:
		return newDSAKey(c.prov, pub), nil
	case nil:
		return nil, xsec.Ef(xsec.KindUnsupportedAlgorithm, op, "%v", c.cert.PublicKeyAlgorithm)
	default:
		return nil, xsec.Ef(xsec.KindUnsupportedAlgorithm, op, "%T", pub)
	}
}

func (c *X509) ProviderName() string { return ProviderName }

// Close drops the parsed certificate and DER buffer. It is idempotent.
func (c *X509) Close() error {
	c.closed = true
	c.der, c.cert = nil, nil
	return nil
}

// Certificate exposes the parsed form for callers that already depend on
// this backend, e.g. to read the subject for display.
func (c *X509) Certificate() (*x509.Certificate, error) {
	if err := c.check("x509.Certificate"); err != nil {
		return nil, err
	}
	return c.cert, nil
}

func (c *X509) check(op string) error {
	if c.closed {
		return xsec.E(xsec.KindDestroyed, op, nil)
	}
	if c.cert == nil {
		return xsec.E(xsec.KindNotLoaded, op, nil)
	}
	return nil
}
