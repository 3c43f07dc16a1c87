package softcrypto

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // DSA is still part of XML-DSig.
	"crypto/rsa"
	"errors"
	"math/big"

	"xsec-crypto/pkg/xsec"
)

type rsaKey struct {
	prov   *Provider
	pub    *rsa.PublicKey
	closed bool
}

// newRSAKey copies pub so the key never aliases caller-owned integers.
func newRSAKey(p *Provider, pub *rsa.PublicKey) *rsaKey {
	return &rsaKey{prov: p, pub: &rsa.PublicKey{N: new(big.Int).Set(pub.N), E: pub.E}}
}

func (k *rsaKey) Type() xsec.KeyType   { return xsec.KeyTypeRSA }
func (k *rsaKey) ProviderName() string { return ProviderName }

func (k *rsaKey) Verify(digest, sig []byte, opts crypto.SignerOpts) (bool, error) {
	if err := k.check("key.Verify"); err != nil {
		return false, err
	}
	params, err := xsec.ResolveVerify(xsec.KeyTypeRSA, digest, opts)
	if err != nil {
		return false, err
	}
	if len(sig) != k.pub.Size() {
		return false, xsec.Ef(xsec.KindVerification, "key.Verify",
			"signature is %d bytes, modulus is %d", len(sig), k.pub.Size())
	}
	switch params.Scheme {
	case xsec.SchemePSS:
		err = rsa.VerifyPSS(k.pub, params.Hash, digest, sig, &rsa.PSSOptions{SaltLength: params.SaltLength, Hash: params.Hash})
	default:
		err = rsa.VerifyPKCS1v15(k.pub, params.Hash, digest, sig)
	}
	if errors.Is(err, rsa.ErrVerification) {
		return false, nil
	}
	if err != nil {
		return false, xsec.E(xsec.KindVerification, "key.Verify", err)
	}
	return true, nil
}

func (k *rsaKey) Public() (xsec.RawKey, error) {
	if err := k.check("key.Public"); err != nil {
		return nil, err
	}
	return xsec.RawFromPublic(k.pub)
}

func (k *rsaKey) Equal(other xsec.Key) bool { return equalKeys(k, other) }

func (k *rsaKey) Clone() (xsec.Key, error) {
	if err := k.check("key.Clone"); err != nil {
		return nil, err
	}
	return newRSAKey(k.prov, k.pub), nil
}

func (k *rsaKey) Close() error {
	k.closed = true
	return nil
}

func (k *rsaKey) check(op string) error {
	if k.closed {
		return xsec.E(xsec.KindDestroyed, op, nil)
	}
	if !k.prov.alive() {
		return xsec.Ef(xsec.KindDestroyed, op, "provider closed")
	}
	return nil
}

type dsaKey struct {
	prov   *Provider
	pub    *dsa.PublicKey
	closed bool
}

func newDSAKey(p *Provider, pub *dsa.PublicKey) *dsaKey {
	return &dsaKey{prov: p, pub: &dsa.PublicKey{
		Parameters: dsa.Parameters{
			P: new(big.Int).Set(pub.P),
			Q: new(big.Int).Set(pub.Q),
			G: new(big.Int).Set(pub.G),
		},
		Y: new(big.Int).Set(pub.Y),
	}}
}

func (k *dsaKey) Type() xsec.KeyType   { return xsec.KeyTypeDSA }
func (k *dsaKey) ProviderName() string { return ProviderName }

func (k *dsaKey) Verify(digest, sig []byte, opts crypto.SignerOpts) (bool, error) {
	if err := k.check("key.Verify"); err != nil {
		return false, err
	}
	if _, err := xsec.ResolveVerify(xsec.KeyTypeDSA, digest, opts); err != nil {
		return false, err
	}
	r, s, err := xsec.SplitDSASignature(sig, qLen(k.pub))
	if err != nil {
		return false, err
	}
	// dsa.Verify rejects r, s outside (0, q) itself.
	return dsa.Verify(k.pub, xsec.TruncateDSADigest(digest, qLen(k.pub)), r, s), nil
}

func (k *dsaKey) Public() (xsec.RawKey, error) {
	if err := k.check("key.Public"); err != nil {
		return nil, err
	}
	return xsec.RawFromPublic(k.pub)
}

func (k *dsaKey) Equal(other xsec.Key) bool { return equalKeys(k, other) }

func (k *dsaKey) Clone() (xsec.Key, error) {
	if err := k.check("key.Clone"); err != nil {
		return nil, err
	}
	return newDSAKey(k.prov, k.pub), nil
}

func (k *dsaKey) Close() error {
	k.closed = true
	return nil
}

func (k *dsaKey) check(op string) error {
	if k.closed {
		return xsec.E(xsec.KindDestroyed, op, nil)
	}
	if !k.prov.alive() {
		return xsec.Ef(xsec.KindDestroyed, op, "provider closed")
	}
	return nil
}

func qLen(pub *dsa.PublicKey) int { return (pub.Q.BitLen() + 7) / 8 }

func equalKeys(a, b xsec.Key) bool {
	if b == nil || a.Type() != b.Type() {
		return false
	}
	ra, err := a.Public()
	if err != nil {
		return false
	}
	rb, err := b.Public()
	if err != nil {
		return false
	}
	return xsec.EqualRaw(ra, rb)
}
