package softcrypto

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // DSA is still part of XML-DSig.
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"
	"math/big"

	"xsec-crypto/pkg/xsec"
)

// ImportPrivateKey wraps an RSA or DSA private key for the signing path.
// The key material is copied.
func (p *Provider) ImportPrivateKey(priv crypto.PrivateKey) (xsec.SigningKey, error) {
	const op = "provider.ImportPrivateKey"
	if !p.alive() {
		return nil, xsec.E(xsec.KindDestroyed, op, nil)
	}
	switch k := priv.(type) {
	case *rsa.PrivateKey:
		if err := k.Validate(); err != nil {
			return nil, xsec.E(xsec.KindKeyExtraction, op, err)
		}
		cp := &rsa.PrivateKey{PublicKey: k.PublicKey, D: new(big.Int).Set(k.D)}
		cp.N = new(big.Int).Set(k.N)
		for _, prime := range k.Primes {
			cp.Primes = append(cp.Primes, new(big.Int).Set(prime))
		}
		cp.Precompute()
		return &rsaSigner{rsaKey: newRSAKey(p, &cp.PublicKey), priv: cp, rand: rand.Reader}, nil
	case *dsa.PrivateKey:
		pub := newDSAKey(p, &k.PublicKey)
		return &dsaSigner{dsaKey: pub, x: new(big.Int).Set(k.X), rand: rand.Reader}, nil
	default:
		return nil, xsec.Ef(xsec.KindUnsupportedAlgorithm, op, "private key %T", priv)
	}
}

type rsaSigner struct {
	*rsaKey
	priv *rsa.PrivateKey
	rand io.Reader
}

func (k *rsaSigner) Sign(digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	const op = "key.Sign"
	if err := k.check(op); err != nil {
		return nil, err
	}
	params, err := xsec.ResolveVerify(xsec.KeyTypeRSA, digest, opts)
	if err != nil {
		return nil, err
	}
	var sig []byte
	if params.Scheme == xsec.SchemePSS {
		sig, err = rsa.SignPSS(k.rand, k.priv, params.Hash, digest, &rsa.PSSOptions{SaltLength: params.SaltLength, Hash: params.Hash})
	} else {
		sig, err = rsa.SignPKCS1v15(k.rand, k.priv, params.Hash, digest)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sig, nil
}

type dsaSigner struct {
	*dsaKey
	x    *big.Int
	rand io.Reader
}

// Sign returns the XML-DSig raw r||s encoding.
func (k *dsaSigner) Sign(digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	const op = "key.Sign"
	if err := k.check(op); err != nil {
		return nil, err
	}
	if _, err := xsec.ResolveVerify(xsec.KeyTypeDSA, digest, opts); err != nil {
		return nil, err
	}
	priv := &dsa.PrivateKey{PublicKey: *k.pub, X: k.x}
	r, s, err := dsa.Sign(k.rand, priv, xsec.TruncateDSADigest(digest, qLen(k.pub)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return xsec.JoinDSASignature(r, s, qLen(k.pub)), nil
}

func (k *rsaSigner) Clone() (xsec.Key, error) {
	if err := k.check("key.Clone"); err != nil {
		return nil, err
	}
	return k.prov.ImportPrivateKey(k.priv)
}

func (k *dsaSigner) Clone() (xsec.Key, error) {
	if err := k.check("key.Clone"); err != nil {
		return nil, err
	}
	return k.prov.ImportPrivateKey(&dsa.PrivateKey{PublicKey: *k.pub, X: k.x})
}
