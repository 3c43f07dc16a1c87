package nativecrypto

import (
	"bytes"
	"crypto"
	"sync"

	"xsec-crypto/pkg/native"
	"xsec-crypto/pkg/xsec"
)

// key owns one native key handle.
type key struct {
	prov *Provider
	kt   xsec.KeyType
	// size is the modulus length for RSA and the subgroup length for DSA,
	// in bytes.
	size int

	mu     sync.Mutex
	h      native.Handle
	closed bool
}

var _ xsec.Key = (*key)(nil)

// newKey takes ownership of h. The handle is destroyed if the key cannot be
// set up.
func (p *Provider) newKey(op string, kt xsec.KeyType, h native.Handle) (*key, error) {
	p.metrics.opened(kindKey)
	k := &key{prov: p, kt: kt, h: h}
	raw, err := p.api.ExportKeyValue(h)
	if err == nil {
		k.size, err = keySize(raw)
	}
	if err != nil {
		_ = k.destroy()
		p.metrics.failed(kindKey)
		return nil, xsec.E(xsec.KindKeyExtraction, op, err)
	}
	if err := p.track(op, k); err != nil {
		_ = k.destroy()
		return nil, err
	}
	return k, nil
}

func keySize(raw xsec.RawKey) (int, error) {
	switch v := raw.(type) {
	case xsec.RSAKeyValue:
		return len(bytes.TrimLeft(v.Modulus, "\x00")), nil
	case xsec.DSAKeyValue:
		return len(bytes.TrimLeft(v.Q, "\x00")), nil
	default:
		return 0, xsec.Ef(xsec.KindUnsupportedAlgorithm, "", "raw key %T", raw)
	}
}

func (k *key) Type() xsec.KeyType   { return k.kt }
func (k *key) ProviderName() string { return k.prov.Name() }

func (k *key) Verify(digest, sig []byte, opts crypto.SignerOpts) (bool, error) {
	const op = "key.Verify"
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.check(op); err != nil {
		return false, err
	}
	params, err := xsec.ResolveVerify(k.kt, digest, opts)
	if err != nil {
		return false, err
	}
	switch k.kt {
	case xsec.KeyTypeRSA:
		if len(sig) != k.size {
			return false, xsec.Ef(xsec.KindVerification, op, "signature is %d bytes, modulus is %d", len(sig), k.size)
		}
	case xsec.KeyTypeDSA:
		r, s, err := xsec.SplitDSASignature(sig, k.size)
		if err != nil {
			return false, err
		}
		// Values that cannot fit the subgroup can never verify.
		if r.Sign() <= 0 || s.Sign() <= 0 || r.BitLen() > 8*k.size || s.BitLen() > 8*k.size {
			return false, nil
		}
		sig = xsec.JoinDSASignature(r, s, k.size)
		digest = xsec.TruncateDSADigest(digest, k.size)
	}
	ok, err := k.prov.api.VerifySignature(k.h, digest, sig, params)
	if err != nil {
		return false, xsec.E(xsec.KindVerification, op, err)
	}
	return ok, nil
}

func (k *key) Public() (xsec.RawKey, error) {
	const op = "key.Public"
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.check(op); err != nil {
		return nil, err
	}
	raw, err := k.prov.api.ExportKeyValue(k.h)
	if err != nil {
		return nil, xsec.E(xsec.KindKeyExtraction, op, err)
	}
	return raw, nil
}

func (k *key) Equal(other xsec.Key) bool {
	if other == nil || other.Type() != k.kt {
		return false
	}
	ra, err := k.Public()
	if err != nil {
		return false
	}
	rb, err := other.Public()
	if err != nil {
		return false
	}
	return xsec.EqualRaw(ra, rb)
}

func (k *key) Clone() (xsec.Key, error) {
	const op = "key.Clone"
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.check(op); err != nil {
		return nil, err
	}
	var h native.Handle
	err := k.prov.withAlg(op, k.kt, func(alg native.Handle) (err error) {
		h, err = k.prov.api.DuplicateKey(alg, k.h)
		return err
	})
	if err != nil {
		return nil, k.prov.keyErr(op, err)
	}
	return k.prov.newKey(op, k.kt, h)
}

// Close destroys the key handle. It is idempotent.
func (k *key) Close() error {
	err := k.release()
	k.prov.untrack(k)
	return err
}

func (k *key) release() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	return k.destroy()
}

func (k *key) destroy() error {
	k.closed = true
	err := k.prov.api.DestroyKey(k.h)
	k.prov.metrics.released(kindKey)
	k.h = 0
	return err
}

func (k *key) check(op string) error {
	if k.closed {
		return xsec.E(xsec.KindDestroyed, op, nil)
	}
	return nil
}
