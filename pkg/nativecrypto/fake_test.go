package nativecrypto

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // DSA is still part of XML-DSig.
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"xsec-crypto/pkg/native"
	"xsec-crypto/pkg/xsec"
)

// fakeAPI is a native.API backed by Go crypto that counts live handles.
type fakeAPI struct {
	mu    sync.Mutex
	next  native.Handle
	algs  map[native.Handle]xsec.KeyType
	certs map[native.Handle]*x509.Certificate
	keys  map[native.Handle]crypto.PublicKey

	failOpen     map[xsec.KeyType]bool
	failClose    bool
	failExport   bool
	failKeyValue bool
	opened       []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		algs:     map[native.Handle]xsec.KeyType{},
		certs:    map[native.Handle]*x509.Certificate{},
		keys:     map[native.Handle]crypto.PublicKey{},
		failOpen: map[xsec.KeyType]bool{},
	}
}

var _ native.API = (*fakeAPI)(nil)

func (f *fakeAPI) live() (algs, certs, keys int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.algs), len(f.certs), len(f.keys)
}

func (f *fakeAPI) handle() native.Handle {
	f.next++
	return f.next
}

func (f *fakeAPI) Name() string { return "FakeCNG" }

func (f *fakeAPI) OpenAlgorithm(kt xsec.KeyType, implementation string) (native.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpen[kt] {
		return 0, fmt.Errorf("no %s provider %q", kt, implementation)
	}
	h := f.handle()
	f.algs[h] = kt
	f.opened = append(f.opened, kt.String()+":"+implementation)
	return h, nil
}

func (f *fakeAPI) CloseAlgorithm(alg native.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.algs[alg]; !ok {
		return fmt.Errorf("bad algorithm handle %d", alg)
	}
	delete(f.algs, alg)
	if f.failClose {
		return errors.New("close failed")
	}
	return nil
}

func (f *fakeAPI) OpenCertificate(der []byte) (native.Handle, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.handle()
	f.certs[h] = cert
	return h, nil
}

func (f *fakeAPI) CloseCertificate(cert native.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.certs[cert]; !ok {
		return fmt.Errorf("bad certificate handle %d", cert)
	}
	delete(f.certs, cert)
	return nil
}

func (f *fakeAPI) PublicKeyAlgorithm(cert native.Handle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.certs[cert]
	if !ok {
		return "", fmt.Errorf("bad certificate handle %d", cert)
	}
	switch c.PublicKeyAlgorithm {
	case x509.RSA:
		return native.OIDRSAEncryption, nil
	case x509.DSA:
		return native.OIDDSA, nil
	case x509.Ed25519:
		return "1.3.101.112", nil
	default:
		return "1.2.840.10045.2.1", nil
	}
}

func (f *fakeAPI) ExportPublicKey(cert, alg native.Handle) (native.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.certs[cert]
	if !ok {
		return 0, fmt.Errorf("bad certificate handle %d", cert)
	}
	if f.failExport {
		return 0, errors.New("export refused")
	}
	return f.bind(alg, c.PublicKey)
}

func (f *fakeAPI) ImportPublicKey(alg native.Handle, raw xsec.RawKey) (native.Handle, error) {
	var pub crypto.PublicKey
	var err error
	switch v := raw.(type) {
	case xsec.RSAKeyValue:
		pub, err = v.RSAPublicKey()
	case xsec.DSAKeyValue:
		pub, err = v.DSAPublicKey()
	default:
		err = fmt.Errorf("raw key %T", raw)
	}
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bind(alg, pub)
}

// bind requires f.mu.
func (f *fakeAPI) bind(alg native.Handle, pub crypto.PublicKey) (native.Handle, error) {
	kt, ok := f.algs[alg]
	if !ok {
		return 0, fmt.Errorf("bad algorithm handle %d", alg)
	}
	switch pub.(type) {
	case *rsa.PublicKey:
		if kt != xsec.KeyTypeRSA {
			return 0, errors.New("rsa key on non-rsa algorithm")
		}
	case *dsa.PublicKey:
		if kt != xsec.KeyTypeDSA {
			return 0, errors.New("dsa key on non-dsa algorithm")
		}
	default:
		return 0, fmt.Errorf("unsupported key %T", pub)
	}
	h := f.handle()
	f.keys[h] = pub
	return h, nil
}

func (f *fakeAPI) ExportKeyValue(key native.Handle) (xsec.RawKey, error) {
	f.mu.Lock()
	pub, ok := f.keys[key]
	refuse := f.failKeyValue
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("bad key handle %d", key)
	}
	if refuse {
		return nil, errors.New("key value export refused")
	}
	return xsec.RawFromPublic(pub)
}

func (f *fakeAPI) DuplicateKey(alg, key native.Handle) (native.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pub, ok := f.keys[key]
	if !ok {
		return 0, fmt.Errorf("bad key handle %d", key)
	}
	return f.bind(alg, pub)
}

func (f *fakeAPI) DestroyKey(key native.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; !ok {
		return fmt.Errorf("bad key handle %d", key)
	}
	delete(f.keys, key)
	return nil
}

// VerifySignature expects DSA signatures in raw r||s form, as CNG does.
func (f *fakeAPI) VerifySignature(key native.Handle, digest, sig []byte, params xsec.VerifyParams) (bool, error) {
	f.mu.Lock()
	pub, ok := f.keys[key]
	f.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("bad key handle %d", key)
	}
	switch pub := pub.(type) {
	case *rsa.PublicKey:
		var err error
		switch params.Scheme {
		case xsec.SchemePKCS1v15:
			err = rsa.VerifyPKCS1v15(pub, params.Hash, digest, sig)
		case xsec.SchemePSS:
			err = rsa.VerifyPSS(pub, params.Hash, digest, sig, &rsa.PSSOptions{SaltLength: params.SaltLength})
		default:
			return false, fmt.Errorf("scheme %d on rsa key", params.Scheme)
		}
		return err == nil, nil
	case *dsa.PublicKey:
		n := (pub.Q.BitLen() + 7) / 8
		if params.Scheme != xsec.SchemeDSA || len(sig) != 2*n {
			return false, errors.New("malformed dsa request")
		}
		r, s := new(big.Int).SetBytes(sig[:n]), new(big.Int).SetBytes(sig[n:])
		return dsa.Verify(pub, digest, r, s), nil
	}
	return false, errors.New("unreachable")
}
