//go:build windows

package native

import (
	"crypto"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"

	"xsec-crypto/pkg/xsec"
)

// ------- Minimal BCrypt / crypt32 P/Invoke --------

var (
	bcrypt                           = windows.NewLazySystemDLL("bcrypt.dll")
	procBCryptOpenAlgorithmProvider  = bcrypt.NewProc("BCryptOpenAlgorithmProvider")
	procBCryptCloseAlgorithmProvider = bcrypt.NewProc("BCryptCloseAlgorithmProvider")
	procBCryptImportKeyPair          = bcrypt.NewProc("BCryptImportKeyPair")
	procBCryptExportKey              = bcrypt.NewProc("BCryptExportKey")
	procBCryptDestroyKey             = bcrypt.NewProc("BCryptDestroyKey")
	procBCryptVerifySignature        = bcrypt.NewProc("BCryptVerifySignature")
	crypt32                          = windows.NewLazySystemDLL("crypt32.dll")
	procCryptImportPublicKeyInfoEx2  = crypt32.NewProc("CryptImportPublicKeyInfoEx2")
)

const (
	BCRYPT_PAD_PKCS1 = 0x00000002
	BCRYPT_PAD_PSS   = 0x00000008

	STATUS_INVALID_SIGNATURE = 0xC000A000

	certEncoding = windows.X509_ASN_ENCODING | windows.PKCS_7_ASN_ENCODING
)

// BCRYPT_PKCS1_PADDING_INFO
type pkcs1PaddingInfo struct {
	AlgID *uint16
}

// BCRYPT_PSS_PADDING_INFO
type pssPaddingInfo struct {
	AlgID *uint16
	Salt  uint32
}

func ntErr(r uintptr) error {
	// BCrypt returns NTSTATUS. 0 == STATUS_SUCCESS
	if r == 0 {
		return nil
	}
	return windows.NTStatus(r)
}

var cngHashIDs = map[crypto.Hash]string{
	crypto.SHA1:   "SHA1",
	crypto.SHA256: "SHA256",
	crypto.SHA384: "SHA384",
	crypto.SHA512: "SHA512",
}

// cng implements API on Windows CNG. Certificate contexts are kept in a
// table so no Go pointer is ever round-tripped through a Handle.
type cng struct {
	mu       sync.Mutex
	nextCert Handle
	certs    map[Handle]*windows.CertContext
	algs     map[Handle]xsec.KeyType
	keys     map[Handle]xsec.KeyType
}

// Open loads bcrypt.dll and crypt32.dll and returns the CNG implementation.
func Open() (API, error) {
	for _, p := range []*windows.LazyProc{
		procBCryptOpenAlgorithmProvider, procBCryptCloseAlgorithmProvider,
		procBCryptImportKeyPair, procBCryptExportKey, procBCryptDestroyKey,
		procBCryptVerifySignature, procCryptImportPublicKeyInfoEx2,
	} {
		if err := p.Find(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return &cng{
		certs: map[Handle]*windows.CertContext{},
		algs:  map[Handle]xsec.KeyType{},
		keys:  map[Handle]xsec.KeyType{},
	}, nil
}

func (c *cng) Name() string { return "WinCNG" }

func (c *cng) OpenAlgorithm(kt xsec.KeyType, implementation string) (Handle, error) {
	var id string
	switch kt {
	case xsec.KeyTypeRSA:
		id = "RSA"
	case xsec.KeyTypeDSA:
		id = "DSA"
	default:
		return 0, fmt.Errorf("no CNG algorithm for %v keys", kt)
	}
	pID, err := windows.UTF16PtrFromString(id)
	if err != nil {
		return 0, err
	}
	var pImpl *uint16
	if implementation != "" {
		if pImpl, err = windows.UTF16PtrFromString(implementation); err != nil {
			return 0, err
		}
	}
	var h uintptr
	r, _, _ := procBCryptOpenAlgorithmProvider.Call(
		uintptr(unsafe.Pointer(&h)),
		uintptr(unsafe.Pointer(pID)),
		uintptr(unsafe.Pointer(pImpl)),
		0,
	)
	if err := ntErr(r); err != nil {
		return 0, fmt.Errorf("BCryptOpenAlgorithmProvider(%s): %w", id, err)
	}
	c.mu.Lock()
	c.algs[Handle(h)] = kt
	c.mu.Unlock()
	return Handle(h), nil
}

func (c *cng) CloseAlgorithm(alg Handle) error {
	c.mu.Lock()
	_, ok := c.algs[alg]
	delete(c.algs, alg)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown algorithm handle %#x", alg)
	}
	r, _, _ := procBCryptCloseAlgorithmProvider.Call(uintptr(alg), 0)
	return ntErr(r)
}

func (c *cng) OpenCertificate(der []byte) (Handle, error) {
	if len(der) == 0 {
		return 0, errors.New("empty certificate")
	}
	// The context keeps its own copy of the encoding.
	ctx, err := windows.CertCreateCertificateContext(certEncoding, &der[0], uint32(len(der)))
	if err != nil {
		return 0, fmt.Errorf("CertCreateCertificateContext: %w", err)
	}
	c.mu.Lock()
	c.nextCert++
	h := c.nextCert
	c.certs[h] = ctx
	c.mu.Unlock()
	return h, nil
}

func (c *cng) CloseCertificate(cert Handle) error {
	c.mu.Lock()
	ctx, ok := c.certs[cert]
	delete(c.certs, cert)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown certificate handle %#x", cert)
	}
	if err := windows.CertFreeCertificateContext(ctx); err != nil {
		return fmt.Errorf("CertFreeCertificateContext: %w", err)
	}
	return nil
}

func (c *cng) cert(h Handle) (*windows.CertContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, ok := c.certs[h]
	if !ok {
		return nil, fmt.Errorf("unknown certificate handle %#x", h)
	}
	return ctx, nil
}

func (c *cng) PublicKeyAlgorithm(cert Handle) (string, error) {
	ctx, err := c.cert(cert)
	if err != nil {
		return "", err
	}
	return windows.BytePtrToString(ctx.CertInfo.SubjectPublicKeyInfo.Algorithm.ObjId), nil
}

// ExportPublicKey lets crypt32 decode the SubjectPublicKeyInfo, then moves
// the key onto alg through its public blob.
func (c *cng) ExportPublicKey(cert, alg Handle) (Handle, error) {
	ctx, err := c.cert(cert)
	if err != nil {
		return 0, err
	}
	kt, err := c.algType(alg)
	if err != nil {
		return 0, err
	}
	var tmp uintptr
	r, _, e1 := procCryptImportPublicKeyInfoEx2.Call(
		uintptr(certEncoding),
		uintptr(unsafe.Pointer(&ctx.CertInfo.SubjectPublicKeyInfo)),
		0,
		0,
		uintptr(unsafe.Pointer(&tmp)),
	)
	if r == 0 {
		return 0, fmt.Errorf("CryptImportPublicKeyInfoEx2: %w", e1)
	}
	defer procBCryptDestroyKey.Call(tmp)

	blobType, _ := BlobTypeFor(kt)
	blob, err := exportBlob(tmp, blobType)
	if err != nil {
		return 0, err
	}
	return c.importBlob(alg, kt, blobType, blob)
}

func (c *cng) ImportPublicKey(alg Handle, raw xsec.RawKey) (Handle, error) {
	kt, err := c.algType(alg)
	if err != nil {
		return 0, err
	}
	if raw == nil || raw.Type() != kt {
		return 0, fmt.Errorf("key material does not match %v algorithm handle", kt)
	}
	blobType, blob, err := MarshalPublicBlob(raw)
	if err != nil {
		return 0, err
	}
	return c.importBlob(alg, kt, blobType, blob)
}

func (c *cng) ExportKeyValue(key Handle) (xsec.RawKey, error) {
	c.mu.Lock()
	kt, ok := c.keys[key]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown key handle %#x", key)
	}
	blobType, _ := BlobTypeFor(kt)
	blob, err := exportBlob(uintptr(key), blobType)
	if err != nil {
		return nil, err
	}
	return UnmarshalPublicBlob(blobType, blob)
}

// DuplicateKey re-imports the public blob. BCryptDuplicateKey only covers
// symmetric keys.
func (c *cng) DuplicateKey(alg, key Handle) (Handle, error) {
	raw, err := c.ExportKeyValue(key)
	if err != nil {
		return 0, err
	}
	return c.ImportPublicKey(alg, raw)
}

func (c *cng) DestroyKey(key Handle) error {
	c.mu.Lock()
	_, ok := c.keys[key]
	delete(c.keys, key)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown key handle %#x", key)
	}
	r, _, _ := procBCryptDestroyKey.Call(uintptr(key))
	return ntErr(r)
}

func (c *cng) VerifySignature(key Handle, digest, sig []byte, params xsec.VerifyParams) (bool, error) {
	if len(digest) == 0 || len(sig) == 0 {
		return false, errors.New("empty digest or signature")
	}
	c.mu.Lock()
	_, ok := c.keys[key]
	c.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("unknown key handle %#x", key)
	}

	var (
		pad   unsafe.Pointer
		flags uint32
	)
	if params.Scheme != xsec.SchemeDSA {
		id, ok := cngHashIDs[params.Hash]
		if !ok {
			return false, fmt.Errorf("hash %v has no CNG identifier", params.Hash)
		}
		pID, err := windows.UTF16PtrFromString(id)
		if err != nil {
			return false, err
		}
		switch params.Scheme {
		case xsec.SchemePKCS1v15:
			pad, flags = unsafe.Pointer(&pkcs1PaddingInfo{AlgID: pID}), BCRYPT_PAD_PKCS1
		case xsec.SchemePSS:
			pad, flags = unsafe.Pointer(&pssPaddingInfo{AlgID: pID, Salt: pssSalt(params)}), BCRYPT_PAD_PSS
		default:
			return false, fmt.Errorf("unknown signature scheme %d", params.Scheme)
		}
	}

	r, _, _ := procBCryptVerifySignature.Call(
		uintptr(key),
		uintptr(pad),
		uintptr(unsafe.Pointer(&digest[0])),
		uintptr(len(digest)),
		uintptr(unsafe.Pointer(&sig[0])),
		uintptr(len(sig)),
		uintptr(flags),
	)
	switch {
	case r == 0:
		return true, nil
	case uint32(r) == STATUS_INVALID_SIGNATURE:
		return false, nil
	default:
		return false, fmt.Errorf("BCryptVerifySignature: %w", ntErr(r))
	}
}

// pssSalt maps rsa.PSSOptions salt semantics onto an explicit CNG salt
// length. CNG cannot auto-detect, so auto means hash-sized.
func pssSalt(p xsec.VerifyParams) uint32 {
	if p.SaltLength <= 0 {
		return uint32(p.Hash.Size())
	}
	return uint32(p.SaltLength)
}

func (c *cng) algType(alg Handle) (xsec.KeyType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kt, ok := c.algs[alg]
	if !ok {
		return xsec.KeyTypeUnknown, fmt.Errorf("unknown algorithm handle %#x", alg)
	}
	return kt, nil
}

func (c *cng) importBlob(alg Handle, kt xsec.KeyType, blobType string, blob []byte) (Handle, error) {
	pType, err := windows.UTF16PtrFromString(blobType)
	if err != nil {
		return 0, err
	}
	var h uintptr
	r, _, _ := procBCryptImportKeyPair.Call(
		uintptr(alg),
		0,
		uintptr(unsafe.Pointer(pType)),
		uintptr(unsafe.Pointer(&h)),
		uintptr(unsafe.Pointer(&blob[0])),
		uintptr(len(blob)),
		0,
	)
	if err := ntErr(r); err != nil {
		return 0, fmt.Errorf("BCryptImportKeyPair(%s): %w", blobType, err)
	}
	c.mu.Lock()
	c.keys[Handle(h)] = kt
	c.mu.Unlock()
	return Handle(h), nil
}

func exportBlob(key uintptr, blobType string) ([]byte, error) {
	pType, err := windows.UTF16PtrFromString(blobType)
	if err != nil {
		return nil, err
	}
	// Probe size
	var n uint32
	r, _, _ := procBCryptExportKey.Call(
		key, 0,
		uintptr(unsafe.Pointer(pType)),
		0, 0,
		uintptr(unsafe.Pointer(&n)),
		0,
	)
	if err := ntErr(r); err != nil {
		return nil, fmt.Errorf("BCryptExportKey(%s): %w", blobType, err)
	}
	blob := make([]byte, n)
	r, _, _ = procBCryptExportKey.Call(
		key, 0,
		uintptr(unsafe.Pointer(pType)),
		uintptr(unsafe.Pointer(&blob[0])),
		uintptr(n),
		uintptr(unsafe.Pointer(&n)),
		0,
	)
	if err := ntErr(r); err != nil {
		return nil, fmt.Errorf("BCryptExportKey(%s): %w", blobType, err)
	}
	return blob[:n], nil
}
