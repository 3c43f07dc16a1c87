// Package xsectest provides certificate and key fixtures for tests of xsec
// backends.
package xsectest

import (
	"crypto"
	"crypto/dsa" //nolint:staticcheck // DSA is still part of XML-DSig.
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	_ "embed"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	"xsec-crypto/pkg/xsec"
)

//go:embed testdata/dsa.crt
var dsaCertPEM []byte

//go:embed testdata/dsa.key
var dsaKeyPEM []byte

// Fixture is a certificate together with the private key of its subject.
type Fixture struct {
	DER    []byte
	Base64 []byte
	Key    crypto.PrivateKey
}

// Public returns the subject public key.
func (f *Fixture) Public() crypto.PublicKey {
	switch k := f.Key.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey
	case *dsa.PrivateKey:
		return &k.PublicKey
	case ed25519.PrivateKey:
		return k.Public()
	}
	return nil
}

// RSA returns a fresh self-signed certificate for a new RSA key.
func RSA(t testing.TB, bits int) *Fixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return selfSigned(t, key, key.Public(), "xsec rsa fixture")
}

// Ed25519 returns a certificate whose key family no backend maps.
func Ed25519(t testing.TB) *Fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return selfSigned(t, priv, pub, "xsec ed25519 fixture")
}

// DSA returns the checked-in 1024-bit DSA certificate and its key.
func DSA(t testing.TB) *Fixture {
	t.Helper()
	block, _ := pem.Decode(dsaCertPEM)
	if block == nil {
		t.Fatalf("dsa fixture: no PEM certificate")
	}
	key, err := parseDSAPKCS8(dsaKeyPEM)
	if err != nil {
		t.Fatalf("dsa fixture: %v", err)
	}
	return &Fixture{DER: block.Bytes, Base64: xsec.EncodeBase64(block.Bytes), Key: key}
}

func selfSigned(t testing.TB, signer crypto.Signer, pub crypto.PublicKey, cn string) *Fixture {
	t.Helper()
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, signer)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return &Fixture{DER: der, Base64: xsec.EncodeBase64(der), Key: signer}
}

// parseDSAPKCS8 reads an unencrypted PKCS#8 DSA key, which crypto/x509 does
// not support.
func parseDSAPKCS8(pemBytes []byte) (*dsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errNoPEM
	}
	var (
		in, algo, params cryptobyte.String
		oid              cryptobyte.String
		version          int
		p, q, g          = new(big.Int), new(big.Int), new(big.Int)
		privOctets       cryptobyte.String
		x                = new(big.Int)
	)
	input := cryptobyte.String(block.Bytes)
	if !input.ReadASN1(&in, cbasn1.SEQUENCE) ||
		!in.ReadASN1Integer(&version) ||
		!in.ReadASN1(&algo, cbasn1.SEQUENCE) ||
		!algo.ReadASN1(&oid, cbasn1.OBJECT_IDENTIFIER) ||
		!algo.ReadASN1(&params, cbasn1.SEQUENCE) ||
		!params.ReadASN1Integer(p) || !params.ReadASN1Integer(q) || !params.ReadASN1Integer(g) ||
		!in.ReadASN1(&privOctets, cbasn1.OCTET_STRING) ||
		!privOctets.ReadASN1Integer(x) {
		return nil, errBadKey
	}
	key := &dsa.PrivateKey{
		PublicKey: dsa.PublicKey{Parameters: dsa.Parameters{P: p, Q: q, G: g}},
		X:         x,
	}
	key.Y = new(big.Int).Exp(g, x, p)
	return key, nil
}

type fixtureError string

func (e fixtureError) Error() string { return string(e) }

const (
	errNoPEM  fixtureError = "no PEM block"
	errBadKey fixtureError = "malformed PKCS#8 DSA key"
)
