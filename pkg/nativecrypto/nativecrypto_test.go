package nativecrypto

import (
	"bytes"
	"crypto"
	"crypto/dsa" //nolint:staticcheck // DSA is still part of XML-DSig.
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/asn1"
	"errors"
	"math/big"
	"runtime"
	"sync"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"xsec-crypto/pkg/xsec"
	"xsec-crypto/pkg/xsec/xsectest"
)

func newProvider(t *testing.T, api *fakeAPI) *Provider {
	t.Helper()
	p, err := New(api, xsec.Options{Logger: testr.New(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func load(t *testing.T, p *Provider, f *xsectest.Fixture) xsec.X509 {
	t.Helper()
	c, err := p.NewX509()
	if err != nil {
		t.Fatalf("NewX509: %v", err)
	}
	if err := c.LoadBase64(f.Base64, len(f.Base64)); err != nil {
		t.Fatalf("LoadBase64: %v", err)
	}
	return c
}

func assertLive(t *testing.T, api *fakeAPI, algs, certs, keys int) {
	t.Helper()
	a, c, k := api.live()
	if a != algs || c != certs || k != keys {
		t.Fatalf("live handles algs=%d certs=%d keys=%d, want %d/%d/%d", a, c, k, algs, certs, keys)
	}
}

func TestNewAcquiresOneHandlePerFamily(t *testing.T) {
	api := newFakeAPI()
	p, err := New(api, xsec.Options{AlgorithmProviders: map[xsec.KeyType]string{
		xsec.KeyTypeRSA: "Microsoft Primitive Provider",
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertLive(t, api, 2, 0, 0)
	want := []string{"rsa:Microsoft Primitive Provider", "dsa:"}
	if len(api.opened) != 2 || api.opened[0] != want[0] || api.opened[1] != want[1] {
		t.Fatalf("opened %v, want %v", api.opened, want)
	}
	if p.Name() != "FakeCNG" {
		t.Fatalf("Name = %q", p.Name())
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	assertLive(t, api, 0, 0, 0)
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNewRollsBackPartialAcquisition(t *testing.T) {
	api := newFakeAPI()
	api.failOpen[xsec.KeyTypeDSA] = true
	if _, err := New(api, xsec.Options{}); !errors.Is(err, xsec.ErrProviderInit) {
		t.Fatalf("New = %v, want provider init error", err)
	}
	assertLive(t, api, 0, 0, 0)
}

func TestRoundTrip(t *testing.T) {
	api := newFakeAPI()
	p := newProvider(t, api)
	f := xsectest.RSA(t, 2048)
	c := load(t, p, f)
	if !bytes.Equal(c.DEREncoding(), f.DER) {
		t.Fatalf("DER round trip mismatch")
	}
	if c.ProviderName() != "FakeCNG" {
		t.Fatalf("ProviderName = %q", c.ProviderName())
	}
	out := c.DEREncoding()
	out[0] ^= 0xff
	if !bytes.Equal(c.DEREncoding(), f.DER) {
		t.Fatalf("DEREncoding aliases internal buffer")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	assertLive(t, api, 2, 0, 0)
}

func TestNotLoaded(t *testing.T) {
	p := newProvider(t, newFakeAPI())
	c, _ := p.NewX509()
	if c.DEREncoding() != nil {
		t.Fatalf("empty certificate has DER")
	}
	if _, err := c.PublicKeyType(); !errors.Is(err, xsec.ErrNotLoaded) {
		t.Fatalf("PublicKeyType on empty: %v", err)
	}
	if _, err := c.ClonePublicKey(); !errors.Is(err, xsec.ErrNotLoaded) {
		t.Fatalf("ClonePublicKey on empty: %v", err)
	}
}

func TestReloadReleasesPreviousContext(t *testing.T) {
	api := newFakeAPI()
	p := newProvider(t, api)
	a, b := xsectest.RSA(t, 1024), xsectest.DSA(t)
	c := load(t, p, a)
	for i := 0; i < 3; i++ {
		if err := c.LoadBase64(b.Base64, len(b.Base64)); err != nil {
			t.Fatalf("reload: %v", err)
		}
		if err := c.LoadBase64(a.Base64, len(a.Base64)); err != nil {
			t.Fatalf("reload: %v", err)
		}
	}
	assertLive(t, api, 2, 1, 0)
	if kt, _ := c.PublicKeyType(); kt != xsec.KeyTypeRSA {
		t.Fatalf("PublicKeyType after reload = %v", kt)
	}
}

func TestFailedLoadKeepsState(t *testing.T) {
	api := newFakeAPI()
	p := newProvider(t, api)
	f := xsectest.RSA(t, 1024)
	c := load(t, p, f)

	notDER := xsec.EncodeBase64([]byte("not a certificate"))
	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{"bad base64", []byte("%%%%"), xsec.ErrDecoding},
		{"bad der", notDER, xsec.ErrCertificateParse},
		{"empty", []byte("   "), xsec.ErrDecoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.LoadBase64(tt.buf, len(tt.buf)); !errors.Is(err, tt.want) {
				t.Fatalf("LoadBase64 = %v, want %v", err, tt.want)
			}
			if !bytes.Equal(c.DEREncoding(), f.DER) {
				t.Fatalf("failed load changed DER")
			}
			if kt, err := c.PublicKeyType(); err != nil || kt != xsec.KeyTypeRSA {
				t.Fatalf("PublicKeyType = %v, %v", kt, err)
			}
			assertLive(t, api, 2, 1, 0)
		})
	}
}

func TestRSAVerify(t *testing.T) {
	api := newFakeAPI()
	p := newProvider(t, api)
	f := xsectest.RSA(t, 2048)
	c := load(t, p, f)
	key, err := c.ClonePublicKey()
	if err != nil {
		t.Fatalf("ClonePublicKey: %v", err)
	}
	if key.Type() != xsec.KeyTypeRSA || key.ProviderName() != "FakeCNG" {
		t.Fatalf("key = %v from %q", key.Type(), key.ProviderName())
	}
	priv := f.Key.(*rsa.PrivateKey)
	digest := sha256.Sum256([]byte("<SignedInfo/>"))

	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if ok, err := key.Verify(digest[:], sig, crypto.SHA256); err != nil || !ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}
	tampered := append([]byte(nil), sig...)
	tampered[10] ^= 0x01
	if ok, err := key.Verify(digest[:], tampered, crypto.SHA256); err != nil || ok {
		t.Fatalf("tampered Verify = %v, %v; want false, nil", ok, err)
	}
	if _, err := key.Verify(digest[:], sig[1:], crypto.SHA256); !errors.Is(err, xsec.ErrVerification) {
		t.Fatalf("short signature: %v", err)
	}

	pss, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		t.Fatalf("sign pss: %v", err)
	}
	opts := &rsa.PSSOptions{Hash: crypto.SHA256, SaltLength: rsa.PSSSaltLengthEqualsHash}
	if ok, err := key.Verify(digest[:], pss, opts); err != nil || !ok {
		t.Fatalf("PSS Verify = %v, %v", ok, err)
	}
	if ok, _ := key.Verify(digest[:], pss, crypto.SHA256); ok {
		t.Fatalf("PSS signature accepted as PKCS#1 v1.5")
	}
}

func TestDSAVerify(t *testing.T) {
	api := newFakeAPI()
	p := newProvider(t, api)
	f := xsectest.DSA(t)
	c := load(t, p, f)
	if kt, err := c.PublicKeyType(); err != nil || kt != xsec.KeyTypeDSA {
		t.Fatalf("PublicKeyType = %v, %v", kt, err)
	}
	key, err := c.ClonePublicKey()
	if err != nil {
		t.Fatalf("ClonePublicKey: %v", err)
	}

	digest := sha1.Sum([]byte("<SignedInfo/>"))
	r, s, err := dsa.Sign(rand.Reader, f.Key.(*dsa.PrivateKey), digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw := xsec.JoinDSASignature(r, s, 20)
	if ok, err := key.Verify(digest[:], raw, crypto.SHA1); err != nil || !ok {
		t.Fatalf("raw Verify = %v, %v", ok, err)
	}
	der, err := asn1.Marshal(struct{ R, S *big.Int }{r, s})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if ok, err := key.Verify(digest[:], der, crypto.SHA1); err != nil || !ok {
		t.Fatalf("DER Verify = %v, %v", ok, err)
	}
	raw[5] ^= 0x80
	if ok, err := key.Verify(digest[:], raw, crypto.SHA1); err != nil || ok {
		t.Fatalf("tampered Verify = %v, %v; want false, nil", ok, err)
	}
	if _, err := key.Verify(digest[:], raw[:30], crypto.SHA1); !errors.Is(err, xsec.ErrVerification) {
		t.Fatalf("short signature: %v", err)
	}
	zero := make([]byte, 40)
	if ok, err := key.Verify(digest[:], zero, crypto.SHA1); err != nil || ok {
		t.Fatalf("zero signature = %v, %v", ok, err)
	}

	// A SHA-256 digest is cut to the 160-bit subgroup before verification.
	long := sha256.Sum256([]byte("<SignedInfo/>"))
	r, s, err = dsa.Sign(rand.Reader, f.Key.(*dsa.PrivateKey), long[:20])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if ok, err := key.Verify(long[:], xsec.JoinDSASignature(r, s, 20), crypto.SHA256); err != nil || !ok {
		t.Fatalf("sha256 Verify = %v, %v", ok, err)
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	api := newFakeAPI()
	p := newProvider(t, api)
	c := load(t, p, xsectest.Ed25519(t))
	if _, err := c.PublicKeyType(); !errors.Is(err, xsec.ErrUnsupportedAlgorithm) {
		t.Fatalf("PublicKeyType: %v", err)
	}
	if _, err := c.ClonePublicKey(); !errors.Is(err, xsec.ErrUnsupportedAlgorithm) {
		t.Fatalf("ClonePublicKey: %v", err)
	}
	assertLive(t, api, 2, 1, 0)
}

func TestClonePublicKeyExportFailures(t *testing.T) {
	tests := []struct {
		name   string
		refuse func(*fakeAPI)
	}{
		{"export refused", func(f *fakeAPI) { f.failExport = true }},
		{"key value refused", func(f *fakeAPI) { f.failKeyValue = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			p := newProvider(t, api)
			c := load(t, p, xsectest.RSA(t, 1024))
			tt.refuse(api)
			if _, err := c.ClonePublicKey(); !errors.Is(err, xsec.ErrKeyExtraction) {
				t.Fatalf("ClonePublicKey: %v", err)
			}
			assertLive(t, api, 2, 1, 0)
			if v := testutil.ToFloat64(p.metrics.open.WithLabelValues(kindKey)); v != 0 {
				t.Fatalf("open key gauge = %v", v)
			}
			if kt, err := c.PublicKeyType(); err != nil || kt != xsec.KeyTypeRSA {
				t.Fatalf("certificate unusable after failed clone: %v, %v", kt, err)
			}
		})
	}
}

func TestKeyOutlivesCertificate(t *testing.T) {
	api := newFakeAPI()
	p := newProvider(t, api)
	f := xsectest.RSA(t, 1024)
	c := load(t, p, f)
	key, err := c.ClonePublicKey()
	if err != nil {
		t.Fatalf("ClonePublicKey: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.PublicKeyType(); !errors.Is(err, xsec.ErrDestroyed) {
		t.Fatalf("closed certificate: %v", err)
	}
	digest := sha256.Sum256([]byte("payload"))
	sig, _ := rsa.SignPKCS1v15(rand.Reader, f.Key.(*rsa.PrivateKey), crypto.SHA256, digest[:])
	if ok, err := key.Verify(digest[:], sig, crypto.SHA256); err != nil || !ok {
		t.Fatalf("Verify after certificate close = %v, %v", ok, err)
	}

	clone, err := key.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	assertLive(t, api, 2, 0, 2)
	if !clone.Equal(key) {
		t.Fatalf("clone differs from original")
	}
	if err := key.Close(); err != nil {
		t.Fatalf("key Close: %v", err)
	}
	if _, err := key.Verify(digest[:], sig, crypto.SHA256); !errors.Is(err, xsec.ErrDestroyed) {
		t.Fatalf("Verify on closed key: %v", err)
	}
	if ok, err := clone.Verify(digest[:], sig, crypto.SHA256); err != nil || !ok {
		t.Fatalf("clone Verify = %v, %v", ok, err)
	}
	_ = clone.Close()
	assertLive(t, api, 2, 0, 0)
}

func TestCreateKeyFromRaw(t *testing.T) {
	api := newFakeAPI()
	p := newProvider(t, api)
	for _, f := range []*xsectest.Fixture{xsectest.RSA(t, 1024), xsectest.DSA(t)} {
		raw, err := xsec.RawFromPublic(f.Public())
		if err != nil {
			t.Fatalf("RawFromPublic: %v", err)
		}
		k, err := p.CreateKeyFromRaw(raw)
		if err != nil {
			t.Fatalf("CreateKeyFromRaw(%s): %v", raw.Type(), err)
		}
		c := load(t, p, f)
		fromCert, err := c.ClonePublicKey()
		if err != nil {
			t.Fatalf("ClonePublicKey: %v", err)
		}
		if !k.Equal(fromCert) {
			t.Fatalf("%s: raw key differs from certificate key", raw.Type())
		}
	}
	if _, err := p.CreateKeyFromRaw(xsec.RSAKeyValue{Modulus: []byte{1}}); !errors.Is(err, xsec.ErrKeyExtraction) {
		t.Fatalf("bad raw key: %v", err)
	}
	if _, err := p.CreateKeyFromRaw(nil); !errors.Is(err, xsec.ErrUnsupportedAlgorithm) {
		t.Fatalf("nil raw key: %v", err)
	}
}

func TestProviderCloseReleasesDependents(t *testing.T) {
	api := newFakeAPI()
	p, err := New(api, xsec.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f := xsectest.RSA(t, 1024)
	c := load(t, p, f)
	key, err := c.ClonePublicKey()
	if err != nil {
		t.Fatalf("ClonePublicKey: %v", err)
	}
	empty, _ := p.NewX509()
	assertLive(t, api, 2, 1, 1)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	assertLive(t, api, 0, 0, 0)

	digest := sha256.Sum256([]byte("x"))
	if _, err := key.Verify(digest[:], make([]byte, 128), crypto.SHA256); !errors.Is(err, xsec.ErrDestroyed) {
		t.Fatalf("Verify after provider close: %v", err)
	}
	if err := c.LoadBase64(f.Base64, len(f.Base64)); !errors.Is(err, xsec.ErrDestroyed) {
		t.Fatalf("LoadBase64 after provider close: %v", err)
	}
	if _, err := p.NewX509(); !errors.Is(err, xsec.ErrDestroyed) {
		t.Fatalf("NewX509 after close: %v", err)
	}
	for _, closer := range []interface{ Close() error }{c, key, empty} {
		if err := closer.Close(); err != nil {
			t.Fatalf("Close after provider close: %v", err)
		}
	}
	assertLive(t, api, 0, 0, 0)
}

func TestProviderCloseAggregatesErrors(t *testing.T) {
	api := newFakeAPI()
	p, err := New(api, xsec.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	api.failClose = true
	err = p.Close()
	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 2 {
		t.Fatalf("Close = %v, want two aggregated failures", err)
	}
	assertLive(t, api, 0, 0, 0)
}

func TestHandleMetrics(t *testing.T) {
	api := newFakeAPI()
	reg := prometheus.NewRegistry()
	p, err := New(api, xsec.Options{Registerer: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	gauge := func(kind string) float64 { return testutil.ToFloat64(p.metrics.open.WithLabelValues(kind)) }

	c := load(t, p, xsectest.RSA(t, 1024))
	if _, err := c.ClonePublicKey(); err != nil {
		t.Fatalf("ClonePublicKey: %v", err)
	}
	bad := []byte("AAAA")
	_ = c.LoadBase64(bad, len(bad))
	if gauge(kindAlgorithm) != 2 || gauge(kindCertificate) != 1 || gauge(kindKey) != 1 {
		t.Fatalf("gauges alg=%v cert=%v key=%v", gauge(kindAlgorithm), gauge(kindCertificate), gauge(kindKey))
	}
	if got := testutil.ToFloat64(p.metrics.failures.WithLabelValues(kindCertificate)); got != 1 {
		t.Fatalf("certificate failures = %v", got)
	}
	if n, err := testutil.GatherAndCount(reg, "xsec_native_open_handles"); err != nil || n != 3 {
		t.Fatalf("gathered %d series, %v", n, err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, kind := range []string{kindAlgorithm, kindCertificate, kindKey} {
		if gauge(kind) != 0 {
			t.Fatalf("%s gauge = %v after Close", kind, gauge(kind))
		}
	}

	// A second provider on the same registry shares the collectors.
	p2, err := New(newFakeAPI(), xsec.Options{Registerer: reg})
	if err != nil {
		t.Fatalf("New on reused registry: %v", err)
	}
	defer p2.Close()
	if p2.metrics.open != p.metrics.open {
		t.Fatalf("collectors not shared")
	}
}

func TestConcurrentIndependentCertificates(t *testing.T) {
	api := newFakeAPI()
	p := newProvider(t, api)
	f := xsectest.RSA(t, 1024)
	digest := sha256.Sum256([]byte("concurrent"))
	sig, err := rsa.SignPKCS1v15(rand.Reader, f.Key.(*rsa.PrivateKey), crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.NewX509()
			if err != nil {
				errs <- err
				return
			}
			defer c.Close()
			if err := c.LoadBase64(f.Base64, len(f.Base64)); err != nil {
				errs <- err
				return
			}
			k, err := c.ClonePublicKey()
			if err != nil {
				errs <- err
				return
			}
			defer k.Close()
			if ok, err := k.Verify(digest[:], sig, crypto.SHA256); err != nil || !ok {
				errs <- errors.New("verify failed")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	assertLive(t, api, 2, 0, 0)
}

func TestRegistryBackend(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("CNG is available; covered by the fake-backed tests")
	}
	t.Cleanup(func() { _ = xsec.Shutdown() })
	if _, err := xsec.Initialize(BackendName, xsec.Options{}); !errors.Is(err, xsec.ErrProviderInit) {
		t.Fatalf("Initialize(native) = %v, want provider init error", err)
	}
}
