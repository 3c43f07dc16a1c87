// Package native describes the handful of OS crypto operations the
// native-backed provider depends on, and implements them on Windows with
// CNG (bcrypt.dll) and crypt32.dll. Any subsystem exposing the same
// operations can stand in for it.
package native

import (
	"errors"

	"xsec-crypto/pkg/xsec"
)

// Handle is an opaque native object: an algorithm provider, a certificate
// context or a key. Zero is never a valid handle.
type Handle uintptr

// ErrUnavailable is returned by Open when the platform has no supported
// native crypto subsystem.
var ErrUnavailable = errors.New("native crypto subsystem unavailable on this platform")

// API is the native crypto contract. Every handle returned by an Open*,
// Export*, Import* or Duplicate* call must be released exactly once with
// the matching Close*/Destroy* call.
type API interface {
	// Name identifies the subsystem, e.g. "WinCNG".
	Name() string

	OpenAlgorithm(kt xsec.KeyType, implementation string) (Handle, error)
	CloseAlgorithm(alg Handle) error

	OpenCertificate(der []byte) (Handle, error)
	CloseCertificate(cert Handle) error

	// PublicKeyAlgorithm returns the dotted OID of the subject key.
	PublicKeyAlgorithm(cert Handle) (string, error)

	// ExportPublicKey extracts the subject key of cert into a key bound to alg.
	ExportPublicKey(cert, alg Handle) (Handle, error)
	ImportPublicKey(alg Handle, raw xsec.RawKey) (Handle, error)
	ExportKeyValue(key Handle) (xsec.RawKey, error)
	DuplicateKey(alg, key Handle) (Handle, error)
	DestroyKey(key Handle) error

	// VerifySignature reports (false, nil) for a well-formed signature
	// that does not match.
	VerifySignature(key Handle, digest, sig []byte, params xsec.VerifyParams) (bool, error)
}

// Object identifiers of the subject public key algorithms the layer maps.
const (
	OIDRSAEncryption = "1.2.840.113549.1.1.1"
	OIDDSA           = "1.2.840.10040.4.1"
	OIDOIWDSA        = "1.3.14.3.2.12"
)

// KeyTypeForOID maps a subject public key algorithm to its family.
func KeyTypeForOID(oid string) xsec.KeyType {
	switch oid {
	case OIDRSAEncryption:
		return xsec.KeyTypeRSA
	case OIDDSA, OIDOIWDSA:
		return xsec.KeyTypeDSA
	default:
		return xsec.KeyTypeUnknown
	}
}
