// Package xsec defines the crypto-provider-agnostic surface used by the XML
// signature engine: keys, X.509 certificates and the provider that builds
// them. Backends (native OS API, software) implement these interfaces and
// register themselves with Register.
package xsec

import (
	"crypto"
	"strings"
)

// KeyType is the abstract algorithm family of a key.
type KeyType int

const (
	KeyTypeUnknown KeyType = iota
	KeyTypeRSA
	KeyTypeDSA
)

func (t KeyType) String() string {
	switch t {
	case KeyTypeRSA:
		return "rsa"
	case KeyTypeDSA:
		return "dsa"
	default:
		return "unknown"
	}
}

// ParseKeyType is the inverse of KeyType.String. Unrecognised names map to
// KeyTypeUnknown.
func ParseKeyType(s string) KeyType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rsa":
		return KeyTypeRSA
	case "dsa", "dss":
		return KeyTypeDSA
	default:
		return KeyTypeUnknown
	}
}

// SupportedKeyTypes lists the families a provider holds a handle for.
var SupportedKeyTypes = []KeyType{KeyTypeRSA, KeyTypeDSA}

// Key is an asymmetric public key of a fixed family. Keys are immutable
// after construction and own their key material.
type Key interface {
	Type() KeyType
	ProviderName() string

	// Verify checks sig over digest. opts selects the hash and, for RSA,
	// the padding (crypto.Hash for PKCS#1 v1.5, *rsa.PSSOptions for PSS).
	// A well-formed signature that does not verify yields (false, nil);
	// malformed inputs yield a KindVerification error.
	Verify(digest, sig []byte, opts crypto.SignerOpts) (bool, error)

	// Public returns a copy of the key material.
	Public() (RawKey, error)

	// Equal reports whether other holds the same key material.
	Equal(other Key) bool

	// Clone returns an independent key sharing no mutable state.
	Clone() (Key, error)

	Close() error
}

// SigningKey is a Key that also holds the private half.
type SigningKey interface {
	Key
	Sign(digest []byte, opts crypto.SignerOpts) ([]byte, error)
}

// X509 is a certificate bound to the provider that created it.
type X509 interface {
	// LoadBase64 decodes the first n bytes of buf as Base64 DER and replaces
	// the current certificate. Loads are all-or-nothing.
	LoadBase64(buf []byte, n int) error

	// DEREncoding returns the DER bytes of the last successful load.
	DEREncoding() []byte

	PublicKeyType() (KeyType, error)

	// ClonePublicKey returns a Key that stays valid after the certificate
	// is closed or reloaded.
	ClonePublicKey() (Key, error)

	// ProviderName identifies the backend that produced the object.
	ProviderName() string

	Close() error
}

// Provider is the backend-specific factory for certificates and keys.
// Objects it creates must be closed before the provider itself.
type Provider interface {
	Name() string
	NewX509() (X509, error)
	CreateKeyFromRaw(raw RawKey) (Key, error)
	Close() error
}
