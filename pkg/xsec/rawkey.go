package xsec

import (
	"bytes"
	"crypto/dsa" //nolint:staticcheck // DSA is still part of XML-DSig.
	"crypto/rsa"
	"errors"
	"math/big"
)

// RawKey is key material independent of any backend. The set of variants is
// closed: RSAKeyValue and DSAKeyValue.
type RawKey interface {
	Type() KeyType
	rawKey()
}

// RSAKeyValue holds an RSA public key as big-endian unsigned integers, as in
// the XML-DSig RSAKeyValue element.
type RSAKeyValue struct {
	Modulus  []byte
	Exponent []byte
}

func (RSAKeyValue) Type() KeyType { return KeyTypeRSA }
func (RSAKeyValue) rawKey()       {}

// DSAKeyValue holds DSA domain parameters and the public value.
type DSAKeyValue struct {
	P, Q, G, Y []byte
}

func (DSAKeyValue) Type() KeyType { return KeyTypeDSA }
func (DSAKeyValue) rawKey()       {}

// RawFromPublic converts a Go public key into a RawKey.
func RawFromPublic(pub any) (RawKey, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return RSAKeyValue{
			Modulus:  k.N.Bytes(),
			Exponent: big.NewInt(int64(k.E)).Bytes(),
		}, nil
	case *dsa.PublicKey:
		return DSAKeyValue{
			P: k.P.Bytes(),
			Q: k.Q.Bytes(),
			G: k.G.Bytes(),
			Y: k.Y.Bytes(),
		}, nil
	default:
		return nil, Ef(KindUnsupportedAlgorithm, "xsec.RawFromPublic", "public key type %T", pub)
	}
}

// RSAPublicKey converts v into a freshly allocated *rsa.PublicKey.
func (v RSAKeyValue) RSAPublicKey() (*rsa.PublicKey, error) {
	n := new(big.Int).SetBytes(v.Modulus)
	e := new(big.Int).SetBytes(v.Exponent)
	if n.Sign() == 0 || e.Sign() == 0 {
		return nil, errors.New("empty modulus or exponent")
	}
	if !e.IsInt64() || e.Int64() > 1<<31-1 || e.Int64() < 3 {
		return nil, errors.New("public exponent out of range")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// DSAPublicKey converts v into a freshly allocated *dsa.PublicKey.
func (v DSAKeyValue) DSAPublicKey() (*dsa.PublicKey, error) {
	k := &dsa.PublicKey{
		Parameters: dsa.Parameters{
			P: new(big.Int).SetBytes(v.P),
			Q: new(big.Int).SetBytes(v.Q),
			G: new(big.Int).SetBytes(v.G),
		},
		Y: new(big.Int).SetBytes(v.Y),
	}
	if k.P.Sign() == 0 || k.Q.Sign() == 0 || k.G.Sign() == 0 || k.Y.Sign() == 0 {
		return nil, errors.New("missing DSA parameter")
	}
	return k, nil
}

// EqualRaw compares two RawKey values numerically, ignoring leading zeros.
func EqualRaw(a, b RawKey) bool {
	switch x := a.(type) {
	case RSAKeyValue:
		y, ok := b.(RSAKeyValue)
		return ok && eqInt(x.Modulus, y.Modulus) && eqInt(x.Exponent, y.Exponent)
	case DSAKeyValue:
		y, ok := b.(DSAKeyValue)
		return ok && eqInt(x.P, y.P) && eqInt(x.Q, y.Q) && eqInt(x.G, y.G) && eqInt(x.Y, y.Y)
	default:
		return false
	}
}

func eqInt(a, b []byte) bool {
	return bytes.Equal(bytes.TrimLeft(a, "\x00"), bytes.TrimLeft(b, "\x00"))
}
