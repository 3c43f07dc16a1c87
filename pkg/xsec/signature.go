package xsec

import (
	"crypto"
	"crypto/rsa"
	_ "crypto/sha1" // hash registrations for crypto.Hash.Available
	_ "crypto/sha256"
	_ "crypto/sha512"
	"errors"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// Scheme is the signature scheme resolved for a verify call.
type Scheme int

const (
	SchemePKCS1v15 Scheme = iota + 1
	SchemePSS
	SchemeDSA
)

// VerifyParams is the backend-independent form of a verify request.
type VerifyParams struct {
	Scheme Scheme
	Hash   crypto.Hash
	// SaltLength follows rsa.PSSOptions semantics. Only set for SchemePSS.
	SaltLength int
}

// ResolveVerify validates digest against opts for a key of type t and picks
// the signature scheme. Every failure is a KindVerification error.
func ResolveVerify(t KeyType, digest []byte, opts crypto.SignerOpts) (VerifyParams, error) {
	const op = "key.Verify"
	if opts == nil {
		return VerifyParams{}, Ef(KindVerification, op, "no hash selected")
	}
	h := opts.HashFunc()
	if h == 0 || !h.Available() {
		return VerifyParams{}, Ef(KindVerification, op, "hash %v not available", h)
	}
	if len(digest) != h.Size() {
		return VerifyParams{}, Ef(KindVerification, op, "digest is %d bytes, %v needs %d", len(digest), h, h.Size())
	}
	pss, isPSS := opts.(*rsa.PSSOptions)
	switch t {
	case KeyTypeRSA:
		if isPSS {
			return VerifyParams{Scheme: SchemePSS, Hash: h, SaltLength: pss.SaltLength}, nil
		}
		return VerifyParams{Scheme: SchemePKCS1v15, Hash: h}, nil
	case KeyTypeDSA:
		if isPSS {
			return VerifyParams{}, Ef(KindVerification, op, "PSS padding requested for a DSA key")
		}
		return VerifyParams{Scheme: SchemeDSA, Hash: h}, nil
	default:
		return VerifyParams{}, E(KindUnsupportedAlgorithm, op, nil)
	}
}

// SplitDSASignature returns r and s from either an ASN.1 Dss-Sig-Value or
// the XML-DSig raw form (r||s, each qLen bytes). A buffer that parses
// completely as a Dss-Sig-Value is taken as DER even when it is 2*qLen
// bytes long.
func SplitDSASignature(sig []byte, qLen int) (r, s *big.Int, err error) {
	const op = "key.Verify"
	if qLen <= 0 {
		return nil, nil, Ef(KindVerification, op, "invalid subgroup size")
	}
	if len(sig) > 0 && sig[0] == 0x30 {
		if r, s, ok := parseDssSigValue(sig); ok {
			return r, s, nil
		}
	}
	if len(sig) == 2*qLen {
		return new(big.Int).SetBytes(sig[:qLen]), new(big.Int).SetBytes(sig[qLen:]), nil
	}
	return nil, nil, E(KindVerification, op, errors.New("DSA signature is neither r||s nor Dss-Sig-Value"))
}

func parseDssSigValue(sig []byte) (r, s *big.Int, ok bool) {
	r, s = new(big.Int), new(big.Int)
	in := cryptobyte.String(sig)
	var inner cryptobyte.String
	if !in.ReadASN1(&inner, asn1.SEQUENCE) || !in.Empty() ||
		!inner.ReadASN1Integer(r) || !inner.ReadASN1Integer(s) || !inner.Empty() {
		return nil, nil, false
	}
	return r, s, true
}

// JoinDSASignature encodes r and s in the XML-DSig raw form.
func JoinDSASignature(r, s *big.Int, qLen int) []byte {
	out := make([]byte, 2*qLen)
	r.FillBytes(out[:qLen])
	s.FillBytes(out[qLen:])
	return out
}

// TruncateDSADigest keeps the leftmost qLen bytes of a digest longer than
// the subgroup (FIPS 186-3 4.6).
func TruncateDSADigest(digest []byte, qLen int) []byte {
	if qLen > 0 && len(digest) > qLen {
		return digest[:qLen]
	}
	return digest
}
