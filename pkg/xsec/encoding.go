package xsec

import (
	"encoding/base64"
)

// DecodeBase64 decodes the first n bytes of buf. The input is length-driven:
// an embedded NUL is malformed data, not a terminator. ASCII whitespace is
// skipped so that wrapped ds:X509Certificate text decodes as-is.
func DecodeBase64(buf []byte, n int) ([]byte, error) {
	const op = "xsec.DecodeBase64"
	if n < 0 || n > len(buf) {
		return nil, Ef(KindDecoding, op, "length %d outside buffer of %d bytes", n, len(buf))
	}
	clean := make([]byte, 0, n)
	for _, c := range buf[:n] {
		switch c {
		case ' ', '\t', '\r', '\n', '\f', '\v':
			continue
		}
		clean = append(clean, c)
	}
	if len(clean) == 0 {
		return nil, Ef(KindDecoding, op, "no base64 data")
	}
	out := make([]byte, base64.StdEncoding.DecodedLen(len(clean)))
	m, err := base64.StdEncoding.Strict().Decode(out, clean)
	if err != nil {
		return nil, E(KindDecoding, op, err)
	}
	return out[:m], nil
}

// EncodeBase64 is the inverse of DecodeBase64 for a whole DER buffer.
func EncodeBase64(der []byte) []byte {
	out := make([]byte, base64.StdEncoding.EncodedLen(len(der)))
	base64.StdEncoding.Encode(out, der)
	return out
}
