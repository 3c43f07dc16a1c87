package native

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"xsec-crypto/pkg/xsec"
)

// CNG public key blob layouts (bcrypt.h). Header fields are little-endian,
// key integers big-endian.
const (
	BlobTypeRSAPublic = "RSAPUBLICBLOB"
	BlobTypeDSAPublic = "DSAPUBLICBLOB"

	rsaPublicMagic = 0x31415352 // "RSA1"
	dsaPublicMagic = 0x42505344 // "DSPB"

	rsaHeaderLen = 6 * 4
	dsaHeaderLen = 4 + 4 + 4 + 20 + 20
	dsaQLen      = 20
	dsaMaxKeyLen = 128
)

// MarshalRSAPublicBlob encodes v as a BCRYPT_RSAKEY_BLOB.
func MarshalRSAPublicBlob(v xsec.RSAKeyValue) ([]byte, error) {
	mod := trim(v.Modulus)
	exp := trim(v.Exponent)
	if len(mod) == 0 || len(exp) == 0 {
		return nil, fmt.Errorf("rsa blob: empty modulus or exponent")
	}
	var buf bytes.Buffer
	hdr := [6]uint32{
		rsaPublicMagic,
		uint32(new(big.Int).SetBytes(mod).BitLen()),
		uint32(len(exp)),
		uint32(len(mod)),
		0, 0,
	}
	_ = binary.Write(&buf, binary.LittleEndian, hdr)
	buf.Write(exp)
	buf.Write(mod)
	return buf.Bytes(), nil
}

// UnmarshalRSAPublicBlob decodes a BCRYPT_RSAKEY_BLOB with public magic.
func UnmarshalRSAPublicBlob(b []byte) (xsec.RSAKeyValue, error) {
	if len(b) < rsaHeaderLen {
		return xsec.RSAKeyValue{}, fmt.Errorf("rsa blob: %d bytes", len(b))
	}
	var hdr [6]uint32
	_ = binary.Read(bytes.NewReader(b[:rsaHeaderLen]), binary.LittleEndian, &hdr)
	if hdr[0] != rsaPublicMagic {
		return xsec.RSAKeyValue{}, fmt.Errorf("rsa blob: magic %#x", hdr[0])
	}
	cbExp, cbMod := int(hdr[2]), int(hdr[3])
	body := b[rsaHeaderLen:]
	if cbExp <= 0 || cbMod <= 0 || len(body) < cbExp+cbMod {
		return xsec.RSAKeyValue{}, fmt.Errorf("rsa blob: truncated body")
	}
	return xsec.RSAKeyValue{
		Exponent: clone(body[:cbExp]),
		Modulus:  clone(body[cbExp : cbExp+cbMod]),
	}, nil
}

// MarshalDSAPublicBlob encodes v as a BCRYPT_DSA_KEY_BLOB. CNG's v1 blob
// only carries keys up to 1024 bits with a 160-bit subgroup.
func MarshalDSAPublicBlob(v xsec.DSAKeyValue) ([]byte, error) {
	p := trim(v.P)
	cbKey := len(p)
	if cbKey == 0 || cbKey > dsaMaxKeyLen || cbKey%8 != 0 {
		return nil, fmt.Errorf("dsa blob: %d-bit modulus not supported", cbKey*8)
	}
	q, g, y := trim(v.Q), trim(v.G), trim(v.Y)
	if len(q) == 0 || len(q) > dsaQLen || len(g) == 0 || len(g) > cbKey || len(y) == 0 || len(y) > cbKey {
		return nil, fmt.Errorf("dsa blob: parameters do not fit a %d-bit key", cbKey*8)
	}
	out := make([]byte, dsaHeaderLen+3*cbKey)
	binary.LittleEndian.PutUint32(out[0:], dsaPublicMagic)
	binary.LittleEndian.PutUint32(out[4:], uint32(cbKey))
	// Count and Seed unknown: all 0xff skips the generation check.
	for i := 8; i < 8+4+20; i++ {
		out[i] = 0xff
	}
	copy(out[32+dsaQLen-len(q):32+dsaQLen], q)
	body := out[dsaHeaderLen:]
	copy(body[cbKey-len(p):cbKey], p)
	copy(body[2*cbKey-len(g):2*cbKey], g)
	copy(body[3*cbKey-len(y):], y)
	return out, nil
}

// UnmarshalDSAPublicBlob decodes a BCRYPT_DSA_KEY_BLOB with public magic.
func UnmarshalDSAPublicBlob(b []byte) (xsec.DSAKeyValue, error) {
	if len(b) < dsaHeaderLen {
		return xsec.DSAKeyValue{}, fmt.Errorf("dsa blob: %d bytes", len(b))
	}
	if m := binary.LittleEndian.Uint32(b); m != dsaPublicMagic {
		return xsec.DSAKeyValue{}, fmt.Errorf("dsa blob: magic %#x", m)
	}
	cbKey := int(binary.LittleEndian.Uint32(b[4:]))
	body := b[dsaHeaderLen:]
	if cbKey <= 0 || len(body) < 3*cbKey {
		return xsec.DSAKeyValue{}, fmt.Errorf("dsa blob: truncated body")
	}
	return xsec.DSAKeyValue{
		P: clone(body[:cbKey]),
		Q: clone(b[32 : 32+dsaQLen]),
		G: clone(body[cbKey : 2*cbKey]),
		Y: clone(body[2*cbKey : 3*cbKey]),
	}, nil
}

// MarshalPublicBlob picks the blob layout for raw.
func MarshalPublicBlob(raw xsec.RawKey) (blobType string, blob []byte, err error) {
	switch v := raw.(type) {
	case xsec.RSAKeyValue:
		blob, err = MarshalRSAPublicBlob(v)
		return BlobTypeRSAPublic, blob, err
	case xsec.DSAKeyValue:
		blob, err = MarshalDSAPublicBlob(v)
		return BlobTypeDSAPublic, blob, err
	default:
		return "", nil, fmt.Errorf("no blob layout for %T", raw)
	}
}

// BlobTypeFor returns the public blob type of a key family.
func BlobTypeFor(kt xsec.KeyType) (string, bool) {
	switch kt {
	case xsec.KeyTypeRSA:
		return BlobTypeRSAPublic, true
	case xsec.KeyTypeDSA:
		return BlobTypeDSAPublic, true
	default:
		return "", false
	}
}

// UnmarshalPublicBlob decodes a blob of the given type.
func UnmarshalPublicBlob(blobType string, b []byte) (xsec.RawKey, error) {
	switch blobType {
	case BlobTypeRSAPublic:
		return UnmarshalRSAPublicBlob(b)
	case BlobTypeDSAPublic:
		return UnmarshalDSAPublicBlob(b)
	default:
		return nil, fmt.Errorf("unknown blob type %q", blobType)
	}
}

func trim(b []byte) []byte { return bytes.TrimLeft(b, "\x00") }

func clone(b []byte) []byte { return append([]byte(nil), b...) }
