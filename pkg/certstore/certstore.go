// Package certstore persists certificates that passed through the crypto
// layer, keyed by the SHA-256 fingerprint of their DER encoding. Signature
// verification looks certificates up here when a KeyInfo only carries a
// reference.
package certstore

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"xsec-crypto/pkg/xsec"
)

// ErrNotFound is returned by Get and Delete for an unknown fingerprint.
var ErrNotFound = errors.New("certstore: certificate not found")

// Record is one stored certificate.
type Record struct {
	ID          uuid.UUID `json:"id"`
	Fingerprint string    `json:"fingerprint"` // lowercase hex SHA-256 of DER
	Label       string    `json:"label"`
	KeyType     string    `json:"key_type"`
	Provider    string    `json:"provider"`
	DER         []byte    `json:"der"`
	AddedAt     time.Time `json:"added_at"`
}

// Store describes the persistence used by the tools.
type Store interface {
	// Init creates the schema if needed.
	Init() error

	// Put inserts rec, or updates label, key type and provider of the
	// record with the same fingerprint. The stored record is returned; an
	// update keeps the original ID and AddedAt.
	Put(rec Record) (Record, error)

	Get(fingerprint string) (Record, error)

	// List returns every record, oldest first.
	List() ([]Record, error)

	Delete(fingerprint string) error
	Close() error
}

// Fingerprint returns the lowercase hex SHA-256 of der.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// NormalizeFingerprint accepts upper case and colon separated forms.
func NormalizeFingerprint(fp string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(fp), ":", ""))
}

// NewRecord describes a loaded certificate. Certificates whose key family is
// not supported are still recorded, with key type "unknown".
func NewRecord(cert xsec.X509, label string) (Record, error) {
	der := cert.DEREncoding()
	if der == nil {
		return Record{}, xsec.E(xsec.KindNotLoaded, "certstore.NewRecord", nil)
	}
	kt, err := cert.PublicKeyType()
	if err != nil && !xsec.IsKind(err, xsec.KindUnsupportedAlgorithm) {
		return Record{}, err
	}
	return Record{
		ID:          uuid.New(),
		Fingerprint: Fingerprint(der),
		Label:       label,
		KeyType:     kt.String(),
		Provider:    cert.ProviderName(),
		DER:         der,
		AddedAt:     time.Now().UTC().Truncate(time.Second),
	}, nil
}

// Open connects to the named driver: "sqlite" (dsn is a file path),
// "postgres" (dsn is a connection URL) or "bolt" (dsn is a file path).
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(dsn)
	case "bolt":
		return OpenBolt(dsn)
	default:
		return nil, errors.Errorf("certstore: unknown driver %q", driver)
	}
}

func validate(rec Record) error {
	if len(rec.DER) == 0 {
		return errors.New("certstore: record has no DER")
	}
	if rec.Fingerprint != Fingerprint(rec.DER) {
		return errors.Errorf("certstore: fingerprint %s does not match DER", rec.Fingerprint)
	}
	if rec.ID == uuid.Nil {
		return errors.New("certstore: record has no ID")
	}
	return nil
}
