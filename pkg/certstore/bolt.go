package certstore

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var bucketCertificates = []byte("certificates_by_fingerprint")

// boltStore keeps one JSON-encoded Record per fingerprint.
type boltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the bbolt file at path.
func OpenBolt(path string) (Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "bolt: open")
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCertificates)
		return errors.Wrap(err, "bolt: create bucket")
	})
}

func (s *boltStore) Put(rec Record) (Record, error) {
	if err := validate(rec); err != nil {
		return Record{}, err
	}
	var stored Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		if b == nil {
			return errors.New("bolt: store not initialized")
		}
		key := []byte(rec.Fingerprint)
		stored = rec
		if prev := b.Get(key); prev != nil {
			var old Record
			if err := json.Unmarshal(prev, &old); err != nil {
				return errors.Wrapf(err, "bolt: decode %s", rec.Fingerprint)
			}
			stored.ID, stored.AddedAt = old.ID, old.AddedAt
		}
		stored.AddedAt = stored.AddedAt.UTC().Truncate(time.Second)
		v, err := json.Marshal(stored)
		if err != nil {
			return errors.Wrap(err, "bolt: encode")
		}
		return b.Put(key, v)
	})
	if err != nil {
		return Record{}, err
	}
	return stored, nil
}

func (s *boltStore) Get(fingerprint string) (Record, error) {
	fp := NormalizeFingerprint(fingerprint)
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		if b == nil {
			return errors.New("bolt: store not initialized")
		}
		v := b.Get([]byte(fp))
		if v == nil {
			return errors.Wrapf(ErrNotFound, "bolt: %s", fp)
		}
		return errors.Wrapf(json.Unmarshal(v, &rec), "bolt: decode %s", fp)
	})
	return rec, err
}

func (s *boltStore) List() ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		if b == nil {
			return errors.New("bolt: store not initialized")
		}
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return errors.Wrapf(err, "bolt: decode %s", k)
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// Keys are fingerprints; order by insertion time like the SQL drivers.
	sort.SliceStable(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out, nil
}

func (s *boltStore) Delete(fingerprint string) error {
	fp := NormalizeFingerprint(fingerprint)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCertificates)
		if b == nil {
			return errors.New("bolt: store not initialized")
		}
		if b.Get([]byte(fp)) == nil {
			return errors.Wrapf(ErrNotFound, "bolt: %s", fp)
		}
		return b.Delete([]byte(fp))
	})
}

func (s *boltStore) Close() error { return s.db.Close() }
