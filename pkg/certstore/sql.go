package certstore

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// dialect holds the statements that differ between SQL drivers.
type dialect struct {
	name   string
	schema []string
	upsert string
	get    string
	list   string
	del    string
}

// sqlStore implements Store over database/sql.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) Init() error {
	for _, q := range s.d.schema {
		if _, err := s.db.Exec(q); err != nil {
			return errors.Wrapf(err, "%s: init schema", s.d.name)
		}
	}
	return nil
}

func (s *sqlStore) Put(rec Record) (Record, error) {
	if err := validate(rec); err != nil {
		return Record{}, err
	}
	_, err := s.db.Exec(s.d.upsert,
		rec.ID.String(), rec.Fingerprint, rec.Label, rec.KeyType, rec.Provider, rec.DER, rec.AddedAt.Unix())
	if err != nil {
		return Record{}, errors.Wrapf(err, "%s: put %s", s.d.name, rec.Fingerprint)
	}
	return s.Get(rec.Fingerprint)
}

func (s *sqlStore) Get(fingerprint string) (Record, error) {
	fp := NormalizeFingerprint(fingerprint)
	rec, err := scanRecord(s.db.QueryRow(s.d.get, fp))
	if err == sql.ErrNoRows {
		return Record{}, errors.Wrapf(ErrNotFound, "%s: %s", s.d.name, fp)
	}
	if err != nil {
		return Record{}, errors.Wrapf(err, "%s: get %s", s.d.name, fp)
	}
	return rec, nil
}

func (s *sqlStore) List() ([]Record, error) {
	rows, err := s.db.Query(s.d.list)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: list", s.d.name)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: list", s.d.name)
		}
		out = append(out, rec)
	}
	return out, errors.Wrapf(rows.Err(), "%s: list", s.d.name)
}

func (s *sqlStore) Delete(fingerprint string) error {
	fp := NormalizeFingerprint(fingerprint)
	res, err := s.db.Exec(s.d.del, fp)
	if err != nil {
		return errors.Wrapf(err, "%s: delete %s", s.d.name, fp)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "%s: delete %s", s.d.name, fp)
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "%s: %s", s.d.name, fp)
	}
	return nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec   Record
		id    string
		added int64
	)
	if err := row.Scan(&id, &rec.Fingerprint, &rec.Label, &rec.KeyType, &rec.Provider, &rec.DER, &added); err != nil {
		return Record{}, err
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return Record{}, errors.Wrapf(err, "record %s has a malformed id", rec.Fingerprint)
	}
	rec.ID = uid
	rec.AddedAt = time.Unix(added, 0).UTC()
	return rec, nil
}
