package certstore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{`
CREATE TABLE IF NOT EXISTS certificates (
  id          TEXT PRIMARY KEY,
  fingerprint TEXT NOT NULL UNIQUE,
  label       TEXT NOT NULL DEFAULT '',
  key_type    TEXT NOT NULL,
  provider    TEXT NOT NULL,
  der         BLOB NOT NULL,
  added_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_certificates_added ON certificates(added_at);`,
	},
	upsert: `INSERT INTO certificates(id, fingerprint, label, key_type, provider, der, added_at)
VALUES(?,?,?,?,?,?,?)
ON CONFLICT(fingerprint) DO UPDATE SET label=excluded.label, key_type=excluded.key_type, provider=excluded.provider`,
	get:  `SELECT id, fingerprint, label, key_type, provider, der, added_at FROM certificates WHERE fingerprint=?`,
	list: `SELECT id, fingerprint, label, key_type, provider, der, added_at FROM certificates ORDER BY added_at, fingerprint`,
	del:  `DELETE FROM certificates WHERE fingerprint=?`,
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(path string) (Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: open")
	}
	return &sqlStore{db: db, d: sqliteDialect}, nil
}
