package vm

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	_ "github.com/mattn/go-sqlite3"
)

// ---------------------------------------------------------------------------
// PackageStore: content-addressed store for compiled packages
// ---------------------------------------------------------------------------
//
// The store indexes package file bytes by their SHA-256 hash in a local
// sqlite database. The loader consults it after the directory search
// paths, so a host can distribute compiled packages without unpacking
// them into a directory tree.

// PackageStore is a sqlite-backed content-addressed package archive.
type PackageStore struct {
	id  uuid.UUID
	db  *sql.DB
	log commonlog.Logger
}

const packageStoreSchema = `
CREATE TABLE IF NOT EXISTS packages (
	hash       TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	version    TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS packages_by_name ON packages (name, created_at);
`

// OpenPackageStore opens (creating if needed) a store at path. Use
// ":memory:" for an ephemeral store.
func OpenPackageStore(path string) (*PackageStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("package store %s: %w", path, err)
	}
	if _, err := db.Exec(packageStoreSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("package store schema: %w", err)
	}
	return &PackageStore{
		id:  uuid.New(),
		db:  db,
		log: commonlog.GetLogger("tern.store"),
	}, nil
}

// Close releases the database.
func (s *PackageStore) Close() error {
	return s.db.Close()
}

// Put stores package file bytes and returns their content hash. The bytes
// are parsed to recover the package's name and version; malformed input
// is rejected.
func (s *PackageStore) Put(data []byte) (string, error) {
	raw, err := parsePackage(data)
	if err != nil {
		return "", &LoadError{Message: "store rejects malformed package", Err: err}
	}
	name, err := nameAt(raw.names, raw.nameRef)
	if err != nil {
		return "", &LoadError{Message: "store rejects malformed package", Err: err}
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	_, err = s.db.Exec(
		`INSERT OR IGNORE INTO packages (hash, name, version, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		hash, name.String(), raw.version.String(), data, time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("package store put: %w", err)
	}
	s.log.Debugf("stored %s %s as %s", name, raw.version, hash[:12])
	return hash, nil
}

// Get returns the bytes for a content hash, or nil if absent.
func (s *PackageStore) Get(hash string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM packages WHERE hash = ?`, hash).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("package store get: %w", err)
	}
	return data, nil
}

// Latest returns the most recently stored bytes for a package name, or
// nil if the store has none.
func (s *PackageStore) Latest(name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM packages WHERE name = ? ORDER BY created_at DESC LIMIT 1`, name,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("package store latest: %w", err)
	}
	return data, nil
}

// Hashes returns every stored content hash.
func (s *PackageStore) Hashes() ([]string, error) {
	rows, err := s.db.Query(`SELECT hash FROM packages ORDER BY hash`)
	if err != nil {
		return nil, fmt.Errorf("package store hashes: %w", err)
	}
	defer rows.Close()
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}
