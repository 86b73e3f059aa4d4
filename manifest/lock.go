package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// LockFileName is the pinned-resolution index next to tern.toml.
const LockFileName = "tern.lock"

// Lock pins the exact package versions and content hashes a project
// resolved, so later loads are reproducible.
type Lock struct {
	Packages []LockedPackage `cbor:"1,keyasint"`
}

// LockedPackage records one resolved package.
type LockedPackage struct {
	Name    string `cbor:"1,keyasint"`
	Version string `cbor:"2,keyasint"`
	Hash    string `cbor:"3,keyasint"`
}

// cborEncMode uses canonical options so equal locks encode identically.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("manifest: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalLock serializes a lock to canonical CBOR with entries sorted by
// package name.
func MarshalLock(l *Lock) ([]byte, error) {
	sorted := make([]LockedPackage, len(l.Packages))
	copy(sorted, l.Packages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return cborEncMode.Marshal(&Lock{Packages: sorted})
}

// UnmarshalLock deserializes a lock from CBOR bytes.
func UnmarshalLock(data []byte) (*Lock, error) {
	var l Lock
	if err := cbor.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("manifest: unmarshal lock: %w", err)
	}
	return &l, nil
}

// LoadLock reads the lock file from a project directory. A missing file
// yields an empty lock.
func LoadLock(dir string) (*Lock, error) {
	data, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if os.IsNotExist(err) {
		return &Lock{}, nil
	}
	if err != nil {
		return nil, err
	}
	return UnmarshalLock(data)
}

// SaveLock writes the lock file into a project directory.
func SaveLock(dir string, l *Lock) error {
	data, err := MarshalLock(l)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, LockFileName), data, 0o644)
}

// Pin adds or replaces the entry for a package name.
func (l *Lock) Pin(name, version, hash string) {
	for i := range l.Packages {
		if l.Packages[i].Name == name {
			l.Packages[i].Version = version
			l.Packages[i].Hash = hash
			return
		}
	}
	l.Packages = append(l.Packages, LockedPackage{Name: name, Version: version, Hash: hash})
}

// Lookup returns the pinned entry for a package name.
func (l *Lock) Lookup(name string) (LockedPackage, bool) {
	for _, p := range l.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return LockedPackage{}, false
}
