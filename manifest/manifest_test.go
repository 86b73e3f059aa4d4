package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `
[project]
name = "calc"
version = "0.3.0"

[packages]
paths = ["build", "vendor"]
store = "cache/packages.db"
entry = "calc.main"

[dependencies.std]
min-version = "1.0.0"

[dependencies.linalg]
path = "../linalg/build"
`

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeManifest(t, sampleManifest)
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Project.Name != "calc" || m.Project.Version != "0.3.0" {
		t.Errorf("project = %+v", m.Project)
	}
	if m.Packages.Entry != "calc.main" {
		t.Errorf("entry = %q", m.Packages.Entry)
	}
	if len(m.Dependencies) != 2 {
		t.Errorf("dependencies = %d, want 2", len(m.Dependencies))
	}
	if m.Dependencies["std"].MinVersion != "1.0.0" {
		t.Errorf("std min-version = %q", m.Dependencies["std"].MinVersion)
	}
}

func TestSearchPaths(t *testing.T) {
	dir := writeManifest(t, sampleManifest)
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	paths := m.SearchPaths()
	if len(paths) != 3 {
		t.Fatalf("paths = %v, want 3 entries", paths)
	}
	if paths[0] != filepath.Join(m.Dir, "build") {
		t.Errorf("paths[0] = %q", paths[0])
	}
	if m.StorePath() != filepath.Join(m.Dir, "cache/packages.db") {
		t.Errorf("StorePath = %q", m.StorePath())
	}
}

func TestLoadRequiresName(t *testing.T) {
	dir := writeManifest(t, "[project]\nversion = \"1.0.0\"\n")
	if _, err := Load(dir); err == nil {
		t.Fatal("Load should reject a manifest without project.name")
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := writeManifest(t, sampleManifest)
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	m, err := FindAndLoad(sub)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Project.Name != "calc" {
		t.Errorf("FindAndLoad did not walk up to the manifest")
	}
}

func TestDefaultPaths(t *testing.T) {
	dir := writeManifest(t, "[project]\nname = \"p\"\n")
	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Packages.Paths) != 1 || m.Packages.Paths[0] != "pkg" {
		t.Errorf("default paths = %v", m.Packages.Paths)
	}
}

func TestLockRoundTrip(t *testing.T) {
	l := &Lock{}
	l.Pin("std", "1.2.0", "abc123")
	l.Pin("calc", "0.3.0", "def456")
	l.Pin("std", "1.3.0", "abc999") // replaces

	data, err := MarshalLock(l)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalLock(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Packages) != 2 {
		t.Fatalf("packages = %d, want 2", len(got.Packages))
	}
	std, ok := got.Lookup("std")
	if !ok || std.Version != "1.3.0" || std.Hash != "abc999" {
		t.Errorf("std = %+v", std)
	}

	// Canonical encoding: marshalling again yields identical bytes.
	again, err := MarshalLock(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != string(data) {
		t.Error("canonical lock encoding is not stable")
	}
}

func TestLockFile(t *testing.T) {
	dir := t.TempDir()
	l, err := LoadLock(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Packages) != 0 {
		t.Error("missing lock file should load empty")
	}
	l.Pin("std", "1.0.0", "cafe")
	if err := SaveLock(dir, l); err != nil {
		t.Fatal(err)
	}
	got, err := LoadLock(dir)
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := got.Lookup("std"); !ok || p.Hash != "cafe" {
		t.Errorf("reloaded lock = %+v", got)
	}
}
