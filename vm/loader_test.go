package vm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildProviderPackage builds package "provider": a public function f()
// returning 7, a public global pub-var set to 34 by the entry function,
// and a private global hidden-var.
func buildProviderPackage(t *testing.T) *Package {
	t.Helper()
	b := newBuilder(t, "provider")

	b.AddGlobal("pub-var", "pub-var", PublicFlag, I64Type)
	b.AddGlobal("hidden-var", "hidden-var", 0, I64Type)

	fa := NewAssembler()
	fa.Op(OpI64, 7)
	fa.Op(OpRet)
	b.AddFunction(FunctionSpec{
		Name: "f", SourceName: "f", Flags: PublicFlag, ReturnType: I64Type, Code: fa,
	})

	ea := NewAssembler()
	ea.Op(OpI64, 34)
	ea.Op(OpStG, 0)
	ea.Op(OpI64, 55)
	ea.Op(OpStG, 1)
	ea.Op(OpUnit)
	ea.Op(OpRet)
	_, entryIdx := b.AddFunction(FunctionSpec{
		Name: "init", Flags: 0, ReturnType: UnitType, Code: ea,
	})
	b.SetEntry(entryIdx)
	return b.Build()
}

// buildConsumerPackage builds package "consumer" whose main calls
// provider.f through the dependency link.
func buildConsumerPackage(t *testing.T) *Package {
	t.Helper()
	b := newBuilder(t, "consumer")
	depIdx := b.AddDependency("provider", nil, []string{"f"}, nil)

	ma := NewAssembler()
	ma.Op(OpCallGF, int64(depIdx), 0)
	ma.Op(OpRet)
	_, mainIdx := b.AddFunction(FunctionSpec{
		Name: "main", SourceName: "main", Flags: PublicFlag, ReturnType: I64Type, Code: ma,
	})
	b.SetEntry(mainIdx)
	return b.Build()
}

func writePackageFile(t *testing.T, dir string, p *Package) {
	t.Helper()
	data, err := WritePackage(p)
	require.NoError(t, err, "WritePackage(%s)", p.Name())
	path := filepath.Join(dir, p.Name().String()+PackageFileExtension)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestPackageRoundTrip(t *testing.T) {
	p := buildProviderPackage(t)
	first, err := WritePackage(p)
	require.NoError(t, err)

	raw, err := parsePackage(first)
	require.NoError(t, err)
	parsed, err := raw.materialize()
	require.NoError(t, err)

	second, err := WritePackage(parsed)
	require.NoError(t, err)
	assert.Equal(t, first, second, "serialize(parse(bytes)) must reproduce bytes")

	assert.True(t, parsed.Name().Equals(p.Name()))
	assert.Equal(t, p.Version(), parsed.Version())
	assert.Len(t, parsed.Functions(), 2)
	assert.Len(t, parsed.Globals(), 2)
}

func TestLoadPackageWithDependency(t *testing.T) {
	dir := t.TempDir()
	writePackageFile(t, dir, buildProviderPackage(t))
	writePackageFile(t, dir, buildConsumerPackage(t))

	machine, err := NewVM(WithSearchPaths(dir))
	require.NoError(t, err)
	defer machine.Close()

	name, err := machine.NameFromSource("consumer")
	require.NoError(t, err)
	consumer, err := machine.LoadPackage(name)
	require.NoError(t, err)

	// The dependency was pulled in.
	providerName, _ := machine.NameFromSource("provider")
	provider := machine.FindPackage(providerName)
	require.NotNil(t, provider, "provider should be loaded as a dependency")

	// Scenario: invoking consumer's main calls provider.f across the
	// package link.
	mainName, _ := machine.NameFromSource("main")
	mainFn := consumer.FindFunction(mainName)
	require.NotNil(t, mainFn)
	got, err := mainFn.CallForI64()
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)

	// pub-var was initialized to 34 by provider's entry function.
	pubName, _ := machine.NameFromSource("pub-var")
	pub := provider.FindGlobal(pubName)
	require.NotNil(t, pub)
	v, err := pub.Value()
	require.NoError(t, err)
	assert.Equal(t, uint64(34), v)

	require.NoError(t, pub.SetValue(35))
	v, err = pub.Value()
	require.NoError(t, err)
	assert.Equal(t, uint64(35), v)

	// hidden-var resolves by definition name only.
	hiddenName, _ := machine.NameFromSource("hidden-var")
	assert.Nil(t, provider.FindGlobal(hiddenName), "private global visible by source name")
	assert.NotNil(t, provider.FindGlobalByDefnName(hiddenName))
	hidden := provider.FindGlobalByDefnName(hiddenName)
	hv, err := hidden.Value()
	require.NoError(t, err)
	assert.Equal(t, uint64(55), hv)
}

func TestLoadPackageMissing(t *testing.T) {
	machine, err := NewVM(WithSearchPaths(t.TempDir()))
	require.NoError(t, err)
	defer machine.Close()

	name, _ := machine.NameFromSource("nonexistent")
	_, err = machine.LoadPackage(name)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestLoadPackageMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.tpkg"), []byte("not a package"), 0o644))

	machine, err := NewVM(WithSearchPaths(dir))
	require.NoError(t, err)
	defer machine.Close()

	_, err = machine.LoadPackageFromFile(filepath.Join(dir, "junk.tpkg"))
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestLoadPackageCycle(t *testing.T) {
	dir := t.TempDir()

	buildCyclic := func(name, depName string) *Package {
		b := newBuilder(t, name)
		depIdx := b.AddDependency(depName, nil, []string{"f"}, nil)
		fa := NewAssembler()
		fa.Op(OpCallGF, int64(depIdx), 0)
		fa.Op(OpRet)
		b.AddFunction(FunctionSpec{
			Name: "f", SourceName: "f", Flags: PublicFlag, ReturnType: I64Type, Code: fa,
		})
		return b.Build()
	}
	writePackageFile(t, dir, buildCyclic("ring-a", "ring-b"))
	writePackageFile(t, dir, buildCyclic("ring-b", "ring-a"))

	machine, err := NewVM(WithSearchPaths(dir))
	require.NoError(t, err)
	defer machine.Close()

	name, _ := machine.NameFromSource("ring-a")
	_, err = machine.LoadPackage(name)
	require.ErrorIs(t, err, ErrPackageCycle)
}

func TestLoadPackageUnresolvedSymbol(t *testing.T) {
	dir := t.TempDir()
	writePackageFile(t, dir, buildProviderPackage(t))

	b := newBuilder(t, "needy")
	depIdx := b.AddDependency("provider", nil, []string{"no-such-function"}, nil)
	fa := NewAssembler()
	fa.Op(OpCallGF, int64(depIdx), 0)
	fa.Op(OpRet)
	b.AddFunction(FunctionSpec{
		Name: "f", SourceName: "f", Flags: PublicFlag, ReturnType: I64Type, Code: fa,
	})
	writePackageFile(t, dir, b.Build())

	machine, err := NewVM(WithSearchPaths(dir))
	require.NoError(t, err)
	defer machine.Close()

	name, _ := machine.NameFromSource("needy")
	_, err = machine.LoadPackage(name)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Contains(t, loadErr.Error(), "no-such-function")
}

func TestLoadPackageVersionRange(t *testing.T) {
	dir := t.TempDir()
	writePackageFile(t, dir, buildProviderPackage(t)) // version 1.0.0

	b := newBuilder(t, "picky")
	depIdx := b.AddDependency("provider", nil, []string{"f"}, nil)
	b.Build().dependencies[depIdx].minVersion = PackageVersion{Major: 2}
	fa := NewAssembler()
	fa.Op(OpCallGF, int64(depIdx), 0)
	fa.Op(OpRet)
	b.AddFunction(FunctionSpec{
		Name: "f", SourceName: "f", Flags: PublicFlag, ReturnType: I64Type, Code: fa,
	})
	writePackageFile(t, dir, b.Build())

	machine, err := NewVM(WithSearchPaths(dir))
	require.NoError(t, err)
	defer machine.Close()

	name, _ := machine.NameFromSource("picky")
	_, err = machine.LoadPackage(name)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Contains(t, loadErr.Error(), "version")
}

func TestPackageVersionCompare(t *testing.T) {
	v1 := PackageVersion{Major: 1, Minor: 2, Patch: 3}
	v2 := PackageVersion{Major: 1, Minor: 3}
	if v1.Compare(v2) != -1 || v2.Compare(v1) != 1 || v1.Compare(v1) != 0 {
		t.Error("Compare ordering wrong")
	}
	if !v1.InRange(PackageVersion{Major: 1}, PackageVersion{}) {
		t.Error("unbounded max should accept")
	}
	if v1.InRange(PackageVersion{Major: 2}, PackageVersion{}) {
		t.Error("min above version should reject")
	}
	if errors.Is(ErrPackageCycle, ErrHeapExhausted) {
		t.Error("sentinel errors must be distinct")
	}
}
