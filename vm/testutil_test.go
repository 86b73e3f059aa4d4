package vm

import "testing"

// newTestVM builds a VM for one test and tears it down with the test.
func newTestVM(t *testing.T) *VM {
	t.Helper()
	machine, err := NewVM()
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	t.Cleanup(machine.Close)
	return machine
}

// addPackage registers a built package, failing the test on error.
func addPackage(t *testing.T, machine *VM, b *PackageBuilder) *Package {
	t.Helper()
	p := b.Build()
	if err := machine.AddPackage(p); err != nil {
		t.Fatalf("AddPackage(%s): %v", p.Name(), err)
	}
	return p
}

// newBuilder starts a package builder, failing the test on error.
func newBuilder(t *testing.T, name string) *PackageBuilder {
	t.Helper()
	b, err := NewPackageBuilder(name, PackageVersion{Major: 1})
	if err != nil {
		t.Fatalf("NewPackageBuilder(%s): %v", name, err)
	}
	return b
}
