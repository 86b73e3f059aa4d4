// Package vm implements the Tern virtual machine: a precise, moving
// garbage-collected heap built on page-aligned chunks, a stack-based
// interpreter for typed bytecode with generics and exception handling, a
// binary package loader with cross-package symbol linking, and a bridge
// for calling host functions and back.
//
// A host constructs a VM, loads one or more compiled packages (pulling in
// their dependencies from the search paths or a package store), locates a
// function, and invokes it:
//
//	machine, err := vm.NewVM(vm.WithSearchPaths("build"))
//	if err != nil { ... }
//	defer machine.Close()
//
//	name, _ := machine.NameFromSource("calc")
//	pkg, err := machine.LoadPackage(name)
//	if err != nil { ... }
//
//	fnName, _ := machine.NameFromSource("factorial-iterative")
//	fn := pkg.FindFunction(fnName)
//	result, err := fn.CallForI64(5)
//
// Execution is single-threaded and cooperative: a VM evaluates one stack
// at a time, garbage collection runs synchronously at allocation sites,
// and native calls block the VM for their duration. VMs are fully
// isolated from one another and may be used from different goroutines.
//
// Host code holding references into the heap must root them with handle
// scopes or persistent handles; any unrooted address is invalid after the
// next allocation, because the collector moves blocks.
package vm
