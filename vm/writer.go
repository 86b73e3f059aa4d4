package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Package serialization
// ---------------------------------------------------------------------------
//
// WritePackage is the exact inverse of parsePackage: serializing a parsed
// package reproduces the input bytes. The compiler emits the same layout.

type packageWriter struct {
	buf []byte

	p          *Package
	nameIndex  map[*Name]int
	typeIndex  map[*Type]int
	paramIndex map[*TypeParameter]int
	fnIndex    map[*Function]int
	classIndex map[*Class]int
}

// WritePackage serializes a package to its binary file form. Every name,
// type, and type parameter the package's definitions mention must be
// present in its pools.
func WritePackage(p *Package) ([]byte, error) {
	w := &packageWriter{
		p:          p,
		nameIndex:  make(map[*Name]int, len(p.names)),
		typeIndex:  make(map[*Type]int, len(p.types)),
		paramIndex: make(map[*TypeParameter]int, len(p.typeParams)),
		fnIndex:    make(map[*Function]int, len(p.functions)),
		classIndex: make(map[*Class]int, len(p.classes)),
	}
	for i, n := range p.names {
		w.nameIndex[n] = i
	}
	for i, t := range p.types {
		if _, dup := w.typeIndex[t]; !dup {
			w.typeIndex[t] = i
		}
	}
	for i, tp := range p.typeParams {
		w.paramIndex[tp] = i
	}
	for i, f := range p.functions {
		w.fnIndex[f] = i
	}
	for i, c := range p.classes {
		w.classIndex[c] = i
	}

	w.raw(PackageMagic[:])
	w.u16(PackageFormatMajor)
	w.u16(PackageFormatMinor)
	w.u32(p.flags)
	nameRef, err := w.nameRef(p.name)
	if err != nil {
		return nil, err
	}
	w.uvbn(uint64(nameRef))
	w.version(p.version)

	w.uvbn(uint64(len(p.dependencies)))
	for _, dep := range p.dependencies {
		if err := w.writeDependency(dep); err != nil {
			return nil, err
		}
	}

	w.uvbn(uint64(len(p.strings)))
	for _, s := range p.strings {
		w.uvbn(uint64(len(s)))
		w.raw([]byte(s))
	}

	stringIndex := make(map[string]int, len(p.strings))
	for i, s := range p.strings {
		if _, dup := stringIndex[s]; !dup {
			stringIndex[s] = i
		}
	}
	w.uvbn(uint64(len(p.names)))
	for _, n := range p.names {
		w.uvbn(uint64(len(n.components)))
		for _, c := range n.components {
			idx, ok := stringIndex[c]
			if !ok {
				return nil, fmt.Errorf("name component %q not in string pool", c)
			}
			w.uvbn(uint64(idx))
		}
	}

	w.uvbn(uint64(len(p.globals)))
	for _, g := range p.globals {
		if err := w.writeGlobal(g); err != nil {
			return nil, err
		}
	}

	w.uvbn(uint64(len(p.functions)))
	for _, f := range p.functions {
		if err := w.writeFunction(f); err != nil {
			return nil, err
		}
	}

	w.uvbn(uint64(len(p.classes)))
	for _, c := range p.classes {
		if err := w.writeClass(c); err != nil {
			return nil, err
		}
	}

	w.uvbn(uint64(len(p.typeParams)))
	for _, tp := range p.typeParams {
		if err := w.writeTypeParam(tp); err != nil {
			return nil, err
		}
	}

	w.uvbn(uint64(len(p.types)))
	for i := range p.types {
		if err := w.writeType(i); err != nil {
			return nil, err
		}
	}

	w.svbn(int64(p.entryFnID))
	return w.buf, nil
}

// ---------------------------------------------------------------------------
// Primitive emitters
// ---------------------------------------------------------------------------

func (w *packageWriter) raw(b []byte)  { w.buf = append(w.buf, b...) }
func (w *packageWriter) uvbn(v uint64)  { w.buf = appendUVbn(w.buf, v) }
func (w *packageWriter) svbn(v int64)   { w.buf = appendVbn(w.buf, v) }

func (w *packageWriter) u16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.raw(buf[:])
}

func (w *packageWriter) u32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.raw(buf[:])
}

func (w *packageWriter) version(v PackageVersion) {
	w.u16(v.Major)
	w.u16(v.Minor)
	w.u16(v.Patch)
}

func (w *packageWriter) nameRef(n *Name) (int, error) {
	idx, ok := w.nameIndex[n]
	if !ok {
		return 0, fmt.Errorf("name %s not in name pool", n)
	}
	return idx, nil
}

func (w *packageWriter) namePair(name, sourceName *Name) error {
	idx, err := w.nameRef(name)
	if err != nil {
		return err
	}
	w.uvbn(uint64(idx))
	if sourceName == nil {
		w.svbn(-1)
		return nil
	}
	idx, err = w.nameRef(sourceName)
	if err != nil {
		return err
	}
	w.svbn(int64(idx))
	return nil
}

func (w *packageWriter) nameRefList(names []*Name) error {
	w.uvbn(uint64(len(names)))
	for _, n := range names {
		idx, err := w.nameRef(n)
		if err != nil {
			return err
		}
		w.uvbn(uint64(idx))
	}
	return nil
}

func (w *packageWriter) typeRef(t *Type) (int, error) {
	idx, ok := w.typeIndex[t]
	if !ok {
		return 0, fmt.Errorf("type %s not in type table", t)
	}
	return idx, nil
}

// ---------------------------------------------------------------------------
// Entry emitters
// ---------------------------------------------------------------------------

func (w *packageWriter) writeDependency(dep *PackageDependency) error {
	idx, err := w.nameRef(dep.name)
	if err != nil {
		return err
	}
	w.uvbn(uint64(idx))
	w.version(dep.minVersion)
	w.version(dep.maxVersion)
	if err := w.nameRefList(dep.externGlobalNames); err != nil {
		return err
	}
	if err := w.nameRefList(dep.externFunctionNames); err != nil {
		return err
	}
	return w.nameRefList(dep.externClassNames)
}

func (w *packageWriter) writeGlobal(g *Global) error {
	w.u32(uint32(g.flags))
	if err := w.namePair(g.name, g.sourceName); err != nil {
		return err
	}
	idx, err := w.typeRef(g.typ)
	if err != nil {
		return err
	}
	w.uvbn(uint64(idx))
	return nil
}

func (w *packageWriter) writeFunction(f *Function) error {
	w.u32(uint32(f.flags))
	w.uvbn(0) // builtin id
	if err := w.namePair(f.name, f.sourceName); err != nil {
		return err
	}
	w.uvbn(uint64(len(f.typeParams)))
	for _, tp := range f.typeParams {
		idx, ok := w.paramIndex[tp]
		if !ok {
			return fmt.Errorf("type parameter %s not in table", tp.name)
		}
		w.uvbn(uint64(idx))
	}
	w.uvbn(uint64(1 + len(f.paramTypes)))
	idx, err := w.typeRef(f.returnType)
	if err != nil {
		return err
	}
	w.uvbn(uint64(idx))
	for _, t := range f.paramTypes {
		if idx, err = w.typeRef(t); err != nil {
			return err
		}
		w.uvbn(uint64(idx))
	}
	w.uvbn(uint64(f.localsSize))
	w.uvbn(uint64(len(f.instructions)))
	w.raw(f.instructions)
	w.uvbn(uint64(len(f.blockOffsets)))
	for _, o := range f.blockOffsets {
		w.uvbn(uint64(o))
	}
	w.uvbn(uint64(len(f.overrides)))
	for _, ov := range f.overrides {
		if local, ok := w.fnIndex[ov]; ok {
			w.svbn(-1)
			w.uvbn(uint64(local))
			continue
		}
		dep, linked, ok := w.p.linkedFunctionRef(ov)
		if !ok {
			return fmt.Errorf("override %s is neither local nor linked", ov)
		}
		w.svbn(int64(dep))
		w.uvbn(uint64(linked))
	}
	w.uvbn(uint64(len(f.instTypes)))
	for _, t := range f.instTypes {
		if idx, err = w.typeRef(t); err != nil {
			return err
		}
		w.uvbn(uint64(idx))
	}
	return nil
}

func (w *packageWriter) writeClass(c *Class) error {
	if err := w.namePair(c.name, c.sourceName); err != nil {
		return err
	}
	w.u32(uint32(c.flags))
	w.uvbn(uint64(len(c.typeParams)))
	for _, tp := range c.typeParams {
		idx, ok := w.paramIndex[tp]
		if !ok {
			return fmt.Errorf("type parameter %s not in table", tp.name)
		}
		w.uvbn(uint64(idx))
	}
	if c.supertype == nil {
		w.svbn(-1)
	} else {
		idx, err := w.typeRef(c.supertype)
		if err != nil {
			return err
		}
		w.svbn(int64(idx))
	}
	w.uvbn(uint64(len(c.fields)))
	for _, f := range c.fields {
		if err := w.namePair(f.name, f.sourceName); err != nil {
			return err
		}
		w.u32(uint32(f.flags))
		idx, err := w.typeRef(f.typ)
		if err != nil {
			return err
		}
		w.uvbn(uint64(idx))
	}
	w.uvbn(uint64(len(c.constructors)))
	for _, fn := range c.constructors {
		w.uvbn(uint64(w.fnIndex[fn]))
	}
	w.uvbn(uint64(len(c.methods)))
	for _, fn := range c.methods {
		w.uvbn(uint64(w.fnIndex[fn]))
	}
	if c.elementType == nil {
		w.svbn(-1)
	} else {
		idx, err := w.typeRef(c.elementType)
		if err != nil {
			return err
		}
		w.svbn(int64(idx))
	}
	w.svbn(int64(c.lengthFieldIndex))
	return nil
}

func (w *packageWriter) writeTypeParam(tp *TypeParameter) error {
	idx, err := w.nameRef(tp.name)
	if err != nil {
		return err
	}
	w.uvbn(uint64(idx))
	w.u32(uint32(tp.flags))
	if tp.upperBound == nil {
		w.svbn(-1)
	} else {
		idx, err := w.typeRef(tp.upperBound)
		if err != nil {
			return err
		}
		w.svbn(int64(idx))
	}
	if tp.lowerBound == nil {
		w.svbn(-1)
	} else {
		idx, err := w.typeRef(tp.lowerBound)
		if err != nil {
			return err
		}
		w.svbn(int64(idx))
	}
	return nil
}

func (w *packageWriter) writeType(i int) error {
	t := w.p.types[i]
	w.buf = append(w.buf, byte(t.form))
	switch t.form {
	case ClassTypeForm:
		kind, a, b, err := w.classRefFor(i, t.class)
		if err != nil {
			return err
		}
		w.uvbn(uint64(kind))
		w.uvbn(uint64(a))
		if kind == classRefExtern {
			w.uvbn(uint64(b))
		}
		w.uvbn(uint64(len(t.args)))
		for _, arg := range t.args {
			idx, err := w.typeRef(arg)
			if err != nil {
				return err
			}
			w.uvbn(uint64(idx))
		}
	case VariableTypeForm:
		idx, ok := w.paramIndex[t.param]
		if !ok {
			return fmt.Errorf("type parameter %s not in table", t.param.name)
		}
		w.uvbn(uint64(idx))
	}
	return nil
}

// classRefFor picks the wire encoding of a class reference, preferring the
// original raw encoding when one exists.
func (w *packageWriter) classRefFor(typeIndex int, class *Class) (int, int, int, error) {
	if typeIndex < len(w.p.rawTypes) {
		rt := w.p.rawTypes[typeIndex]
		if rt.form == ClassTypeForm {
			return rt.classRef[0], rt.classRef[1], rt.classRef[2], nil
		}
	}
	if idx, ok := w.classIndex[class]; ok {
		return classRefLocal, idx, 0, nil
	}
	if id, ok := builtinIDOf(class); ok {
		return classRefBuiltin, int(id), 0, nil
	}
	if dep, linked, ok := w.p.linkedClassRef(class); ok {
		return classRefExtern, dep, linked, nil
	}
	return 0, 0, 0, fmt.Errorf("class %s is neither local, builtin, nor linked", class.name)
}

// builtinIDOf maps a class back to its builtin id, if it is one.
func builtinIDOf(class *Class) (BuiltinClassID, bool) {
	return class.builtinID, class.isBuiltin
}
