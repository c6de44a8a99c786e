// Package reader parses compiled class files and drives a
// classfile.ClassVisitor with their contents.
//
// Parsing uses panics internally to avoid threading error returns through
// every read; New and Accept recover them into *errz.Error values. The
// header and constant pool are decoded eagerly, so pool accessors work
// before Accept is called, and the remaining sections are decoded during
// Accept.
package reader

import (
	"math"

	"github.com/cloudcmds/classfile"
	"github.com/cloudcmds/classfile/errz"
	"github.com/cloudcmds/classfile/internal/bin"
	"github.com/cloudcmds/classfile/pool"
	"github.com/cloudcmds/classfile/types"
)

// ClassReader holds a parsed class file header and constant pool, plus the
// offset of the undecoded remainder.
type ClassReader struct {
	data       []byte
	st         *pool.SymbolTable
	minor      uint16
	major      uint16
	access     uint16
	thisClass  uint16
	superClass uint16
	interfaces []uint16
	bodyOff    int
}

// New parses the class file header and constant pool from data. The slice
// is retained and must not be modified while the reader is in use.
func New(data []byte) (cr *ClassReader, err error) {
	defer catch(&err)

	r := bin.NewReader(data)
	if magic := r.U32(); magic != classfile.Magic {
		panic(errz.Format(0, "bad magic 0x%08X", magic))
	}
	cr = &ClassReader{data: data}
	verOff := r.Offset()
	cr.minor = r.U16()
	cr.major = r.U16()
	if cr.major < classfile.V1_1 {
		panic(errz.Format(int64(verOff), "bad major version %d", cr.major))
	}

	entries := pool.ReadEntries(r)
	st, ferr := pool.FromEntries(entries, 0)
	if ferr != nil {
		panic(ferr)
	}
	cr.st = st

	cr.access = r.U16()
	cr.thisClass = r.U16()
	cr.superClass = r.U16()
	n := int(r.U16())
	cr.interfaces = make([]uint16, n)
	for i := 0; i < n; i++ {
		cr.interfaces[i] = r.U16()
	}
	cr.bodyOff = r.Offset()
	return cr, nil
}

// Version returns the class file minor and major version.
func (cr *ClassReader) Version() (minor, major uint16) {
	return cr.minor, cr.major
}

// Access returns the class access flags.
func (cr *ClassReader) Access() uint16 {
	return cr.access
}

// ClassName returns the internal name of the class.
func (cr *ClassReader) ClassName() string {
	name, ok := cr.st.ClassNameAt(cr.thisClass)
	if !ok {
		return ""
	}
	return name
}

// SuperName returns the internal name of the super class, or "" for the
// root object class.
func (cr *ClassReader) SuperName() string {
	if cr.superClass == 0 {
		return ""
	}
	name, ok := cr.st.ClassNameAt(cr.superClass)
	if !ok {
		return ""
	}
	return name
}

// Interfaces returns the internal names of the direct superinterfaces.
func (cr *ClassReader) Interfaces() []string {
	out := make([]string, len(cr.interfaces))
	for i, idx := range cr.interfaces {
		out[i], _ = cr.st.ClassNameAt(idx)
	}
	return out
}

// PoolEntries returns a copy of the constant pool, including the reserved
// entry at index 0. Writers pass it to pool.FromEntries to preserve
// indices on a read-modify-write round trip.
func (cr *ClassReader) PoolEntries() []pool.Entry {
	return cr.st.Entries()
}

// Accept walks the class file and delivers its events to cv.
func (cr *ClassReader) Accept(cv classfile.ClassVisitor, opts ...classfile.Option) (err error) {
	defer catch(&err)
	cfg := classfile.NewConfig(opts...)

	r := bin.NewReader(cr.data)
	r.Seek(cr.bodyOff)

	cv.VisitHeader(cr.minor, cr.major, cr.access, cr.ClassName(), cr.SuperName(), cr.Interfaces())

	for i, n := 0, int(r.U16()); i < n; i++ {
		cr.readField(r, cv)
	}
	for i, n := 0, int(r.U16()); i < n; i++ {
		cr.readMethod(r, cv, cfg)
	}
	for i, n := 0, int(r.U16()); i < n; i++ {
		name, data := cr.readAttribute(r)
		switch name {
		case "SourceFile":
			cv.VisitSourceFile(cr.utf8(bin.NewReader(data).U16()))
		case "InnerClasses":
			cr.readInnerClasses(data, cv)
		default:
			cv.VisitAttribute(name, data)
		}
	}
	cv.VisitEnd()
	return nil
}

func (cr *ClassReader) readField(r *bin.Reader, cv classfile.ClassVisitor) {
	access := r.U16()
	name := cr.utf8(r.U16())
	descriptor := cr.utf8(r.U16())
	fv := cv.VisitField(access, name, descriptor)
	for i, n := 0, int(r.U16()); i < n; i++ {
		attrName, data := cr.readAttribute(r)
		if fv == nil {
			continue
		}
		if attrName == "ConstantValue" {
			fv.VisitConstantValue(cr.constant(bin.NewReader(data).U16()))
		} else {
			fv.VisitAttribute(attrName, data)
		}
	}
	if fv != nil {
		fv.VisitEnd()
	}
}

func (cr *ClassReader) readMethod(r *bin.Reader, cv classfile.ClassVisitor, cfg *classfile.Config) {
	access := r.U16()
	name := cr.utf8(r.U16())
	descriptor := cr.utf8(r.U16())
	mv := cv.VisitMethod(access, name, descriptor)
	for i, n := 0, int(r.U16()); i < n; i++ {
		attrName, data := cr.readAttribute(r)
		if mv == nil {
			continue
		}
		if attrName == "Code" {
			cr.readCode(data, mv, cfg, access, name, descriptor)
		} else {
			mv.VisitAttribute(attrName, data)
		}
	}
	if mv != nil {
		mv.VisitEnd()
	}
}

// readAttribute returns one attribute's name and raw contents.
func (cr *ClassReader) readAttribute(r *bin.Reader) (string, []byte) {
	name := cr.utf8(r.U16())
	length := int(r.U32())
	return name, r.Bytes(length)
}

func (cr *ClassReader) readInnerClasses(data []byte, cv classfile.ClassVisitor) {
	r := bin.NewReader(data)
	for i, n := 0, int(r.U16()); i < n; i++ {
		inner := r.U16()
		outer := r.U16()
		innerName := r.U16()
		access := r.U16()
		name, _ := cr.st.ClassNameAt(inner)
		outerName := ""
		if outer != 0 {
			outerName, _ = cr.st.ClassNameAt(outer)
		}
		simple := ""
		if innerName != 0 {
			simple = cr.utf8(innerName)
		}
		cv.VisitInnerClass(name, outerName, simple, access)
	}
}

// utf8 returns the Utf8 entry at index, or panics with a format error.
func (cr *ClassReader) utf8(index uint16) string {
	s, ok := cr.st.Utf8At(index)
	if !ok {
		panic(errz.Format(0, "constant pool index %d is not a Utf8 entry", index))
	}
	return s
}

func (cr *ClassReader) className(index uint16) string {
	name, ok := cr.st.ClassNameAt(index)
	if !ok {
		panic(errz.Format(0, "constant pool index %d is not a Class entry", index))
	}
	return name
}

// constant decodes a loadable constant pool entry into its Go value.
func (cr *ClassReader) constant(index uint16) any {
	e, ok := cr.st.EntryAt(index)
	if !ok {
		panic(errz.Format(0, "constant pool index %d out of range", index))
	}
	switch e.Tag {
	case pool.TagInteger:
		return int32(uint32(e.Num))
	case pool.TagFloat:
		return math.Float32frombits(uint32(e.Num))
	case pool.TagLong:
		return int64(e.Num)
	case pool.TagDouble:
		return math.Float64frombits(e.Num)
	case pool.TagString:
		return cr.utf8(e.Ref1)
	case pool.TagClass:
		name := cr.utf8(e.Ref1)
		var t types.Type
		var terr error
		if len(name) > 0 && name[0] == '[' {
			t, terr = types.Parse(name)
		} else {
			t, terr = types.ObjectType(name)
		}
		if terr != nil {
			panic(terr)
		}
		return t
	case pool.TagMethodType:
		t, terr := types.MethodType(cr.utf8(e.Ref1))
		if terr != nil {
			panic(terr)
		}
		return t
	case pool.TagMethodHandle:
		ref, ok := cr.st.EntryAt(e.Ref1)
		if !ok {
			panic(errz.Format(0, "method handle reference %d out of range", e.Ref1))
		}
		owner, name, descriptor, ok := cr.st.MemberRefAt(e.Ref1)
		if !ok {
			panic(errz.Format(0, "method handle reference %d is not a member ref", e.Ref1))
		}
		return classfile.Handle{
			Kind:       e.Kind,
			Owner:      owner,
			Name:       name,
			Descriptor: descriptor,
			Interface:  ref.Tag == pool.TagInterfaceMethodRef,
		}
	case pool.TagDynamic:
		name, descriptor, ok := cr.st.NameAndTypeAt(e.Ref2)
		if !ok {
			panic(errz.Format(0, "dynamic constant %d has a bad name-and-type", index))
		}
		return classfile.ConstDynamic{Name: name, Descriptor: descriptor, Bootstrap: e.Ref1}
	default:
		panic(errz.Format(0, "constant pool entry %d (tag %d) is not loadable", index, e.Tag))
	}
}

// catch converts an *errz.Error panic into an error return. Other panics
// propagate.
func catch(err *error) {
	if v := recover(); v != nil {
		if e, ok := v.(*errz.Error); ok {
			*err = e
			return
		}
		panic(v)
	}
}
