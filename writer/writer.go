// Package writer builds class files from visitor events.
//
// A ClassWriter implements classfile.ClassVisitor: it accumulates events
// symbolically, then Bytes lays out every method body, resolves labels,
// and assembles the final class file. Instructions refer to labels rather
// than offsets until the last moment, so branch widening and switch
// padding are recomputed until the layout is stable.
package writer

import (
	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/cloudcmds/classfile"
	"github.com/cloudcmds/classfile/errz"
	"github.com/cloudcmds/classfile/internal/bin"
	"github.com/cloudcmds/classfile/pool"
	"github.com/cloudcmds/classfile/reader"
	"github.com/cloudcmds/classfile/types"
)

type rawAttr struct {
	name string
	data []byte
}

type innerClass struct {
	name, outerName, innerName string
	access                     uint16
}

// ClassWriter accumulates class events and assembles a class file.
type ClassWriter struct {
	cfg *classfile.Config
	st  *pool.SymbolTable
	log zerolog.Logger

	haveHeader bool
	done       bool
	minor      uint16
	major      uint16
	access     uint16
	thisClass  string
	superClass string
	interfaces []string
	sourceFile string
	inner      []innerClass
	fields     []*fieldWriter
	methods    []*methodWriter
	attrs      []rawAttr

	errs *multierror.Error
}

var _ classfile.ClassVisitor = (*ClassWriter)(nil)

// New returns an empty ClassWriter.
func New(opts ...classfile.Option) *ClassWriter {
	cfg := classfile.NewConfig(opts...)
	return newWriter(cfg, pool.New(cfg.MaxPoolSize))
}

// NewFromReader returns a ClassWriter that shares the reader's constant
// pool, preserving entry indices so untouched attributes and frames stay
// valid on a read-modify-write round trip.
func NewFromReader(cr *reader.ClassReader, opts ...classfile.Option) (*ClassWriter, error) {
	cfg := classfile.NewConfig(opts...)
	st, err := pool.FromEntries(cr.PoolEntries(), cfg.MaxPoolSize)
	if err != nil {
		return nil, err
	}
	return newWriter(cfg, st), nil
}

func newWriter(cfg *classfile.Config, st *pool.SymbolTable) *ClassWriter {
	id := uuid.Must(uuid.NewV4())
	log := cfg.Logger.With().Str("session", id.String()).Logger()
	log.Debug().Msg("write session started")
	return &ClassWriter{cfg: cfg, st: st, log: log}
}

// fail latches an error; Bytes reports all of them.
func (cw *ClassWriter) fail(err error) {
	if err != nil {
		cw.errs = multierror.Append(cw.errs, err)
	}
}

// check latches a usage error for events delivered outside the
// header..end window.
func (cw *ClassWriter) check(event string) {
	if cw.done {
		cw.fail(errz.Usage("%s visited after class end", event))
	} else if !cw.haveHeader {
		cw.fail(errz.Usage("%s visited before class header", event))
	}
}

func (cw *ClassWriter) VisitHeader(minor, major uint16, access uint16, name, superName string, interfaces []string) {
	if cw.done {
		cw.fail(errz.Usage("class header visited after class end"))
		return
	}
	if cw.haveHeader {
		cw.fail(errz.Usage("class header visited twice"))
		return
	}
	cw.haveHeader = true
	cw.minor = minor
	cw.major = major
	cw.access = access
	cw.thisClass = name
	cw.superClass = superName
	cw.interfaces = append([]string(nil), interfaces...)
}

func (cw *ClassWriter) VisitSourceFile(name string) {
	cw.check("source file")
	cw.sourceFile = name
}

func (cw *ClassWriter) VisitInnerClass(name, outerName, innerName string, access uint16) {
	cw.check("inner class")
	cw.inner = append(cw.inner, innerClass{name, outerName, innerName, access})
}

func (cw *ClassWriter) VisitField(access uint16, name, descriptor string) classfile.FieldVisitor {
	cw.check("field")
	fw := &fieldWriter{cw: cw, access: access, name: name, descriptor: descriptor}
	cw.fields = append(cw.fields, fw)
	return fw
}

func (cw *ClassWriter) VisitMethod(access uint16, name, descriptor string) classfile.MethodVisitor {
	cw.check("method")
	mw := &methodWriter{cw: cw, access: access, name: name, descriptor: descriptor}
	cw.methods = append(cw.methods, mw)
	return mw
}

func (cw *ClassWriter) VisitAttribute(name string, data []byte) {
	cw.check("class attribute")
	cw.attrs = append(cw.attrs, rawAttr{name, data})
}

func (cw *ClassWriter) VisitEnd() {
	cw.done = true
}

// Bytes lays out and assembles the class file. All errors latched during
// event delivery and finalization are returned together.
func (cw *ClassWriter) Bytes() ([]byte, error) {
	if !cw.haveHeader {
		return nil, errz.Usage("no class header visited")
	}

	// The body is encoded into a scratch buffer first so every constant
	// is interned before the pool itself is written.
	body := bin.NewBuffer()
	body.U16(uint16(len(cw.fields)))
	for _, fw := range cw.fields {
		fw.encode(body)
	}
	body.U16(uint16(len(cw.methods)))
	for _, mw := range cw.methods {
		mw.encode(body)
	}
	cw.encodeClassAttributes(body)

	thisIdx := cw.internClass(cw.thisClass)
	superIdx := uint16(0)
	if cw.superClass != "" {
		superIdx = cw.internClass(cw.superClass)
	}
	ifaceIdx := make([]uint16, len(cw.interfaces))
	for i, name := range cw.interfaces {
		ifaceIdx[i] = cw.internClass(name)
	}

	if err := cw.errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	out := bin.NewBuffer()
	out.U32(classfile.Magic)
	out.U16(cw.minor)
	out.U16(cw.major)
	if err := cw.st.Encode(out); err != nil {
		return nil, err
	}
	out.U16(cw.access)
	out.U16(thisIdx)
	out.U16(superIdx)
	out.U16(uint16(len(ifaceIdx)))
	for _, idx := range ifaceIdx {
		out.U16(idx)
	}
	out.Write(body.Bytes())

	cw.log.Debug().
		Str("class", cw.thisClass).
		Int("fields", len(cw.fields)).
		Int("methods", len(cw.methods)).
		Int("pool", cw.st.Count()).
		Int("bytes", out.Len()).
		Msg("class assembled")
	return out.Bytes(), nil
}

func (cw *ClassWriter) encodeClassAttributes(body *bin.Buffer) {
	count := len(cw.attrs)
	if cw.sourceFile != "" {
		count++
	}
	if len(cw.inner) > 0 {
		count++
	}
	body.U16(uint16(count))
	if cw.sourceFile != "" {
		body.U16(cw.internUtf8("SourceFile"))
		body.U32(2)
		body.U16(cw.internUtf8(cw.sourceFile))
	}
	if len(cw.inner) > 0 {
		body.U16(cw.internUtf8("InnerClasses"))
		inner := bin.NewBuffer()
		inner.U16(uint16(len(cw.inner)))
		for _, ic := range cw.inner {
			inner.U16(cw.internClass(ic.name))
			if ic.outerName != "" {
				inner.U16(cw.internClass(ic.outerName))
			} else {
				inner.U16(0)
			}
			if ic.innerName != "" {
				inner.U16(cw.internUtf8(ic.innerName))
			} else {
				inner.U16(0)
			}
			inner.U16(ic.access)
		}
		body.Splice(inner)
	}
	for _, a := range cw.attrs {
		cw.encodeRawAttr(body, a)
	}
}

func (cw *ClassWriter) encodeRawAttr(body *bin.Buffer, a rawAttr) {
	body.U16(cw.internUtf8(a.name))
	body.U32(uint32(len(a.data)))
	body.Write(a.data)
}

// Interning helpers that latch errors instead of returning them, for use
// inside encoding where a bad index is corrected at Bytes time by the
// latched error aborting assembly.

func (cw *ClassWriter) internUtf8(s string) uint16 {
	idx, err := cw.st.Utf8(s)
	cw.fail(err)
	return idx
}

func (cw *ClassWriter) internClass(name string) uint16 {
	idx, err := cw.st.Class(name)
	cw.fail(err)
	return idx
}

// internConstant interns an ldc or ConstantValue operand and reports
// whether it is a two-slot constant.
func (cw *ClassWriter) internConstant(v any) (uint16, bool) {
	switch c := v.(type) {
	case int:
		idx, err := cw.st.Integer(int32(c))
		cw.fail(err)
		return idx, false
	case int32:
		idx, err := cw.st.Integer(c)
		cw.fail(err)
		return idx, false
	case int64:
		idx, err := cw.st.Long(c)
		cw.fail(err)
		return idx, true
	case float32:
		idx, err := cw.st.Float(c)
		cw.fail(err)
		return idx, false
	case float64:
		idx, err := cw.st.Double(c)
		cw.fail(err)
		return idx, true
	case string:
		idx, err := cw.st.String(c)
		cw.fail(err)
		return idx, false
	case types.Type:
		switch c.Sort() {
		case types.Method:
			idx, err := cw.st.MethodType(c.Descriptor())
			cw.fail(err)
			return idx, false
		case types.Array:
			return cw.internClass(c.Descriptor()), false
		default:
			return cw.internClass(c.InternalName()), false
		}
	case classfile.Handle:
		idx, err := cw.st.MethodHandle(c.Kind, c.Owner, c.Name, c.Descriptor, c.Interface)
		cw.fail(err)
		return idx, false
	case classfile.ConstDynamic:
		idx, err := cw.st.Dynamic(c.Bootstrap, c.Name, c.Descriptor)
		cw.fail(err)
		return idx, false
	default:
		cw.fail(errz.Usage("unsupported constant %T", v))
		return 0, false
	}
}

// fieldWriter accumulates one field.
type fieldWriter struct {
	cw         *ClassWriter
	access     uint16
	name       string
	descriptor string
	constValue any
	hasConst   bool
	attrs      []rawAttr
}

var _ classfile.FieldVisitor = (*fieldWriter)(nil)

func (fw *fieldWriter) VisitConstantValue(value any) {
	fw.constValue = value
	fw.hasConst = true
}

func (fw *fieldWriter) VisitAttribute(name string, data []byte) {
	fw.attrs = append(fw.attrs, rawAttr{name, data})
}

func (fw *fieldWriter) VisitEnd() {}

func (fw *fieldWriter) encode(body *bin.Buffer) {
	cw := fw.cw
	body.U16(fw.access)
	body.U16(cw.internUtf8(fw.name))
	body.U16(cw.internUtf8(fw.descriptor))
	count := len(fw.attrs)
	if fw.hasConst {
		count++
	}
	body.U16(uint16(count))
	if fw.hasConst {
		idx, _ := cw.internConstant(fw.constValue)
		body.U16(cw.internUtf8("ConstantValue"))
		body.U32(2)
		body.U16(idx)
	}
	for _, a := range fw.attrs {
		cw.encodeRawAttr(body, a)
	}
}
