package writer

import (
	"github.com/hashicorp/go-multierror"

	"github.com/cloudcmds/classfile"
	"github.com/cloudcmds/classfile/errz"
	"github.com/cloudcmds/classfile/frames"
	"github.com/cloudcmds/classfile/internal/bin"
	"github.com/cloudcmds/classfile/op"
	"github.com/cloudcmds/classfile/types"
)

type lineInfo struct {
	line int
	at   *classfile.Label
}

type localVarInfo struct {
	name, descriptor string
	start, end       *classfile.Label
	index            int
}

type anchoredFrame struct {
	at    *classfile.Label
	frame *classfile.Frame
}

// methodWriter accumulates one method symbolically. Layout and label
// resolution happen in encode, once all events are in.
type methodWriter struct {
	cw         *ClassWriter
	access     uint16
	name       string
	descriptor string

	code      []frames.Insn
	handlers  []frames.Handler
	lines     []lineInfo
	locals    []localVarInfo
	frames    []anchoredFrame
	maxStack  int
	maxLocals int
	sawCode   bool
	sawMaxs   bool

	methodAttrs []rawAttr
	codeAttrs   []rawAttr
}

var _ classfile.MethodVisitor = (*methodWriter)(nil)

func (mw *methodWriter) add(in frames.Insn) {
	mw.sawCode = true
	mw.code = append(mw.code, in)
}

func (mw *methodWriter) VisitInsn(opcode op.Code) {
	mw.add(frames.Insn{Op: opcode})
}

func (mw *methodWriter) VisitIntInsn(opcode op.Code, operand int) {
	mw.add(frames.Insn{Op: opcode, Operand: operand})
}

func (mw *methodWriter) VisitVarInsn(opcode op.Code, index int) {
	mw.add(frames.Insn{Op: opcode, Operand: index})
}

func (mw *methodWriter) VisitTypeInsn(opcode op.Code, name string) {
	in := frames.Insn{Op: opcode, Name: name}
	if opcode == op.New {
		// The allocation site identifies the uninitialized value during
		// frame computation and in emitted frames.
		in.Site = classfile.NewLabel()
	}
	mw.add(in)
}

func (mw *methodWriter) VisitFieldInsn(opcode op.Code, owner, name, descriptor string) {
	mw.add(frames.Insn{Op: opcode, Owner: owner, Name: name, Desc: descriptor})
}

func (mw *methodWriter) VisitMethodInsn(opcode op.Code, owner, name, descriptor string, itf bool) {
	mw.add(frames.Insn{Op: opcode, Owner: owner, Name: name, Desc: descriptor, Itf: itf})
}

func (mw *methodWriter) VisitInvokeDynamicInsn(name, descriptor string, bootstrap uint16) {
	mw.add(frames.Insn{Op: op.InvokeDynamic, Name: name, Desc: descriptor, Operand: int(bootstrap)})
}

func (mw *methodWriter) VisitJumpInsn(opcode op.Code, target *classfile.Label) {
	mw.add(frames.Insn{Op: opcode, Target: target})
}

func (mw *methodWriter) VisitLabel(label *classfile.Label) {
	mw.sawCode = true
	mw.code = append(mw.code, frames.Insn{Mark: label})
}

func (mw *methodWriter) VisitLdcInsn(value any) {
	mw.add(frames.Insn{Op: op.Ldc, Const: value})
}

func (mw *methodWriter) VisitIincInsn(index, delta int) {
	mw.add(frames.Insn{Op: op.IInc, Operand: index, Delta: delta})
}

func (mw *methodWriter) VisitTableSwitchInsn(lo, hi int32, dflt *classfile.Label, targets []*classfile.Label) {
	mw.add(frames.Insn{Op: op.TableSwitch, Lo: lo, Hi: hi, Dflt: dflt, Targets: targets})
}

func (mw *methodWriter) VisitLookupSwitchInsn(dflt *classfile.Label, keys []int32, targets []*classfile.Label) {
	mw.add(frames.Insn{Op: op.LookupSwitch, Dflt: dflt, Keys: keys, Targets: targets})
}

func (mw *methodWriter) VisitMultiANewArrayInsn(descriptor string, dims int) {
	mw.add(frames.Insn{Op: op.MultiANewArray, Name: descriptor, Operand: dims})
}

func (mw *methodWriter) VisitTryCatch(start, end, handler *classfile.Label, catchType string) {
	mw.sawCode = true
	mw.handlers = append(mw.handlers, frames.Handler{Start: start, End: end, Catch: handler, CatchType: catchType})
}

func (mw *methodWriter) VisitFrame(frame *classfile.Frame) {
	mw.sawCode = true
	at := mw.anchor()
	mw.frames = append(mw.frames, anchoredFrame{at: at, frame: frame.Clone()})
}

// anchor returns a label bound at the current position, reusing one the
// caller just visited.
func (mw *methodWriter) anchor() *classfile.Label {
	if n := len(mw.code); n > 0 && mw.code[n-1].Mark != nil {
		return mw.code[n-1].Mark
	}
	l := classfile.NewLabel()
	mw.code = append(mw.code, frames.Insn{Mark: l})
	return l
}

func (mw *methodWriter) VisitLineNumber(line int, start *classfile.Label) {
	mw.lines = append(mw.lines, lineInfo{line: line, at: start})
}

func (mw *methodWriter) VisitLocalVariable(name, descriptor string, start, end *classfile.Label, index int) {
	mw.locals = append(mw.locals, localVarInfo{name: name, descriptor: descriptor, start: start, end: end, index: index})
}

func (mw *methodWriter) VisitMaxs(maxStack, maxLocals int) {
	mw.sawMaxs = true
	mw.maxStack = maxStack
	mw.maxLocals = maxLocals
}

func (mw *methodWriter) VisitAttribute(name string, data []byte) {
	if name == "StackMapTable" && mw.cw.cfg.FrameMode != classfile.FrameModeNone {
		// The table is recomputed or re-encoded from frame events; a
		// verbatim copy would duplicate it.
		return
	}
	if mw.sawCode && !mw.sawMaxs {
		mw.codeAttrs = append(mw.codeAttrs, rawAttr{name, data})
	} else {
		mw.methodAttrs = append(mw.methodAttrs, rawAttr{name, data})
	}
}

func (mw *methodWriter) VisitEnd() {}

func (mw *methodWriter) encode(body *bin.Buffer) {
	cw := mw.cw
	body.U16(mw.access)
	body.U16(cw.internUtf8(mw.name))
	body.U16(cw.internUtf8(mw.descriptor))

	count := len(mw.methodAttrs)
	if mw.sawCode {
		count++
	}
	body.U16(uint16(count))
	if mw.sawCode {
		code, err := mw.assembleCode()
		if err != nil {
			cw.fail(err)
		} else {
			body.U16(cw.internUtf8("Code"))
			body.Splice(code)
		}
	}
	for _, a := range mw.methodAttrs {
		cw.encodeRawAttr(body, a)
	}
}

// emitted frames and size limits per method.
func (mw *methodWriter) assembleCode() (*bin.Buffer, error) {
	cw := mw.cw

	emit := mw.frames
	maxStack, maxLocals := mw.maxStack, mw.maxLocals
	switch cw.cfg.FrameMode {
	case classfile.FrameModeCompute:
		m := &frames.Method{
			Owner:      cw.thisClass,
			Access:     mw.access,
			Name:       mw.name,
			Descriptor: mw.descriptor,
			Code:       mw.code,
			Handlers:   mw.handlers,
		}
		res, err := frames.Compute(m, cw.cfg)
		if err != nil {
			return nil, err
		}
		emit = nil
		for _, f := range res.Frames {
			emit = append(emit, anchoredFrame{at: f.At, frame: f.Frame})
		}
		maxStack, maxLocals = res.MaxStack, res.MaxLocals
	default:
		if !mw.sawMaxs {
			return nil, errz.Usage("method %s%s has code but no max stack and locals", mw.name, mw.descriptor)
		}
	}

	meta := mw.internOperands()
	labelOff, err := mw.layout(meta)
	if err != nil {
		return nil, err
	}

	codeBuf, err := mw.emitCode(meta, labelOff)
	if err != nil {
		return nil, err
	}

	limit := cw.cfg.MaxCodeSize
	if limit <= 0 || limit > 65535 {
		limit = 65535
	}
	if codeBuf.Len() > limit {
		return nil, errz.Capacity("method code", codeBuf.Len(), limit)
	}

	out := bin.NewBuffer()
	out.U16(uint16(maxStack))
	out.U16(uint16(maxLocals))
	out.U32(uint32(codeBuf.Len()))
	out.Write(codeBuf.Bytes())

	out.U16(uint16(len(mw.handlers)))
	for _, h := range mw.handlers {
		start, ok1 := labelOff[h.Start]
		end, ok2 := labelOff[h.End]
		catch, ok3 := labelOff[h.Catch]
		if !ok1 || !ok2 || !ok3 {
			return nil, errz.Usage("exception handler in %s references an unbound label", mw.name)
		}
		out.U16(uint16(start))
		out.U16(uint16(end))
		out.U16(uint16(catch))
		if h.CatchType == "" {
			out.U16(0)
		} else {
			out.U16(cw.internClass(h.CatchType))
		}
	}

	mw.encodeCodeAttributes(out, emit, labelOff)
	return out, nil
}

// insnMeta carries the layout inputs computed once per instruction before
// the size fixed point runs.
type insnMeta struct {
	cp     uint16 // interned pool operand
	twoCP  bool   // ldc operand occupies two pool slots
	count  uint8  // invokeinterface argument slot count
	wide   bool   // promoted branch
	hasVar bool   // wide local form needed
}

func (mw *methodWriter) internOperands() []insnMeta {
	cw := mw.cw
	meta := make([]insnMeta, len(mw.code))
	for i := range mw.code {
		in := &mw.code[i]
		if in.Mark != nil {
			continue
		}
		m := &meta[i]
		switch in.Op {
		case op.Ldc:
			m.cp, m.twoCP = cw.internConstant(in.Const)
		case op.GetStatic, op.PutStatic, op.GetField, op.PutField:
			idx, err := cw.st.FieldRef(in.Owner, in.Name, in.Desc)
			cw.fail(err)
			m.cp = idx
		case op.InvokeVirtual, op.InvokeSpecial, op.InvokeStatic, op.InvokeInterface:
			var idx uint16
			var err error
			if in.Itf {
				idx, err = cw.st.InterfaceMethodRef(in.Owner, in.Name, in.Desc)
			} else {
				idx, err = cw.st.MethodRef(in.Owner, in.Name, in.Desc)
			}
			cw.fail(err)
			m.cp = idx
			if in.Op == op.InvokeInterface {
				m.count = uint8(1 + argSlots(in.Desc, cw))
			}
		case op.InvokeDynamic:
			idx, err := cw.st.InvokeDynamic(uint16(in.Operand), in.Name, in.Desc)
			cw.fail(err)
			m.cp = idx
		case op.New, op.ANewArray, op.CheckCast, op.InstanceOf, op.MultiANewArray:
			m.cp = cw.internClass(in.Name)
		}
		switch op.GetInfo(in.Op).Format {
		case op.FmtLocal:
			m.hasVar = in.Operand > 255
		case op.FmtIinc:
			m.hasVar = in.Operand > 255 || in.Delta < -128 || in.Delta > 127
		}
	}
	return meta
}

func argSlots(descriptor string, cw *ClassWriter) int {
	mt, err := types.MethodType(descriptor)
	if err != nil {
		cw.fail(err)
		return 0
	}
	n := 0
	for _, arg := range mt.ArgumentTypes() {
		n += arg.Size()
	}
	return n
}

// layout assigns an offset to every instruction and label, widening
// branches whose 16-bit offsets overflow until the assignment is stable.
// Widening only grows instructions, so the iteration terminates.
func (mw *methodWriter) layout(meta []insnMeta) (map[*classfile.Label]int, error) {
	labelOff := make(map[*classfile.Label]int)
	offsets := make([]int, len(mw.code))
	passes := 0

	for {
		passes++
		off := 0
		for i := range mw.code {
			in := &mw.code[i]
			offsets[i] = off
			if in.Mark != nil {
				labelOff[in.Mark] = off
				continue
			}
			if in.Site != nil {
				labelOff[in.Site] = off
			}
			off += mw.insnSize(in, &meta[i], off)
		}

		changed := false
		for i := range mw.code {
			in := &mw.code[i]
			if in.Mark != nil || meta[i].wide {
				continue
			}
			f := op.GetInfo(in.Op).Format
			if f != op.FmtBranch {
				continue
			}
			target, ok := labelOff[in.Target]
			if !ok {
				continue // reported during emission
			}
			if delta := target - offsets[i]; delta < -32768 || delta > 32767 {
				meta[i].wide = true
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	mw.cw.log.Trace().
		Str("method", mw.name+mw.descriptor).
		Int("passes", passes).
		Msg("code layout stabilized")
	return labelOff, nil
}

// insnSize returns the encoded size of one instruction when it starts at
// the given offset. Switch padding makes the result offset dependent.
func (mw *methodWriter) insnSize(in *frames.Insn, m *insnMeta, off int) int {
	info := op.GetInfo(in.Op)
	switch info.Format {
	case op.FmtCP1:
		// ldc family: the pool index and constant width pick the form.
		if m.twoCP {
			return 3
		}
		if m.cp > 255 {
			return 3
		}
		return 2
	case op.FmtLocal:
		if m.hasVar {
			return 4
		}
		if in.Op != op.Ret && in.Operand <= 3 {
			return 1
		}
		return 2
	case op.FmtIinc:
		if m.hasVar {
			return 6
		}
		return 3
	case op.FmtBranch:
		if m.wide {
			if info.Flow == op.FlowCondBranch {
				return 8 // inverted condition plus goto_w
			}
			return 5
		}
		return 3
	case op.FmtTableSwitch:
		return 1 + pad4(off+1) + 12 + 4*len(in.Targets)
	case op.FmtLookupSwitch:
		return 1 + pad4(off+1) + 8 + 8*len(in.Keys)
	default:
		return op.FixedSize(in.Op)
	}
}

// patch is a recorded forward reference: a relative offset slot in the
// code buffer awaiting its label.
type patch struct {
	at     int // position of the offset slot in the buffer
	from   int // origin the offset is relative to
	target *classfile.Label
	wide   bool
}

// emitCode writes the instruction stream, recording a patch for every
// label reference and back-filling them once all offsets are known.
func (mw *methodWriter) emitCode(meta []insnMeta, labelOff map[*classfile.Label]int) (*bin.Buffer, error) {
	buf := bin.NewBuffer()
	var patches []patch

	ref := func(target *classfile.Label, from int, wide bool) {
		patches = append(patches, patch{at: buf.Len(), from: from, target: target, wide: wide})
		if wide {
			buf.U32(0)
		} else {
			buf.U16(0)
		}
	}

	for i := range mw.code {
		in := &mw.code[i]
		if in.Mark != nil {
			continue
		}
		m := &meta[i]
		start := buf.Len()
		info := op.GetInfo(in.Op)
		switch info.Format {
		case op.FmtNone:
			buf.U8(uint8(in.Op))
		case op.FmtSByte:
			buf.U8(uint8(in.Op))
			buf.U8(uint8(int8(in.Operand)))
		case op.FmtShort:
			buf.U8(uint8(in.Op))
			buf.U16(uint16(int16(in.Operand)))
		case op.FmtUByte:
			buf.U8(uint8(in.Op))
			buf.U8(uint8(in.Operand))
		case op.FmtLocal:
			mw.emitVarInsn(buf, in, m)
		case op.FmtCP1:
			switch {
			case m.twoCP:
				buf.U8(uint8(op.Ldc2W))
				buf.U16(m.cp)
			case m.cp > 255:
				buf.U8(uint8(op.LdcW))
				buf.U16(m.cp)
			default:
				buf.U8(uint8(op.Ldc))
				buf.U8(uint8(m.cp))
			}
		case op.FmtCP:
			buf.U8(uint8(in.Op))
			buf.U16(m.cp)
		case op.FmtBranch:
			mw.emitBranch(buf, in, m, start, ref)
		case op.FmtBranchW:
			buf.U8(uint8(in.Op))
			ref(in.Target, start, true)
		case op.FmtIinc:
			if m.hasVar {
				buf.U8(uint8(op.Wide))
				buf.U8(uint8(op.IInc))
				buf.U16(uint16(in.Operand))
				buf.U16(uint16(int16(in.Delta)))
			} else {
				buf.U8(uint8(op.IInc))
				buf.U8(uint8(in.Operand))
				buf.U8(uint8(int8(in.Delta)))
			}
		case op.FmtTableSwitch:
			buf.U8(uint8(in.Op))
			for p := pad4(buf.Len()); p > 0; p-- {
				buf.U8(0)
			}
			ref(in.Dflt, start, true)
			buf.U32(uint32(in.Lo))
			buf.U32(uint32(in.Hi))
			for _, t := range in.Targets {
				ref(t, start, true)
			}
		case op.FmtLookupSwitch:
			buf.U8(uint8(in.Op))
			for p := pad4(buf.Len()); p > 0; p-- {
				buf.U8(0)
			}
			ref(in.Dflt, start, true)
			buf.U32(uint32(len(in.Keys)))
			for k, key := range in.Keys {
				buf.U32(uint32(key))
				ref(in.Targets[k], start, true)
			}
		case op.FmtInvokeInterface:
			buf.U8(uint8(in.Op))
			buf.U16(m.cp)
			buf.U8(m.count)
			buf.U8(0)
		case op.FmtInvokeDynamic:
			buf.U8(uint8(in.Op))
			buf.U16(m.cp)
			buf.U16(0)
		case op.FmtMultiANewArray:
			buf.U8(uint8(in.Op))
			buf.U16(m.cp)
			buf.U8(uint8(in.Operand))
		default:
			return nil, errz.Usage("cannot encode opcode %s", info.Name)
		}
	}

	var unresolved *multierror.Error
	for _, p := range patches {
		target, ok := labelOff[p.target]
		if !ok {
			unresolved = multierror.Append(unresolved,
				errz.Usage("label %s referenced in %s%s but never bound", p.target, mw.name, mw.descriptor))
			continue
		}
		delta := target - p.from
		if p.wide {
			buf.SetU32(p.at, uint32(int32(delta)))
		} else {
			buf.SetU16(p.at, uint16(int16(delta)))
		}
	}
	if err := unresolved.ErrorOrNil(); err != nil {
		return nil, err
	}
	return buf, nil
}

func (mw *methodWriter) emitVarInsn(buf *bin.Buffer, in *frames.Insn, m *insnMeta) {
	if m.hasVar {
		buf.U8(uint8(op.Wide))
		buf.U8(uint8(in.Op))
		buf.U16(uint16(in.Operand))
		return
	}
	if in.Op != op.Ret && in.Operand <= 3 {
		// Compact zero-operand forms: iload_0 sits at iload_0 + 4*family.
		var base op.Code
		if in.Op >= op.IStore {
			base = op.IStore0 + (in.Op-op.IStore)*4
		} else {
			base = op.ILoad0 + (in.Op-op.ILoad)*4
		}
		buf.U8(uint8(base + op.Code(in.Operand)))
		return
	}
	buf.U8(uint8(in.Op))
	buf.U8(uint8(in.Operand))
}

// emitBranch writes a branch in narrow, wide, or inverted-condition form.
func (mw *methodWriter) emitBranch(buf *bin.Buffer, in *frames.Insn, m *insnMeta, start int, ref func(*classfile.Label, int, bool)) {
	info := op.GetInfo(in.Op)
	if !m.wide {
		buf.U8(uint8(in.Op))
		ref(in.Target, start, false)
		return
	}
	if info.Flow == op.FlowCondBranch {
		// No wide conditional form exists, so the condition is inverted to
		// hop over a goto_w that carries the 32-bit offset.
		buf.U8(uint8(op.Negate(in.Op)))
		buf.U16(8)
		buf.U8(uint8(op.GotoW))
		ref(in.Target, start+3, true)
		return
	}
	switch in.Op {
	case op.Goto:
		buf.U8(uint8(op.GotoW))
	case op.Jsr:
		buf.U8(uint8(op.JsrW))
	default:
		buf.U8(uint8(in.Op))
	}
	ref(in.Target, start, true)
}

// encodeCodeAttributes writes the nested attributes of a Code attribute.
func (mw *methodWriter) encodeCodeAttributes(out *bin.Buffer, emit []anchoredFrame, labelOff map[*classfile.Label]int) {
	cw := mw.cw

	count := len(mw.codeAttrs)
	if len(mw.lines) > 0 {
		count++
	}
	if len(mw.locals) > 0 {
		count++
	}
	var stackMap *bin.Buffer
	if len(emit) > 0 {
		var err error
		stackMap, err = mw.encodeStackMap(emit, labelOff)
		if err != nil {
			cw.fail(err)
		} else {
			count++
		}
	}
	out.U16(uint16(count))

	if len(mw.lines) > 0 {
		out.U16(cw.internUtf8("LineNumberTable"))
		tbl := bin.NewBuffer()
		tbl.U16(uint16(len(mw.lines)))
		for _, ln := range mw.lines {
			tbl.U16(uint16(labelOff[ln.at]))
			tbl.U16(uint16(ln.line))
		}
		out.Splice(tbl)
	}
	if len(mw.locals) > 0 {
		out.U16(cw.internUtf8("LocalVariableTable"))
		tbl := bin.NewBuffer()
		tbl.U16(uint16(len(mw.locals)))
		for _, lv := range mw.locals {
			start := labelOff[lv.start]
			end := labelOff[lv.end]
			tbl.U16(uint16(start))
			tbl.U16(uint16(end - start))
			tbl.U16(cw.internUtf8(lv.name))
			tbl.U16(cw.internUtf8(lv.descriptor))
			tbl.U16(uint16(lv.index))
		}
		out.Splice(tbl)
	}
	if stackMap != nil {
		out.U16(cw.internUtf8("StackMapTable"))
		out.Splice(stackMap)
	}
	for _, a := range mw.codeAttrs {
		cw.encodeRawAttr(out, a)
	}
}

func pad4(off int) int {
	return (4 - off&3) & 3
}
