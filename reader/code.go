package reader

import (
	"github.com/cloudcmds/classfile"
	"github.com/cloudcmds/classfile/errz"
	"github.com/cloudcmds/classfile/internal/bin"
	"github.com/cloudcmds/classfile/op"
	"github.com/cloudcmds/classfile/pool"
	"github.com/cloudcmds/classfile/types"
)

type exceptionEntry struct {
	start, end, handler uint16
	catchType           uint16
}

type lineEntry struct {
	pc   uint16
	line uint16
}

type localVarEntry struct {
	start, length uint16
	name          string
	descriptor    string
	index         uint16
}

// readCode decodes one Code attribute and replays it as method events.
func (cr *ClassReader) readCode(data []byte, mv classfile.MethodVisitor, cfg *classfile.Config, access uint16, name, descriptor string) {
	r := bin.NewReader(data)
	maxStack := int(r.U16())
	maxLocals := int(r.U16())
	codeLen := int(r.U32())
	code := r.Bytes(codeLen)

	exceptions := make([]exceptionEntry, int(r.U16()))
	for i := range exceptions {
		exceptions[i] = exceptionEntry{r.U16(), r.U16(), r.U16(), r.U16()}
	}

	var lines []lineEntry
	var localVars []localVarEntry
	var stackMap []byte
	type rawAttr struct {
		name string
		data []byte
	}
	var extra []rawAttr
	for i, n := 0, int(r.U16()); i < n; i++ {
		attrName, attrData := cr.readAttribute(r)
		switch attrName {
		case "LineNumberTable":
			ar := bin.NewReader(attrData)
			for j, m := 0, int(ar.U16()); j < m; j++ {
				lines = append(lines, lineEntry{ar.U16(), ar.U16()})
			}
		case "LocalVariableTable":
			ar := bin.NewReader(attrData)
			for j, m := 0, int(ar.U16()); j < m; j++ {
				localVars = append(localVars, localVarEntry{
					start:      ar.U16(),
					length:     ar.U16(),
					name:       cr.utf8(ar.U16()),
					descriptor: cr.utf8(ar.U16()),
					index:      ar.U16(),
				})
			}
		case "StackMapTable":
			stackMap = attrData
		default:
			extra = append(extra, rawAttr{attrName, attrData})
		}
	}

	labels := make(map[int]*classfile.Label)
	getLabel := func(off int) *classfile.Label {
		if off < 0 || off > len(code) {
			panic(errz.Format(int64(off), "branch target %d outside code of length %d", off, len(code)))
		}
		l, ok := labels[off]
		if !ok {
			l = classfile.NewLabel()
			labels[off] = l
		}
		return l
	}

	collectTargets(code, getLabel)
	for _, e := range exceptions {
		getLabel(int(e.start))
		getLabel(int(e.end))
		getLabel(int(e.handler))
	}
	for _, l := range lines {
		getLabel(int(l.pc))
	}
	for _, v := range localVars {
		getLabel(int(v.start))
		getLabel(int(v.start) + int(v.length))
	}

	var frames map[int]*classfile.Frame
	if cfg.FrameMode == classfile.FrameModeExpand && stackMap != nil {
		frames = cr.expandStackMap(stackMap, code, getLabel, access, name, descriptor)
	}

	for _, e := range exceptions {
		catchType := ""
		if e.catchType != 0 {
			catchType = cr.className(e.catchType)
		}
		mv.VisitTryCatch(labels[int(e.start)], labels[int(e.end)], labels[int(e.handler)], catchType)
	}

	cr.emitInstructions(code, mv, labels, frames, lines)

	if l, ok := labels[len(code)]; ok {
		mv.VisitLabel(l)
		for _, ln := range lines {
			if int(ln.pc) == len(code) {
				mv.VisitLineNumber(int(ln.line), l)
			}
		}
	}
	for _, v := range localVars {
		mv.VisitLocalVariable(v.name, v.descriptor, labels[int(v.start)], labels[int(v.start)+int(v.length)], int(v.index))
	}
	if cfg.FrameMode == classfile.FrameModeNone && stackMap != nil {
		mv.VisitAttribute("StackMapTable", stackMap)
	}
	for _, a := range extra {
		mv.VisitAttribute(a.name, a.data)
	}
	mv.VisitMaxs(maxStack, maxLocals)
}

// collectTargets scans the bytecode once and materializes a label at every
// branch and switch target.
func collectTargets(code []byte, getLabel func(int) *classfile.Label) {
	r := bin.NewReader(code)
	for r.Remaining() > 0 {
		start := r.Offset()
		c := op.Code(r.U8())
		if !op.Defined(c) {
			panic(errz.Format(int64(start), "undefined opcode 0x%02X", uint8(c)))
		}
		switch op.GetInfo(c).Format {
		case op.FmtNone:
		case op.FmtSByte, op.FmtUByte, op.FmtLocal, op.FmtCP1:
			r.Skip(1)
		case op.FmtShort, op.FmtCP, op.FmtIinc:
			r.Skip(2)
		case op.FmtBranch:
			getLabel(start + int(r.S16()))
		case op.FmtBranchW:
			getLabel(start + int(r.S32()))
		case op.FmtMultiANewArray:
			r.Skip(3)
		case op.FmtInvokeInterface, op.FmtInvokeDynamic:
			r.Skip(4)
		case op.FmtTableSwitch:
			r.Skip(pad4(r.Offset()))
			getLabel(start + int(r.S32()))
			lo, hi := r.S32(), r.S32()
			if hi < lo {
				panic(errz.Format(int64(start), "tableswitch bounds reversed: %d..%d", lo, hi))
			}
			for i := int64(lo); i <= int64(hi); i++ {
				getLabel(start + int(r.S32()))
			}
		case op.FmtLookupSwitch:
			r.Skip(pad4(r.Offset()))
			getLabel(start + int(r.S32()))
			n := r.S32()
			if n < 0 {
				panic(errz.Format(int64(start), "negative lookupswitch pair count %d", n))
			}
			for i := int32(0); i < n; i++ {
				r.Skip(4)
				getLabel(start + int(r.S32()))
			}
		case op.FmtWide:
			if op.Code(r.U8()) == op.IInc {
				r.Skip(4)
			} else {
				r.Skip(2)
			}
		}
	}
}

// emitInstructions walks the bytecode a second time and delivers one event
// per instruction, interleaved with labels, frames, and line numbers.
func (cr *ClassReader) emitInstructions(code []byte, mv classfile.MethodVisitor, labels map[int]*classfile.Label, frames map[int]*classfile.Frame, lines []lineEntry) {
	r := bin.NewReader(code)
	for r.Remaining() > 0 {
		start := r.Offset()
		if l, ok := labels[start]; ok {
			mv.VisitLabel(l)
		}
		if f, ok := frames[start]; ok {
			mv.VisitFrame(f)
		}
		for _, ln := range lines {
			if int(ln.pc) == start {
				mv.VisitLineNumber(int(ln.line), labels[start])
			}
		}

		c := op.Code(r.U8())
		info := op.GetInfo(c)
		switch info.Format {
		case op.FmtNone:
			mv.VisitInsn(c)
		case op.FmtSByte:
			mv.VisitIntInsn(c, int(int8(r.U8())))
		case op.FmtShort:
			mv.VisitIntInsn(c, int(r.S16()))
		case op.FmtUByte:
			mv.VisitIntInsn(c, int(r.U8()))
		case op.FmtLocal:
			mv.VisitVarInsn(c, int(r.U8()))
		case op.FmtCP1:
			mv.VisitLdcInsn(cr.constant(uint16(r.U8())))
		case op.FmtCP:
			cr.emitCPInsn(c, r.U16(), mv)
		case op.FmtBranch:
			target := labels[start+int(r.S16())]
			mv.VisitJumpInsn(c, target)
		case op.FmtBranchW:
			target := labels[start+int(r.S32())]
			// Wide forms are a layout artifact; callers see the narrow
			// opcode and the writer re-widens when needed.
			switch c {
			case op.GotoW:
				mv.VisitJumpInsn(op.Goto, target)
			case op.JsrW:
				mv.VisitJumpInsn(op.Jsr, target)
			}
		case op.FmtIinc:
			index := int(r.U8())
			mv.VisitIincInsn(index, int(int8(r.U8())))
		case op.FmtTableSwitch:
			r.Skip(pad4(r.Offset()))
			dflt := labels[start+int(r.S32())]
			lo, hi := r.S32(), r.S32()
			targets := make([]*classfile.Label, int64(hi)-int64(lo)+1)
			for i := range targets {
				targets[i] = labels[start+int(r.S32())]
			}
			mv.VisitTableSwitchInsn(lo, hi, dflt, targets)
		case op.FmtLookupSwitch:
			r.Skip(pad4(r.Offset()))
			dflt := labels[start+int(r.S32())]
			n := int(r.S32())
			keys := make([]int32, n)
			targets := make([]*classfile.Label, n)
			for i := 0; i < n; i++ {
				keys[i] = r.S32()
				targets[i] = labels[start+int(r.S32())]
			}
			mv.VisitLookupSwitchInsn(dflt, keys, targets)
		case op.FmtInvokeInterface:
			index := r.U16()
			r.Skip(2) // count and zero bytes are recomputed on write
			owner, mname, mdesc, ok := cr.st.MemberRefAt(index)
			if !ok {
				panic(errz.Format(int64(start), "invokeinterface operand %d is not a member ref", index))
			}
			mv.VisitMethodInsn(c, owner, mname, mdesc, true)
		case op.FmtInvokeDynamic:
			index := r.U16()
			r.Skip(2)
			e, ok := cr.st.EntryAt(index)
			if !ok || e.Tag != pool.TagInvokeDynamic {
				panic(errz.Format(int64(start), "invokedynamic operand %d is not an InvokeDynamic entry", index))
			}
			dname, ddesc, ok := cr.st.NameAndTypeAt(e.Ref2)
			if !ok {
				panic(errz.Format(int64(start), "invokedynamic entry %d has a bad name-and-type", index))
			}
			mv.VisitInvokeDynamicInsn(dname, ddesc, e.Ref1)
		case op.FmtMultiANewArray:
			descriptor := cr.className(r.U16())
			mv.VisitMultiANewArrayInsn(descriptor, int(r.U8()))
		case op.FmtWide:
			w := op.Code(r.U8())
			if w == op.IInc {
				index := int(r.U16())
				mv.VisitIincInsn(index, int(r.S16()))
			} else {
				mv.VisitVarInsn(w, int(r.U16()))
			}
		}
	}
}

// emitCPInsn dispatches the 16-bit constant pool operand formats.
func (cr *ClassReader) emitCPInsn(c op.Code, index uint16, mv classfile.MethodVisitor) {
	switch c {
	case op.LdcW, op.Ldc2W:
		mv.VisitLdcInsn(cr.constant(index))
	case op.GetStatic, op.PutStatic, op.GetField, op.PutField:
		owner, name, descriptor, ok := cr.st.MemberRefAt(index)
		if !ok {
			panic(errz.Format(0, "field instruction operand %d is not a member ref", index))
		}
		mv.VisitFieldInsn(c, owner, name, descriptor)
	case op.InvokeVirtual, op.InvokeSpecial, op.InvokeStatic:
		owner, name, descriptor, ok := cr.st.MemberRefAt(index)
		if !ok {
			panic(errz.Format(0, "method instruction operand %d is not a member ref", index))
		}
		e, _ := cr.st.EntryAt(index)
		mv.VisitMethodInsn(c, owner, name, descriptor, e.Tag == pool.TagInterfaceMethodRef)
	case op.New, op.ANewArray, op.CheckCast, op.InstanceOf:
		mv.VisitTypeInsn(c, cr.className(index))
	default:
		panic(errz.Format(0, "unexpected constant pool instruction %s", op.GetInfo(c).Name))
	}
}

// pad4 returns the number of padding bytes needed to align off to the next
// multiple of four.
func pad4(off int) int {
	return (4 - off&3) & 3
}

// expandStackMap decodes a StackMapTable attribute into full frames keyed
// by bytecode offset, applying each compressed delta to the implicit
// initial frame of the method.
func (cr *ClassReader) expandStackMap(data, code []byte, getLabel func(int) *classfile.Label, access uint16, name, descriptor string) map[int]*classfile.Frame {
	r := bin.NewReader(data)
	frames := make(map[int]*classfile.Frame)

	// Locals are tracked in compressed form here, one entry per type with
	// no placeholder slots, which is what chop and append operate on.
	locals := cr.initialLocals(access, name, descriptor)

	readType := func() classfile.VerificationType {
		tag := r.U8()
		switch tag {
		case 0:
			return classfile.Top
		case 1:
			return classfile.Integer
		case 2:
			return classfile.Float
		case 3:
			return classfile.Double
		case 4:
			return classfile.Long
		case 5:
			return classfile.Null
		case 6:
			return classfile.UninitializedThis
		case 7:
			return classfile.ObjectOf(cr.className(r.U16()))
		case 8:
			site := int(r.U16())
			return classfile.UninitializedAt(cr.newTypeAt(code, site), getLabel(site))
		default:
			panic(errz.Format(int64(r.Offset()), "bad verification type tag %d", tag))
		}
	}

	offset := -1
	for i, n := 0, int(r.U16()); i < n; i++ {
		frameType := int(r.U8())
		var stack []classfile.VerificationType
		var delta int
		switch {
		case frameType < 64:
			delta = frameType
		case frameType < 128:
			delta = frameType - 64
			stack = []classfile.VerificationType{readType()}
		case frameType < 247:
			panic(errz.Format(int64(r.Offset()), "reserved stack map frame type %d", frameType))
		case frameType == 247:
			delta = int(r.U16())
			stack = []classfile.VerificationType{readType()}
		case frameType < 251: // chop
			delta = int(r.U16())
			k := 251 - frameType
			if k > len(locals) {
				panic(errz.Format(int64(r.Offset()), "chop frame removes %d of %d locals", k, len(locals)))
			}
			locals = locals[:len(locals)-k]
		case frameType == 251:
			delta = int(r.U16())
		case frameType < 255: // append
			delta = int(r.U16())
			for k := frameType - 251; k > 0; k-- {
				locals = append(locals, readType())
			}
		default: // full frame
			delta = int(r.U16())
			locals = make([]classfile.VerificationType, int(r.U16()))
			for j := range locals {
				locals[j] = readType()
			}
			stack = make([]classfile.VerificationType, int(r.U16()))
			for j := range stack {
				stack[j] = readType()
			}
		}
		offset += delta + 1
		getLabel(offset)
		frames[offset] = &classfile.Frame{
			Locals: expandSlots(locals),
			Stack:  stack,
		}
	}
	return frames
}

// initialLocals builds the compressed local list implied by the method
// descriptor, which is the base frame every stack map delta starts from.
func (cr *ClassReader) initialLocals(access uint16, name, descriptor string) []classfile.VerificationType {
	var locals []classfile.VerificationType
	if access&classfile.AccStatic == 0 {
		if name == "<init>" {
			locals = append(locals, classfile.UninitializedThis)
		} else {
			locals = append(locals, classfile.ObjectOf(cr.ClassName()))
		}
	}
	mt, err := types.MethodType(descriptor)
	if err != nil {
		panic(err)
	}
	for _, arg := range mt.ArgumentTypes() {
		locals = append(locals, verificationTypeOf(arg))
	}
	return locals
}

// verificationTypeOf maps a descriptor type to its verification type.
func verificationTypeOf(t types.Type) classfile.VerificationType {
	switch t.Sort() {
	case types.Boolean, types.Char, types.Byte, types.Short, types.Int:
		return classfile.Integer
	case types.Float:
		return classfile.Float
	case types.Long:
		return classfile.Long
	case types.Double:
		return classfile.Double
	case types.Array:
		return classfile.ObjectOf(t.Descriptor())
	default:
		return classfile.ObjectOf(t.InternalName())
	}
}

// expandSlots converts a compressed local list to slot form, where long
// and double occupy two slots with a top placeholder in the second.
func expandSlots(locals []classfile.VerificationType) []classfile.VerificationType {
	out := make([]classfile.VerificationType, 0, len(locals))
	for _, l := range locals {
		out = append(out, l)
		if l.IsWide() {
			out = append(out, classfile.Top)
		}
	}
	return out
}

// newTypeAt returns the class named by the new instruction at the given
// code offset, so an uninitialized verification type carries the type
// under construction alongside its allocation site.
func (cr *ClassReader) newTypeAt(code []byte, off int) string {
	if off < 0 || off+3 > len(code) || op.Code(code[off]) != op.New {
		panic(errz.Format(int64(off), "uninitialized type offset %d does not address a new instruction", off))
	}
	index := uint16(code[off+1])<<8 | uint16(code[off+2])
	return cr.className(index)
}
