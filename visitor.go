package classfile

import "github.com/cloudcmds/classfile/op"

// ClassVisitor receives the structural events of one class file, in a
// fixed order: VisitHeader first, then any mix of VisitSourceFile,
// VisitInnerClass, VisitField, VisitMethod, and VisitAttribute, then
// VisitEnd. Delivering events out of this order is a usage error.
type ClassVisitor interface {
	// VisitHeader receives the class file version, access flags, this
	// class, super class (empty for the root object class), and direct
	// superinterfaces, all as internal names.
	VisitHeader(minor, major uint16, access uint16, name, superName string, interfaces []string)

	// VisitSourceFile receives the SourceFile attribute, if present.
	VisitSourceFile(name string)

	// VisitInnerClass receives one entry of the InnerClasses attribute.
	// outerName and innerName may be empty for anonymous classes.
	VisitInnerClass(name, outerName, innerName string, access uint16)

	// VisitField starts a field. The returned FieldVisitor receives the
	// field's attributes; it may be nil to skip the field.
	VisitField(access uint16, name, descriptor string) FieldVisitor

	// VisitMethod starts a method. The returned MethodVisitor receives
	// the method's code events; it may be nil to skip the method.
	VisitMethod(access uint16, name, descriptor string) MethodVisitor

	// VisitAttribute receives a class-level attribute not otherwise
	// decoded, as an opaque byte range to be re-emitted verbatim.
	VisitAttribute(name string, data []byte)

	// VisitEnd marks the end of the class.
	VisitEnd()
}

// FieldVisitor receives the events of one field.
type FieldVisitor interface {
	// VisitConstantValue receives the field's ConstantValue attribute:
	// an int32, int64, float32, float64, or string.
	VisitConstantValue(value any)

	// VisitAttribute receives an undecoded field attribute.
	VisitAttribute(name string, data []byte)

	// VisitEnd marks the end of the field.
	VisitEnd()
}

// MethodVisitor receives the events of one method, in bytecode order.
// Code events (instructions, labels, frames, line numbers) may be freely
// interleaved; VisitMaxs and VisitEnd come last, in that order.
type MethodVisitor interface {
	// VisitInsn receives an instruction without operands.
	VisitInsn(opcode op.Code)

	// VisitIntInsn receives bipush, sipush, or newarray.
	VisitIntInsn(opcode op.Code, operand int)

	// VisitVarInsn receives a local variable load, store, or ret.
	VisitVarInsn(opcode op.Code, index int)

	// VisitTypeInsn receives new, anewarray, checkcast, or instanceof
	// with the internal name of its class operand.
	VisitTypeInsn(opcode op.Code, name string)

	// VisitFieldInsn receives a field access instruction.
	VisitFieldInsn(opcode op.Code, owner, name, descriptor string)

	// VisitMethodInsn receives a method invocation instruction other
	// than invokedynamic. itf marks an interface owner.
	VisitMethodInsn(opcode op.Code, owner, name, descriptor string, itf bool)

	// VisitInvokeDynamicInsn receives an invokedynamic call site. The
	// bootstrap index refers to the class's bootstrap method table.
	VisitInvokeDynamicInsn(name, descriptor string, bootstrap uint16)

	// VisitJumpInsn receives a branch instruction and its target.
	VisitJumpInsn(opcode op.Code, target *Label)

	// VisitLabel marks the current position in the instruction stream.
	VisitLabel(label *Label)

	// VisitLdcInsn receives a constant load. The value is an int32,
	// int64, float32, float64, string, types.Type, Handle, or
	// ConstDynamic.
	VisitLdcInsn(value any)

	// VisitIincInsn receives an iinc instruction.
	VisitIincInsn(index, delta int)

	// VisitTableSwitchInsn receives a tableswitch covering keys lo..hi.
	VisitTableSwitchInsn(lo, hi int32, dflt *Label, targets []*Label)

	// VisitLookupSwitchInsn receives a lookupswitch. keys and targets
	// are parallel and keys are sorted ascending.
	VisitLookupSwitchInsn(dflt *Label, keys []int32, targets []*Label)

	// VisitMultiANewArrayInsn receives a multianewarray with the array
	// type descriptor and the number of dimensions to allocate.
	VisitMultiANewArrayInsn(descriptor string, dims int)

	// VisitTryCatch declares an exception handler over [start, end).
	// catchType is the internal name of the caught class, or empty to
	// catch anything.
	VisitTryCatch(start, end, handler *Label, catchType string)

	// VisitFrame receives the expanded stack map frame that applies at
	// the current position.
	VisitFrame(frame *Frame)

	// VisitLineNumber associates a source line with a position.
	VisitLineNumber(line int, start *Label)

	// VisitLocalVariable declares a named local variable live over
	// [start, end).
	VisitLocalVariable(name, descriptor string, start, end *Label, index int)

	// VisitMaxs receives the operand stack and local variable sizes.
	VisitMaxs(maxStack, maxLocals int)

	// VisitAttribute receives an undecoded code or method attribute.
	VisitAttribute(name string, data []byte)

	// VisitEnd marks the end of the method.
	VisitEnd()
}

// ClassForwarder is a ClassVisitor that forwards every event to Next.
// Transforms embed it and override the events they care about; a nil Next
// discards events. Field and method visitors returned by Next are wrapped
// only by overriding VisitField or VisitMethod.
type ClassForwarder struct {
	Next ClassVisitor
}

func (f *ClassForwarder) VisitHeader(minor, major uint16, access uint16, name, superName string, interfaces []string) {
	if f.Next != nil {
		f.Next.VisitHeader(minor, major, access, name, superName, interfaces)
	}
}

func (f *ClassForwarder) VisitSourceFile(name string) {
	if f.Next != nil {
		f.Next.VisitSourceFile(name)
	}
}

func (f *ClassForwarder) VisitInnerClass(name, outerName, innerName string, access uint16) {
	if f.Next != nil {
		f.Next.VisitInnerClass(name, outerName, innerName, access)
	}
}

func (f *ClassForwarder) VisitField(access uint16, name, descriptor string) FieldVisitor {
	if f.Next != nil {
		return f.Next.VisitField(access, name, descriptor)
	}
	return nil
}

func (f *ClassForwarder) VisitMethod(access uint16, name, descriptor string) MethodVisitor {
	if f.Next != nil {
		return f.Next.VisitMethod(access, name, descriptor)
	}
	return nil
}

func (f *ClassForwarder) VisitAttribute(name string, data []byte) {
	if f.Next != nil {
		f.Next.VisitAttribute(name, data)
	}
}

func (f *ClassForwarder) VisitEnd() {
	if f.Next != nil {
		f.Next.VisitEnd()
	}
}

// MethodForwarder is a MethodVisitor that forwards every event to Next.
// A nil Next discards events.
type MethodForwarder struct {
	Next MethodVisitor
}

func (f *MethodForwarder) VisitInsn(opcode op.Code) {
	if f.Next != nil {
		f.Next.VisitInsn(opcode)
	}
}

func (f *MethodForwarder) VisitIntInsn(opcode op.Code, operand int) {
	if f.Next != nil {
		f.Next.VisitIntInsn(opcode, operand)
	}
}

func (f *MethodForwarder) VisitVarInsn(opcode op.Code, index int) {
	if f.Next != nil {
		f.Next.VisitVarInsn(opcode, index)
	}
}

func (f *MethodForwarder) VisitTypeInsn(opcode op.Code, name string) {
	if f.Next != nil {
		f.Next.VisitTypeInsn(opcode, name)
	}
}

func (f *MethodForwarder) VisitFieldInsn(opcode op.Code, owner, name, descriptor string) {
	if f.Next != nil {
		f.Next.VisitFieldInsn(opcode, owner, name, descriptor)
	}
}

func (f *MethodForwarder) VisitMethodInsn(opcode op.Code, owner, name, descriptor string, itf bool) {
	if f.Next != nil {
		f.Next.VisitMethodInsn(opcode, owner, name, descriptor, itf)
	}
}

func (f *MethodForwarder) VisitInvokeDynamicInsn(name, descriptor string, bootstrap uint16) {
	if f.Next != nil {
		f.Next.VisitInvokeDynamicInsn(name, descriptor, bootstrap)
	}
}

func (f *MethodForwarder) VisitJumpInsn(opcode op.Code, target *Label) {
	if f.Next != nil {
		f.Next.VisitJumpInsn(opcode, target)
	}
}

func (f *MethodForwarder) VisitLabel(label *Label) {
	if f.Next != nil {
		f.Next.VisitLabel(label)
	}
}

func (f *MethodForwarder) VisitLdcInsn(value any) {
	if f.Next != nil {
		f.Next.VisitLdcInsn(value)
	}
}

func (f *MethodForwarder) VisitIincInsn(index, delta int) {
	if f.Next != nil {
		f.Next.VisitIincInsn(index, delta)
	}
}

func (f *MethodForwarder) VisitTableSwitchInsn(lo, hi int32, dflt *Label, targets []*Label) {
	if f.Next != nil {
		f.Next.VisitTableSwitchInsn(lo, hi, dflt, targets)
	}
}

func (f *MethodForwarder) VisitLookupSwitchInsn(dflt *Label, keys []int32, targets []*Label) {
	if f.Next != nil {
		f.Next.VisitLookupSwitchInsn(dflt, keys, targets)
	}
}

func (f *MethodForwarder) VisitMultiANewArrayInsn(descriptor string, dims int) {
	if f.Next != nil {
		f.Next.VisitMultiANewArrayInsn(descriptor, dims)
	}
}

func (f *MethodForwarder) VisitTryCatch(start, end, handler *Label, catchType string) {
	if f.Next != nil {
		f.Next.VisitTryCatch(start, end, handler, catchType)
	}
}

func (f *MethodForwarder) VisitFrame(frame *Frame) {
	if f.Next != nil {
		f.Next.VisitFrame(frame)
	}
}

func (f *MethodForwarder) VisitLineNumber(line int, start *Label) {
	if f.Next != nil {
		f.Next.VisitLineNumber(line, start)
	}
}

func (f *MethodForwarder) VisitLocalVariable(name, descriptor string, start, end *Label, index int) {
	if f.Next != nil {
		f.Next.VisitLocalVariable(name, descriptor, start, end, index)
	}
}

func (f *MethodForwarder) VisitMaxs(maxStack, maxLocals int) {
	if f.Next != nil {
		f.Next.VisitMaxs(maxStack, maxLocals)
	}
}

func (f *MethodForwarder) VisitAttribute(name string, data []byte) {
	if f.Next != nil {
		f.Next.VisitAttribute(name, data)
	}
}

func (f *MethodForwarder) VisitEnd() {
	if f.Next != nil {
		f.Next.VisitEnd()
	}
}

// FieldForwarder is a FieldVisitor that forwards every event to Next.
type FieldForwarder struct {
	Next FieldVisitor
}

func (f *FieldForwarder) VisitConstantValue(value any) {
	if f.Next != nil {
		f.Next.VisitConstantValue(value)
	}
}

func (f *FieldForwarder) VisitAttribute(name string, data []byte) {
	if f.Next != nil {
		f.Next.VisitAttribute(name, data)
	}
}

func (f *FieldForwarder) VisitEnd() {
	if f.Next != nil {
		f.Next.VisitEnd()
	}
}
