// Package cftest provides shared test support: an event recorder that
// turns a visitor stream into comparable strings, and a map-backed type
// oracle with a fixed class hierarchy.
package cftest

import (
	"fmt"
	"strings"

	"github.com/cloudcmds/classfile"
	"github.com/cloudcmds/classfile/op"
)

// Recorder captures every visitor event as one line of text. Labels are
// renamed L0, L1, ... in order of first appearance so recordings from
// independent pipelines compare equal.
type Recorder struct {
	Events []string
	labels map[*classfile.Label]string
}

var (
	_ classfile.ClassVisitor  = (*Recorder)(nil)
	_ classfile.FieldVisitor  = (*Recorder)(nil)
	_ classfile.MethodVisitor = (*Recorder)(nil)
)

func NewRecorder() *Recorder {
	return &Recorder{labels: map[*classfile.Label]string{}}
}

func (r *Recorder) log(format string, args ...any) {
	r.Events = append(r.Events, fmt.Sprintf(format, args...))
}

func (r *Recorder) label(l *classfile.Label) string {
	if name, ok := r.labels[l]; ok {
		return name
	}
	name := fmt.Sprintf("L%d", len(r.labels))
	r.labels[l] = name
	return name
}

func (r *Recorder) VisitHeader(minor, major uint16, access uint16, name, superName string, interfaces []string) {
	r.log("header %d.%d 0x%04X %s super=%s ifaces=%s", major, minor, access, name, superName, strings.Join(interfaces, ","))
}

func (r *Recorder) VisitSourceFile(name string) {
	r.log("source %s", name)
}

func (r *Recorder) VisitInnerClass(name, outerName, innerName string, access uint16) {
	r.log("inner %s %s %s 0x%04X", name, outerName, innerName, access)
}

func (r *Recorder) VisitField(access uint16, name, descriptor string) classfile.FieldVisitor {
	r.log("field 0x%04X %s %s", access, name, descriptor)
	return r
}

func (r *Recorder) VisitMethod(access uint16, name, descriptor string) classfile.MethodVisitor {
	r.log("method 0x%04X %s%s", access, name, descriptor)
	return r
}

func (r *Recorder) VisitAttribute(name string, data []byte) {
	r.log("attr %s %d", name, len(data))
}

func (r *Recorder) VisitEnd() {
	r.log("end")
}

func (r *Recorder) VisitConstantValue(value any) {
	r.log("constvalue %T %v", value, value)
}

func (r *Recorder) VisitInsn(opcode op.Code) {
	r.log("insn %s", op.GetInfo(opcode).Name)
}

func (r *Recorder) VisitIntInsn(opcode op.Code, operand int) {
	r.log("int %s %d", op.GetInfo(opcode).Name, operand)
}

func (r *Recorder) VisitVarInsn(opcode op.Code, index int) {
	r.log("var %s %d", op.GetInfo(opcode).Name, index)
}

func (r *Recorder) VisitTypeInsn(opcode op.Code, name string) {
	r.log("type %s %s", op.GetInfo(opcode).Name, name)
}

func (r *Recorder) VisitFieldInsn(opcode op.Code, owner, name, descriptor string) {
	r.log("fieldinsn %s %s.%s %s", op.GetInfo(opcode).Name, owner, name, descriptor)
}

func (r *Recorder) VisitMethodInsn(opcode op.Code, owner, name, descriptor string, itf bool) {
	r.log("methodinsn %s %s.%s%s itf=%v", op.GetInfo(opcode).Name, owner, name, descriptor, itf)
}

func (r *Recorder) VisitInvokeDynamicInsn(name, descriptor string, bootstrap uint16) {
	r.log("indy %s%s bsm=%d", name, descriptor, bootstrap)
}

func (r *Recorder) VisitJumpInsn(opcode op.Code, target *classfile.Label) {
	r.log("jump %s %s", op.GetInfo(opcode).Name, r.label(target))
}

func (r *Recorder) VisitLabel(label *classfile.Label) {
	r.log("label %s", r.label(label))
}

func (r *Recorder) VisitLdcInsn(value any) {
	r.log("ldc %T %v", value, value)
}

func (r *Recorder) VisitIincInsn(index, delta int) {
	r.log("iinc %d %d", index, delta)
}

func (r *Recorder) VisitTableSwitchInsn(lo, hi int32, dflt *classfile.Label, targets []*classfile.Label) {
	names := make([]string, len(targets))
	for i, l := range targets {
		names[i] = r.label(l)
	}
	r.log("tableswitch %d..%d %s [%s]", lo, hi, r.label(dflt), strings.Join(names, ","))
}

func (r *Recorder) VisitLookupSwitchInsn(dflt *classfile.Label, keys []int32, targets []*classfile.Label) {
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%d:%s", k, r.label(targets[i]))
	}
	r.log("lookupswitch %s [%s]", r.label(dflt), strings.Join(pairs, ","))
}

func (r *Recorder) VisitMultiANewArrayInsn(descriptor string, dims int) {
	r.log("multianewarray %s %d", descriptor, dims)
}

func (r *Recorder) VisitTryCatch(start, end, handler *classfile.Label, catchType string) {
	r.log("trycatch %s %s %s %q", r.label(start), r.label(end), r.label(handler), catchType)
}

func (r *Recorder) VisitFrame(frame *classfile.Frame) {
	locals := make([]string, len(frame.Locals))
	for i, v := range frame.Locals {
		locals[i] = v.String()
	}
	stack := make([]string, len(frame.Stack))
	for i, v := range frame.Stack {
		stack[i] = v.String()
	}
	r.log("frame [%s] [%s]", strings.Join(locals, " "), strings.Join(stack, " "))
}

func (r *Recorder) VisitLineNumber(line int, start *classfile.Label) {
	r.log("line %d %s", line, r.label(start))
}

func (r *Recorder) VisitLocalVariable(name, descriptor string, start, end *classfile.Label, index int) {
	r.log("localvar %s %s %s %s %d", name, descriptor, r.label(start), r.label(end), index)
}

func (r *Recorder) VisitMaxs(maxStack, maxLocals int) {
	r.log("maxs %d %d", maxStack, maxLocals)
}

// Oracle answers hierarchy questions from a fixed parent map. Classes not
// in the map are unknown and produce errors, which exercises the lenient
// and strict resolution paths.
type Oracle struct {
	Parents map[string]string // class -> direct superclass
}

var _ classfile.TypeOracle = (*Oracle)(nil)

// NewOracle returns an oracle over the given parent map. The root object
// class is always known.
func NewOracle(parents map[string]string) *Oracle {
	return &Oracle{Parents: parents}
}

func (o *Oracle) chain(name string) ([]string, error) {
	var out []string
	for {
		out = append(out, name)
		if name == classfile.ObjectClass {
			return out, nil
		}
		parent, ok := o.Parents[name]
		if !ok {
			return nil, fmt.Errorf("unknown class %s", name)
		}
		name = parent
	}
}

func (o *Oracle) CommonSupertype(a, b string) (string, error) {
	ca, err := o.chain(a)
	if err != nil {
		return "", err
	}
	cb, err := o.chain(b)
	if err != nil {
		return "", err
	}
	ancestors := make(map[string]bool, len(cb))
	for _, name := range cb {
		ancestors[name] = true
	}
	for _, name := range ca {
		if ancestors[name] {
			return name, nil
		}
	}
	return classfile.ObjectClass, nil
}

func (o *Oracle) IsAssignable(from, to string) (bool, error) {
	chain, err := o.chain(from)
	if err != nil {
		return false, err
	}
	for _, name := range chain {
		if name == to {
			return true, nil
		}
	}
	return false, nil
}
