// Package dis renders the class file event stream as readable text.
//
// A Textifier implements classfile.ClassVisitor, so it can terminate any
// visitor pipeline: attach it to a reader to disassemble a class, or
// interpose it before a writer to trace the events flowing through.
package dis

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/cloudcmds/classfile"
	"github.com/cloudcmds/classfile/op"
	"github.com/cloudcmds/classfile/reader"
)

// Textifier writes one line per class event. Color is controlled by the
// fatih/color global; tests disable it for stable output.
type Textifier struct {
	w io.Writer

	keyword *color.Color
	name    *color.Color
	literal *color.Color
	label   *color.Color
}

var _ classfile.ClassVisitor = (*Textifier)(nil)

// New returns a Textifier writing to w.
func New(w io.Writer) *Textifier {
	return &Textifier{
		w:       w,
		keyword: color.New(color.FgCyan),
		name:    color.New(color.FgWhite, color.Bold),
		literal: color.New(color.FgYellow),
		label:   color.New(color.FgGreen),
	}
}

// Print parses a class file and writes its disassembly to w.
func Print(data []byte, w io.Writer, opts ...classfile.Option) error {
	cr, err := reader.New(data)
	if err != nil {
		return err
	}
	return cr.Accept(New(w), opts...)
}

func (t *Textifier) printf(format string, args ...any) {
	fmt.Fprintf(t.w, format, args...)
}

func (t *Textifier) VisitHeader(minor, major uint16, access uint16, name, superName string, interfaces []string) {
	t.printf("%s %s", t.keyword.Sprint("class"), t.name.Sprint(name))
	if superName != "" {
		t.printf(" %s %s", t.keyword.Sprint("extends"), superName)
	}
	if len(interfaces) > 0 {
		t.printf(" %s %s", t.keyword.Sprint("implements"), strings.Join(interfaces, ", "))
	}
	t.printf("\n  version %d.%d access 0x%04X\n", major, minor, access)
}

func (t *Textifier) VisitSourceFile(name string) {
	t.printf("  source %s\n", t.literal.Sprint(name))
}

func (t *Textifier) VisitInnerClass(name, outerName, innerName string, access uint16) {
	t.printf("  innerclass %s outer=%q inner=%q access 0x%04X\n", name, outerName, innerName, access)
}

func (t *Textifier) VisitField(access uint16, name, descriptor string) classfile.FieldVisitor {
	t.printf("  %s %s %s access 0x%04X\n", t.keyword.Sprint("field"), t.name.Sprint(name), descriptor, access)
	return &fieldTextifier{t: t}
}

func (t *Textifier) VisitMethod(access uint16, name, descriptor string) classfile.MethodVisitor {
	t.printf("  %s %s%s access 0x%04X\n", t.keyword.Sprint("method"), t.name.Sprint(name), descriptor, access)
	return &methodTextifier{t: t, labels: map[*classfile.Label]string{}}
}

func (t *Textifier) VisitAttribute(name string, data []byte) {
	t.printf("  attribute %s (%d bytes)\n", name, len(data))
}

func (t *Textifier) VisitEnd() {}

type fieldTextifier struct {
	t *Textifier
}

func (f *fieldTextifier) VisitConstantValue(value any) {
	f.t.printf("    constant %s\n", f.t.literal.Sprintf("%v", value))
}

func (f *fieldTextifier) VisitAttribute(name string, data []byte) {
	f.t.printf("    attribute %s (%d bytes)\n", name, len(data))
}

func (f *fieldTextifier) VisitEnd() {}

// methodTextifier assigns short sequential names to labels as they first
// appear so the output is stable across runs.
type methodTextifier struct {
	t      *Textifier
	labels map[*classfile.Label]string
}

var _ classfile.MethodVisitor = (*methodTextifier)(nil)

func (m *methodTextifier) labelName(l *classfile.Label) string {
	if name, ok := m.labels[l]; ok {
		return name
	}
	name := fmt.Sprintf("L%d", len(m.labels))
	m.labels[l] = name
	return name
}

func (m *methodTextifier) insn(format string, args ...any) {
	m.t.printf("      "+format+"\n", args...)
}

func (m *methodTextifier) VisitInsn(opcode op.Code) {
	m.insn("%s", m.t.keyword.Sprint(op.GetInfo(opcode).Name))
}

func (m *methodTextifier) VisitIntInsn(opcode op.Code, operand int) {
	m.insn("%s %d", m.t.keyword.Sprint(op.GetInfo(opcode).Name), operand)
}

func (m *methodTextifier) VisitVarInsn(opcode op.Code, index int) {
	m.insn("%s %d", m.t.keyword.Sprint(op.GetInfo(opcode).Name), index)
}

func (m *methodTextifier) VisitTypeInsn(opcode op.Code, name string) {
	m.insn("%s %s", m.t.keyword.Sprint(op.GetInfo(opcode).Name), name)
}

func (m *methodTextifier) VisitFieldInsn(opcode op.Code, owner, name, descriptor string) {
	m.insn("%s %s.%s %s", m.t.keyword.Sprint(op.GetInfo(opcode).Name), owner, name, descriptor)
}

func (m *methodTextifier) VisitMethodInsn(opcode op.Code, owner, name, descriptor string, itf bool) {
	suffix := ""
	if itf {
		suffix = " (interface)"
	}
	m.insn("%s %s.%s%s%s", m.t.keyword.Sprint(op.GetInfo(opcode).Name), owner, name, descriptor, suffix)
}

func (m *methodTextifier) VisitInvokeDynamicInsn(name, descriptor string, bootstrap uint16) {
	m.insn("%s %s%s bsm=%d", m.t.keyword.Sprint("invokedynamic"), name, descriptor, bootstrap)
}

func (m *methodTextifier) VisitJumpInsn(opcode op.Code, target *classfile.Label) {
	m.insn("%s %s", m.t.keyword.Sprint(op.GetInfo(opcode).Name), m.t.label.Sprint(m.labelName(target)))
}

func (m *methodTextifier) VisitLabel(label *classfile.Label) {
	m.t.printf("    %s:\n", m.t.label.Sprint(m.labelName(label)))
}

func (m *methodTextifier) VisitLdcInsn(value any) {
	switch v := value.(type) {
	case string:
		m.insn("%s %s", m.t.keyword.Sprint("ldc"), m.t.literal.Sprintf("%q", v))
	default:
		m.insn("%s %s", m.t.keyword.Sprint("ldc"), m.t.literal.Sprintf("%v", v))
	}
}

func (m *methodTextifier) VisitIincInsn(index, delta int) {
	m.insn("%s %d %d", m.t.keyword.Sprint("iinc"), index, delta)
}

func (m *methodTextifier) VisitTableSwitchInsn(lo, hi int32, dflt *classfile.Label, targets []*classfile.Label) {
	names := make([]string, len(targets))
	for i, l := range targets {
		names[i] = m.labelName(l)
	}
	m.insn("%s %d..%d default=%s [%s]", m.t.keyword.Sprint("tableswitch"),
		lo, hi, m.labelName(dflt), strings.Join(names, " "))
}

func (m *methodTextifier) VisitLookupSwitchInsn(dflt *classfile.Label, keys []int32, targets []*classfile.Label) {
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%d:%s", k, m.labelName(targets[i]))
	}
	m.insn("%s default=%s [%s]", m.t.keyword.Sprint("lookupswitch"),
		m.labelName(dflt), strings.Join(pairs, " "))
}

func (m *methodTextifier) VisitMultiANewArrayInsn(descriptor string, dims int) {
	m.insn("%s %s %d", m.t.keyword.Sprint("multianewarray"), descriptor, dims)
}

func (m *methodTextifier) VisitTryCatch(start, end, handler *classfile.Label, catchType string) {
	if catchType == "" {
		catchType = "any"
	}
	m.t.printf("    try %s..%s handler=%s catch=%s\n",
		m.labelName(start), m.labelName(end), m.labelName(handler), catchType)
}

func (m *methodTextifier) VisitFrame(frame *classfile.Frame) {
	locals := make([]string, len(frame.Locals))
	for i, v := range frame.Locals {
		locals[i] = v.String()
	}
	stack := make([]string, len(frame.Stack))
	for i, v := range frame.Stack {
		stack[i] = v.String()
	}
	m.t.printf("    frame locals=[%s] stack=[%s]\n", strings.Join(locals, " "), strings.Join(stack, " "))
}

func (m *methodTextifier) VisitLineNumber(line int, start *classfile.Label) {
	m.t.printf("    line %d %s\n", line, m.labelName(start))
}

func (m *methodTextifier) VisitLocalVariable(name, descriptor string, start, end *classfile.Label, index int) {
	m.t.printf("    local %d %s %s %s..%s\n", index, name, descriptor, m.labelName(start), m.labelName(end))
}

func (m *methodTextifier) VisitMaxs(maxStack, maxLocals int) {
	m.t.printf("    maxs stack=%d locals=%d\n", maxStack, maxLocals)
}

func (m *methodTextifier) VisitAttribute(name string, data []byte) {
	m.t.printf("    attribute %s (%d bytes)\n", name, len(data))
}

func (m *methodTextifier) VisitEnd() {}
