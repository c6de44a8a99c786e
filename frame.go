package classfile

import "fmt"

// VerificationKind identifies the kind of a verification type.
type VerificationKind int

const (
	// KindTop is the least informative type: an undefined or dead slot.
	KindTop VerificationKind = iota
	KindInteger
	KindFloat
	KindLong
	KindDouble
	KindNull
	KindUninitializedThis
	// KindUninitialized is a new-allocated object whose constructor has
	// not run yet, identified by its allocation site.
	KindUninitialized
	// KindObject is a class or interface reference, identified by its
	// internal name. Array types use their descriptor as the name.
	KindObject
)

// VerificationType is one abstract type in the frame computation lattice.
type VerificationType struct {
	Kind VerificationKind

	// ClassName is the internal name for KindObject, and the type being
	// constructed for KindUninitialized.
	ClassName string

	// Site is the allocation site label for KindUninitialized.
	Site *Label
}

// Convenience values for the payload-free verification types.
var (
	Top               = VerificationType{Kind: KindTop}
	Integer           = VerificationType{Kind: KindInteger}
	Float             = VerificationType{Kind: KindFloat}
	Long              = VerificationType{Kind: KindLong}
	Double            = VerificationType{Kind: KindDouble}
	Null              = VerificationType{Kind: KindNull}
	UninitializedThis = VerificationType{Kind: KindUninitializedThis}
)

// ObjectOf returns the verification type for an object with the given
// internal name.
func ObjectOf(internalName string) VerificationType {
	return VerificationType{Kind: KindObject, ClassName: internalName}
}

// UninitializedAt returns the verification type for an object of the given
// class allocated at the given site.
func UninitializedAt(internalName string, site *Label) VerificationType {
	return VerificationType{Kind: KindUninitialized, ClassName: internalName, Site: site}
}

// IsWide reports whether the type occupies two local variable slots.
func (v VerificationType) IsWide() bool {
	return v.Kind == KindLong || v.Kind == KindDouble
}

// Equal reports structural equality of two verification types.
// Uninitialized types are equal only when they share an allocation site.
func (v VerificationType) Equal(other VerificationType) bool {
	return v.Kind == other.Kind && v.ClassName == other.ClassName && v.Site == other.Site
}

// String returns a debug representation.
func (v VerificationType) String() string {
	switch v.Kind {
	case KindTop:
		return "top"
	case KindInteger:
		return "int"
	case KindFloat:
		return "float"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindNull:
		return "null"
	case KindUninitializedThis:
		return "uninitializedThis"
	case KindUninitialized:
		return fmt.Sprintf("uninitialized(%s %s)", v.ClassName, v.Site)
	case KindObject:
		return v.ClassName
	default:
		return "?"
	}
}

// Frame records the local variable and operand stack types at one point in
// a method body. Locals are index-addressed with wide types followed by a
// Top placeholder; the stack lists types bottom to top, one element per
// value regardless of width. Frames delivered by the frame computation
// engine are never mutated after the fixed point is reached.
type Frame struct {
	Locals []VerificationType
	Stack  []VerificationType
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		Locals: make([]VerificationType, len(f.Locals)),
		Stack:  make([]VerificationType, len(f.Stack)),
	}
	copy(out.Locals, f.Locals)
	copy(out.Stack, f.Stack)
	return out
}

// Equal reports whether two frames have identical locals and stacks.
func (f *Frame) Equal(other *Frame) bool {
	if len(f.Locals) != len(other.Locals) || len(f.Stack) != len(other.Stack) {
		return false
	}
	for i := range f.Locals {
		if !f.Locals[i].Equal(other.Locals[i]) {
			return false
		}
	}
	for i := range f.Stack {
		if !f.Stack[i].Equal(other.Stack[i]) {
			return false
		}
	}
	return true
}
