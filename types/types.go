// Package types models Java field and method descriptors.
//
// A Type is an immutable value describing a primitive type, an array type,
// an object type identified by its internal name (e.g. "java/lang/String"),
// or a method type with argument and return types.
package types

import (
	"strings"

	"github.com/cloudcmds/classfile/errz"
)

// Sort identifies the kind of a Type.
type Sort int

const (
	Void Sort = iota
	Boolean
	Char
	Byte
	Short
	Int
	Float
	Long
	Double
	Array
	Object
	Method
)

// Type represents a Java type parsed from a descriptor.
type Type struct {
	sort Sort
	name string // internal name, for object types
	elem *Type  // element type, for array types
	args []Type // argument types, for method types
	ret  *Type  // return type, for method types
}

// Predeclared primitive types.
var (
	VoidType    = Type{sort: Void}
	BooleanType = Type{sort: Boolean}
	CharType    = Type{sort: Char}
	ByteType    = Type{sort: Byte}
	ShortType   = Type{sort: Short}
	IntType     = Type{sort: Int}
	FloatType   = Type{sort: Float}
	LongType    = Type{sort: Long}
	DoubleType  = Type{sort: Double}
)

// Parse returns the Type corresponding to the given field or method descriptor.
func Parse(descriptor string) (Type, error) {
	pos := 0
	t, err := parse(descriptor, &pos)
	if err != nil {
		return Type{}, err
	}
	if pos != len(descriptor) {
		return Type{}, errz.Format(int64(pos), "trailing characters in descriptor %q", descriptor)
	}
	return t, nil
}

// ObjectType returns the Type for the given internal name. A name starting
// with '[' is treated as an array descriptor.
func ObjectType(internalName string) (Type, error) {
	if strings.HasPrefix(internalName, "[") {
		return Parse(internalName)
	}
	return Type{sort: Object, name: internalName}, nil
}

// MethodType returns the method Type corresponding to the given method
// descriptor.
func MethodType(descriptor string) (Type, error) {
	t, err := Parse(descriptor)
	if err != nil {
		return Type{}, err
	}
	if t.sort != Method {
		return Type{}, errz.Format(0, "not a method descriptor: %q", descriptor)
	}
	return t, nil
}

// ArrayOf returns the array type whose element type is elem.
func ArrayOf(elem Type) Type {
	e := elem
	return Type{sort: Array, elem: &e}
}

// NewMethodType builds a method type from its return and argument types.
func NewMethodType(ret Type, args ...Type) Type {
	r := ret
	argCopy := make([]Type, len(args))
	copy(argCopy, args)
	return Type{sort: Method, args: argCopy, ret: &r}
}

// Sort returns the sort of this type.
func (t Type) Sort() Sort {
	return t.sort
}

// Descriptor returns the descriptor of this type.
func (t Type) Descriptor() string {
	var b strings.Builder
	t.appendDescriptor(&b)
	return b.String()
}

func (t Type) appendDescriptor(b *strings.Builder) {
	switch t.sort {
	case Void:
		b.WriteByte('V')
	case Boolean:
		b.WriteByte('Z')
	case Char:
		b.WriteByte('C')
	case Byte:
		b.WriteByte('B')
	case Short:
		b.WriteByte('S')
	case Int:
		b.WriteByte('I')
	case Float:
		b.WriteByte('F')
	case Long:
		b.WriteByte('J')
	case Double:
		b.WriteByte('D')
	case Array:
		b.WriteByte('[')
		t.elem.appendDescriptor(b)
	case Object:
		b.WriteByte('L')
		b.WriteString(t.name)
		b.WriteByte(';')
	case Method:
		b.WriteByte('(')
		for _, arg := range t.args {
			arg.appendDescriptor(b)
		}
		b.WriteByte(')')
		t.ret.appendDescriptor(b)
	}
}

// ClassName returns the Java source name of this type, e.g. "int" or
// "java.lang.Object[]". It returns an empty string for method types.
func (t Type) ClassName() string {
	switch t.sort {
	case Void:
		return "void"
	case Boolean:
		return "boolean"
	case Char:
		return "char"
	case Byte:
		return "byte"
	case Short:
		return "short"
	case Int:
		return "int"
	case Float:
		return "float"
	case Long:
		return "long"
	case Double:
		return "double"
	case Array:
		return t.elem.ClassName() + "[]"
	case Object:
		return strings.ReplaceAll(t.name, "/", ".")
	default:
		return ""
	}
}

// InternalName returns the internal name of an object type, or the
// descriptor for an array type. It returns an empty string for other sorts.
func (t Type) InternalName() string {
	switch t.sort {
	case Object:
		return t.name
	case Array:
		return t.Descriptor()
	default:
		return ""
	}
}

// Dimensions returns the number of array dimensions, or 0 for non-arrays.
func (t Type) Dimensions() int {
	dims := 0
	for cur := t; cur.sort == Array; cur = *cur.elem {
		dims++
	}
	return dims
}

// ElementType returns the element type of an array and true, or the zero
// Type and false for non-arrays.
func (t Type) ElementType() (Type, bool) {
	if t.sort != Array {
		return Type{}, false
	}
	return *t.elem, true
}

// ArgumentTypes returns the argument types of a method type. It returns nil
// for non-method types.
func (t Type) ArgumentTypes() []Type {
	if t.sort != Method {
		return nil
	}
	args := make([]Type, len(t.args))
	copy(args, t.args)
	return args
}

// ReturnType returns the return type of a method type and true, or the zero
// Type and false for non-method types.
func (t Type) ReturnType() (Type, bool) {
	if t.sort != Method {
		return Type{}, false
	}
	return *t.ret, true
}

// Size returns the number of stack slots occupied by a value of this type:
// 0 for void, 2 for long and double, 1 otherwise.
func (t Type) Size() int {
	switch t.sort {
	case Void:
		return 0
	case Long, Double:
		return 2
	default:
		return 1
	}
}

// ArgumentCount returns the number of arguments of a method type, or 0 for
// non-method types.
func (t Type) ArgumentCount() int {
	return len(t.args)
}

// String returns the descriptor of this type.
func (t Type) String() string {
	return t.Descriptor()
}

func parse(descriptor string, pos *int) (Type, error) {
	if *pos >= len(descriptor) {
		return Type{}, errz.Format(int64(*pos), "truncated descriptor %q", descriptor)
	}
	c := descriptor[*pos]
	switch c {
	case 'V':
		*pos++
		return VoidType, nil
	case 'Z':
		*pos++
		return BooleanType, nil
	case 'C':
		*pos++
		return CharType, nil
	case 'B':
		*pos++
		return ByteType, nil
	case 'S':
		*pos++
		return ShortType, nil
	case 'I':
		*pos++
		return IntType, nil
	case 'F':
		*pos++
		return FloatType, nil
	case 'J':
		*pos++
		return LongType, nil
	case 'D':
		*pos++
		return DoubleType, nil
	case 'L':
		*pos++
		start := *pos
		for *pos < len(descriptor) && descriptor[*pos] != ';' {
			*pos++
		}
		if *pos >= len(descriptor) {
			return Type{}, errz.Format(int64(*pos), "unterminated object descriptor %q", descriptor)
		}
		name := descriptor[start:*pos]
		*pos++ // skip ';'
		return Type{sort: Object, name: name}, nil
	case '[':
		*pos++
		elem, err := parse(descriptor, pos)
		if err != nil {
			return Type{}, err
		}
		return ArrayOf(elem), nil
	case '(':
		*pos++
		var args []Type
		for *pos < len(descriptor) && descriptor[*pos] != ')' {
			arg, err := parse(descriptor, pos)
			if err != nil {
				return Type{}, err
			}
			args = append(args, arg)
		}
		if *pos >= len(descriptor) {
			return Type{}, errz.Format(int64(*pos), "unterminated method descriptor %q", descriptor)
		}
		*pos++ // skip ')'
		ret, err := parse(descriptor, pos)
		if err != nil {
			return Type{}, err
		}
		return Type{sort: Method, args: args, ret: &ret}, nil
	default:
		return Type{}, errz.Format(int64(*pos), "invalid descriptor character %q in %q", c, descriptor)
	}
}
