// Package classfile defines the event interface shared by the class file
// reader, writer, and transforms, along with the types that flow through
// it: labels, verification type frames, and configuration.
//
// The reader drives a ClassVisitor; the writer implements one. A transform
// implements the visitor interfaces and delegates to the next stage, so
// reader, transforms, and writer compose into a pipeline without an
// intermediate tree:
//
//	r, _ := reader.New(data)
//	w := writer.NewFromReader(r)
//	r.Accept(&myTransform{ClassForwarder{Next: w}})
//	out, _ := w.Bytes()
package classfile

// Magic is the fixed magic number at the start of every class file.
const Magic uint32 = 0xCAFEBABE

// Class file major versions.
const (
	V1_1 uint16 = 45
	V1_5 uint16 = 49
	V6   uint16 = 50
	V7   uint16 = 51
	V8   uint16 = 52
	V9   uint16 = 53
	V11  uint16 = 55
	V17  uint16 = 61
	V21  uint16 = 65
)

// Access flags for classes, fields, and methods.
const (
	AccPublic     uint16 = 0x0001
	AccPrivate    uint16 = 0x0002
	AccProtected  uint16 = 0x0004
	AccStatic     uint16 = 0x0008
	AccFinal      uint16 = 0x0010
	AccSuper      uint16 = 0x0020
	AccVolatile   uint16 = 0x0040
	AccTransient  uint16 = 0x0080
	AccNative     uint16 = 0x0100
	AccInterface  uint16 = 0x0200
	AccAbstract   uint16 = 0x0400
	AccSynthetic  uint16 = 0x1000
	AccAnnotation uint16 = 0x2000
	AccEnum       uint16 = 0x4000
)

// ObjectClass is the internal name of the root of the class hierarchy.
const ObjectClass = "java/lang/Object"

// ThrowableClass is the internal name used for catch-all exception handler
// entry states.
const ThrowableClass = "java/lang/Throwable"

// Handle describes a method handle constant.
type Handle struct {
	Kind       uint8
	Owner      string
	Name       string
	Descriptor string
	Interface  bool
}

// ConstDynamic describes a dynamically computed constant loaded by ldc,
// referencing a bootstrap method by index.
type ConstDynamic struct {
	Name       string
	Descriptor string
	Bootstrap  uint16
}
