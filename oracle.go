package classfile

// TypeOracle answers class hierarchy questions during frame computation.
// The core never loads or inspects classes itself; the caller injects an
// oracle over opaque internal names. Implementations must be synchronous
// and side-effect free from the engine's perspective.
type TypeOracle interface {
	// CommonSupertype returns the internal name of the nearest common
	// supertype of the two classes. Returning an error means the oracle
	// cannot decide; the engine then falls back to the root object type,
	// or fails in strict mode.
	CommonSupertype(a, b string) (string, error)

	// IsAssignable reports whether a value of type from may be assigned
	// to a slot of type to.
	IsAssignable(from, to string) (bool, error)
}
