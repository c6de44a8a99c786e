// Package pool implements the class file constant pool as a deduplicating
// symbol table.
//
// Entries are interned by structural equality and assigned stable indices.
// Index 0 is never used and Long and Double entries occupy two consecutive
// indices, as required by the class file format. The pool is emitted in
// insertion order, which makes output deterministic and preserves indices
// on the read-modify-write path.
package pool

import (
	"math"

	"github.com/cloudcmds/classfile/errz"
	"github.com/cloudcmds/classfile/internal/bin"
)

// Tag identifies the kind of a constant pool entry.
type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldRef           Tag = 9
	TagMethodRef          Tag = 10
	TagInterfaceMethodRef Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20
)

// MaxSize is the maximum number of constant pool slots addressable by the
// class file format, including the reserved slot at index 0.
const MaxSize = 65535

// Entry is one constant pool entry. A zero Tag marks the reserved slot at
// index 0 and the trailing slot occupied by the second half of a Long or
// Double.
type Entry struct {
	Tag  Tag
	Str  string // Utf8 text
	Num  uint64 // raw bits of Integer, Float, Long, Double
	Ref1 uint16 // first index operand
	Ref2 uint16 // second index operand
	Kind uint8  // method handle reference kind
}

// width returns the number of pool slots the entry occupies.
func width(tag Tag) int {
	if tag == TagLong || tag == TagDouble {
		return 2
	}
	return 1
}

// lookup keys combine the tag with either a string or the (already
// deduplicated) child indices, so structural equality of an entry reduces
// to equality of its key.
type key struct {
	tag  Tag
	s    string
	a, b uint32
}

// SymbolTable interns constant pool entries and assigns stable indices.
// A SymbolTable is owned by a single write session and is not safe for
// concurrent use.
type SymbolTable struct {
	entries   []Entry
	lookup    map[key]uint16
	maxSize   int
	finalized bool
}

// New returns an empty SymbolTable that holds at most maxSize slots.
// Passing 0 uses the format limit of 65535.
func New(maxSize int) *SymbolTable {
	if maxSize <= 0 || maxSize > MaxSize {
		maxSize = MaxSize
	}
	return &SymbolTable{
		entries: []Entry{{}}, // index 0 is reserved
		lookup:  make(map[key]uint16),
		maxSize: maxSize,
	}
}

// FromEntries returns a SymbolTable pre-populated with an existing pool,
// preserving all indices. The slice must include the reserved entry at
// index 0. Deduplication maps are rebuilt from the entries, so subsequent
// interning of an existing value returns its original index.
func FromEntries(entries []Entry, maxSize int) (*SymbolTable, error) {
	st := New(maxSize)
	if len(entries) == 0 {
		return st, nil
	}
	if len(entries) > st.maxSize {
		return nil, errz.Capacity("constant pool", len(entries), st.maxSize)
	}
	st.entries = make([]Entry, len(entries))
	copy(st.entries, entries)
	for i, e := range st.entries {
		if e.Tag == 0 {
			continue
		}
		k, ok := st.keyFor(e)
		if !ok {
			continue
		}
		if _, exists := st.lookup[k]; !exists {
			st.lookup[k] = uint16(i)
		}
	}
	return st, nil
}

func (st *SymbolTable) keyFor(e Entry) (key, bool) {
	switch e.Tag {
	case TagUtf8:
		return key{tag: TagUtf8, s: e.Str}, true
	case TagInteger, TagFloat:
		return key{tag: e.Tag, a: uint32(e.Num)}, true
	case TagLong, TagDouble:
		return key{tag: e.Tag, a: uint32(e.Num >> 32), b: uint32(e.Num)}, true
	case TagClass, TagString, TagMethodType, TagModule, TagPackage:
		return key{tag: e.Tag, a: uint32(e.Ref1)}, true
	case TagNameAndType, TagFieldRef, TagMethodRef, TagInterfaceMethodRef,
		TagDynamic, TagInvokeDynamic:
		return key{tag: e.Tag, a: uint32(e.Ref1), b: uint32(e.Ref2)}, true
	case TagMethodHandle:
		return key{tag: e.Tag, a: uint32(e.Kind), b: uint32(e.Ref1)}, true
	default:
		return key{}, false
	}
}

// intern returns the index of an existing structurally equal entry, or
// inserts the entry and returns its new index.
func (st *SymbolTable) intern(e Entry) (uint16, error) {
	if st.finalized {
		return 0, errz.Usage("intern into a finalized constant pool")
	}
	k, _ := st.keyFor(e)
	if idx, ok := st.lookup[k]; ok {
		return idx, nil
	}
	w := width(e.Tag)
	if len(st.entries)+w > st.maxSize {
		return 0, errz.Capacity("constant pool", len(st.entries)+w, st.maxSize)
	}
	idx := uint16(len(st.entries))
	st.entries = append(st.entries, e)
	if w == 2 {
		st.entries = append(st.entries, Entry{})
	}
	st.lookup[k] = idx
	return idx, nil
}

// Utf8 interns a UTF-8 string entry.
func (st *SymbolTable) Utf8(s string) (uint16, error) {
	if len(s) > math.MaxUint16 {
		return 0, errz.Capacity("utf8 entry", len(s), math.MaxUint16)
	}
	return st.intern(Entry{Tag: TagUtf8, Str: s})
}

// Integer interns a 32-bit integer entry.
func (st *SymbolTable) Integer(v int32) (uint16, error) {
	return st.intern(Entry{Tag: TagInteger, Num: uint64(uint32(v))})
}

// Float interns a 32-bit float entry. Raw bits are preserved, so NaN
// payloads round-trip.
func (st *SymbolTable) Float(v float32) (uint16, error) {
	return st.intern(Entry{Tag: TagFloat, Num: uint64(math.Float32bits(v))})
}

// Long interns a 64-bit integer entry, reserving two consecutive indices.
func (st *SymbolTable) Long(v int64) (uint16, error) {
	return st.intern(Entry{Tag: TagLong, Num: uint64(v)})
}

// Double interns a 64-bit float entry, reserving two consecutive indices.
func (st *SymbolTable) Double(v float64) (uint16, error) {
	return st.intern(Entry{Tag: TagDouble, Num: math.Float64bits(v)})
}

// Class interns a class reference by internal name.
func (st *SymbolTable) Class(name string) (uint16, error) {
	nameIdx, err := st.Utf8(name)
	if err != nil {
		return 0, err
	}
	return st.intern(Entry{Tag: TagClass, Ref1: nameIdx})
}

// String interns a string literal entry.
func (st *SymbolTable) String(s string) (uint16, error) {
	strIdx, err := st.Utf8(s)
	if err != nil {
		return 0, err
	}
	return st.intern(Entry{Tag: TagString, Ref1: strIdx})
}

// NameAndType interns a name-and-descriptor pair.
func (st *SymbolTable) NameAndType(name, descriptor string) (uint16, error) {
	nameIdx, err := st.Utf8(name)
	if err != nil {
		return 0, err
	}
	descIdx, err := st.Utf8(descriptor)
	if err != nil {
		return 0, err
	}
	return st.intern(Entry{Tag: TagNameAndType, Ref1: nameIdx, Ref2: descIdx})
}

func (st *SymbolTable) memberRef(tag Tag, owner, name, descriptor string) (uint16, error) {
	classIdx, err := st.Class(owner)
	if err != nil {
		return 0, err
	}
	natIdx, err := st.NameAndType(name, descriptor)
	if err != nil {
		return 0, err
	}
	return st.intern(Entry{Tag: tag, Ref1: classIdx, Ref2: natIdx})
}

// FieldRef interns a field reference.
func (st *SymbolTable) FieldRef(owner, name, descriptor string) (uint16, error) {
	return st.memberRef(TagFieldRef, owner, name, descriptor)
}

// MethodRef interns a class method reference.
func (st *SymbolTable) MethodRef(owner, name, descriptor string) (uint16, error) {
	return st.memberRef(TagMethodRef, owner, name, descriptor)
}

// InterfaceMethodRef interns an interface method reference.
func (st *SymbolTable) InterfaceMethodRef(owner, name, descriptor string) (uint16, error) {
	return st.memberRef(TagInterfaceMethodRef, owner, name, descriptor)
}

// MethodType interns a method type by descriptor.
func (st *SymbolTable) MethodType(descriptor string) (uint16, error) {
	descIdx, err := st.Utf8(descriptor)
	if err != nil {
		return 0, err
	}
	return st.intern(Entry{Tag: TagMethodType, Ref1: descIdx})
}

// MethodHandle interns a method handle. Kinds 1 through 4 reference a
// field; kind 9, or any method kind with itf set, references an interface
// method; other kinds reference a class method.
func (st *SymbolTable) MethodHandle(kind uint8, owner, name, descriptor string, itf bool) (uint16, error) {
	var refIdx uint16
	var err error
	switch {
	case kind >= 1 && kind <= 4:
		refIdx, err = st.FieldRef(owner, name, descriptor)
	case kind == 9 || itf:
		refIdx, err = st.InterfaceMethodRef(owner, name, descriptor)
	default:
		refIdx, err = st.MethodRef(owner, name, descriptor)
	}
	if err != nil {
		return 0, err
	}
	return st.intern(Entry{Tag: TagMethodHandle, Kind: kind, Ref1: refIdx})
}

// InvokeDynamic interns an invokedynamic call site referencing bootstrap
// method bsm.
func (st *SymbolTable) InvokeDynamic(bsm uint16, name, descriptor string) (uint16, error) {
	natIdx, err := st.NameAndType(name, descriptor)
	if err != nil {
		return 0, err
	}
	return st.intern(Entry{Tag: TagInvokeDynamic, Ref1: bsm, Ref2: natIdx})
}

// Dynamic interns a dynamically computed constant referencing bootstrap
// method bsm.
func (st *SymbolTable) Dynamic(bsm uint16, name, descriptor string) (uint16, error) {
	natIdx, err := st.NameAndType(name, descriptor)
	if err != nil {
		return 0, err
	}
	return st.intern(Entry{Tag: TagDynamic, Ref1: bsm, Ref2: natIdx})
}

// Module interns a module name entry.
func (st *SymbolTable) Module(name string) (uint16, error) {
	nameIdx, err := st.Utf8(name)
	if err != nil {
		return 0, err
	}
	return st.intern(Entry{Tag: TagModule, Ref1: nameIdx})
}

// Package interns a package name entry.
func (st *SymbolTable) Package(name string) (uint16, error) {
	nameIdx, err := st.Utf8(name)
	if err != nil {
		return 0, err
	}
	return st.intern(Entry{Tag: TagPackage, Ref1: nameIdx})
}

// Count returns the number of occupied slots including the reserved index
// 0. This is the value written as the constant_pool_count.
func (st *SymbolTable) Count() int {
	return len(st.entries)
}

// Entries returns the pool slots in index order, including the reserved
// entry at index 0. The returned slice is a copy.
func (st *SymbolTable) Entries() []Entry {
	out := make([]Entry, len(st.entries))
	copy(out, st.entries)
	return out
}

// EntryAt returns the entry at the given index.
func (st *SymbolTable) EntryAt(index uint16) (Entry, bool) {
	if index == 0 || int(index) >= len(st.entries) {
		return Entry{}, false
	}
	return st.entries[index], true
}

// Utf8At returns the UTF-8 text at the given index.
func (st *SymbolTable) Utf8At(index uint16) (string, bool) {
	e, ok := st.EntryAt(index)
	if !ok || e.Tag != TagUtf8 {
		return "", false
	}
	return e.Str, true
}

// ClassNameAt returns the internal name referenced by the Class entry at
// the given index.
func (st *SymbolTable) ClassNameAt(index uint16) (string, bool) {
	e, ok := st.EntryAt(index)
	if !ok || e.Tag != TagClass {
		return "", false
	}
	return st.Utf8At(e.Ref1)
}

// NameAndTypeAt returns the name and descriptor referenced by the
// NameAndType entry at the given index.
func (st *SymbolTable) NameAndTypeAt(index uint16) (name, descriptor string, ok bool) {
	e, entryOK := st.EntryAt(index)
	if !entryOK || e.Tag != TagNameAndType {
		return "", "", false
	}
	name, nameOK := st.Utf8At(e.Ref1)
	descriptor, descOK := st.Utf8At(e.Ref2)
	return name, descriptor, nameOK && descOK
}

// MemberRefAt returns the owner, name, and descriptor of the field or
// method reference at the given index.
func (st *SymbolTable) MemberRefAt(index uint16) (owner, name, descriptor string, ok bool) {
	e, entryOK := st.EntryAt(index)
	if !entryOK {
		return "", "", "", false
	}
	switch e.Tag {
	case TagFieldRef, TagMethodRef, TagInterfaceMethodRef:
	default:
		return "", "", "", false
	}
	owner, ownerOK := st.ClassNameAt(e.Ref1)
	name, descriptor, natOK := st.NameAndTypeAt(e.Ref2)
	return owner, name, descriptor, ownerOK && natOK
}

// Finalized reports whether Encode has been called.
func (st *SymbolTable) Finalized() bool {
	return st.finalized
}

// Encode writes the pool count and every entry in insertion order, then
// marks the table finalized. Interning after Encode is a usage error.
func (st *SymbolTable) Encode(buf *bin.Buffer) error {
	if st.finalized {
		return errz.Usage("constant pool encoded twice")
	}
	st.finalized = true
	buf.U16(uint16(len(st.entries)))
	for _, e := range st.entries {
		if e.Tag == 0 {
			continue // index 0 and the second halves of wide entries
		}
		EncodeEntry(buf, e)
	}
	return nil
}

// EncodeEntry writes one constant pool entry.
func EncodeEntry(buf *bin.Buffer, e Entry) {
	buf.U8(uint8(e.Tag))
	switch e.Tag {
	case TagUtf8:
		buf.U16(uint16(len(e.Str)))
		buf.WriteString(e.Str)
	case TagInteger, TagFloat:
		buf.U32(uint32(e.Num))
	case TagLong, TagDouble:
		buf.U64(e.Num)
	case TagClass, TagString, TagMethodType, TagModule, TagPackage:
		buf.U16(e.Ref1)
	case TagMethodHandle:
		buf.U8(e.Kind)
		buf.U16(e.Ref1)
	default:
		buf.U16(e.Ref1)
		buf.U16(e.Ref2)
	}
}

// ReadEntries parses a constant pool from r, including the count prefix.
// The returned slice has the reserved zero entry at index 0 and placeholder
// entries after Longs and Doubles. Malformed input panics with a format
// error, which the caller recovers at the parsing entry point.
func ReadEntries(r *bin.Reader) []Entry {
	countOff := r.Offset()
	count := int(r.U16())
	if count < 1 {
		panic(errz.Format(int64(countOff), "bad constant pool count %d", count))
	}
	entries := make([]Entry, 1, count)
	for len(entries) < count {
		tagOff := r.Offset()
		tag := Tag(r.U8())
		e := Entry{Tag: tag}
		switch tag {
		case TagUtf8:
			n := int(r.U16())
			e.Str = r.String(n)
		case TagInteger, TagFloat:
			e.Num = uint64(r.U32())
		case TagLong, TagDouble:
			e.Num = r.U64()
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			e.Ref1 = r.U16()
		case TagMethodHandle:
			e.Kind = r.U8()
			e.Ref1 = r.U16()
		case TagFieldRef, TagMethodRef, TagInterfaceMethodRef, TagNameAndType,
			TagDynamic, TagInvokeDynamic:
			e.Ref1 = r.U16()
			e.Ref2 = r.U16()
		default:
			panic(errz.Format(int64(tagOff), "bad constant pool tag %d", tag))
		}
		entries = append(entries, e)
		if width(tag) == 2 {
			entries = append(entries, Entry{})
		}
	}
	return entries
}
