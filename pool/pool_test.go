package pool

import (
	"testing"

	"github.com/cloudcmds/classfile/errz"
	"github.com/cloudcmds/classfile/internal/bin"
	"github.com/stretchr/testify/require"
)

func TestUtf8Dedup(t *testing.T) {
	st := New(0)
	a, err := st.Utf8("hello")
	require.Nil(t, err)
	b, err := st.Utf8("world")
	require.Nil(t, err)
	c, err := st.Utf8("hello")
	require.Nil(t, err)
	require.Equal(t, a, c)
	require.NotEqual(t, a, b)
	require.Equal(t, uint16(1), a)
	require.Equal(t, uint16(2), b)
	require.Equal(t, 3, st.Count())
}

func TestLongDoubleReserveTwoSlots(t *testing.T) {
	st := New(0)
	l, err := st.Long(42)
	require.Nil(t, err)
	require.Equal(t, uint16(1), l)

	// The next entry lands two slots later.
	d, err := st.Double(3.14)
	require.Nil(t, err)
	require.Equal(t, uint16(3), d)

	i, err := st.Integer(7)
	require.Nil(t, err)
	require.Equal(t, uint16(5), i)

	// Interning the same wide values returns the original indices.
	l2, err := st.Long(42)
	require.Nil(t, err)
	require.Equal(t, l, l2)
	d2, err := st.Double(3.14)
	require.Nil(t, err)
	require.Equal(t, d, d2)
}

func TestClassInternsName(t *testing.T) {
	st := New(0)
	c, err := st.Class("java/lang/Object")
	require.Nil(t, err)

	// The utf8 child comes first, then the class entry.
	name, ok := st.ClassNameAt(c)
	require.True(t, ok)
	require.Equal(t, "java/lang/Object", name)

	// Interning the class again is a no-op.
	c2, err := st.Class("java/lang/Object")
	require.Nil(t, err)
	require.Equal(t, c, c2)
}

func TestMemberRefs(t *testing.T) {
	st := New(0)
	m, err := st.MethodRef("java/io/PrintStream", "println", "(I)V")
	require.Nil(t, err)

	owner, name, desc, ok := st.MemberRefAt(m)
	require.True(t, ok)
	require.Equal(t, "java/io/PrintStream", owner)
	require.Equal(t, "println", name)
	require.Equal(t, "(I)V", desc)

	// A structurally equal field ref with the same triple is distinct.
	f, err := st.FieldRef("java/io/PrintStream", "println", "(I)V")
	require.Nil(t, err)
	require.NotEqual(t, m, f)

	m2, err := st.MethodRef("java/io/PrintStream", "println", "(I)V")
	require.Nil(t, err)
	require.Equal(t, m, m2)
}

func TestMethodHandleKinds(t *testing.T) {
	st := New(0)
	// Kind 1 (getfield) references a field.
	h1, err := st.MethodHandle(1, "a/B", "x", "I", false)
	require.Nil(t, err)
	e, ok := st.EntryAt(h1)
	require.True(t, ok)
	ref, ok := st.EntryAt(e.Ref1)
	require.True(t, ok)
	require.Equal(t, TagFieldRef, ref.Tag)

	// Kind 6 (invokestatic) on an interface references an interface method.
	h2, err := st.MethodHandle(6, "a/I", "f", "()V", true)
	require.Nil(t, err)
	e, ok = st.EntryAt(h2)
	require.True(t, ok)
	ref, ok = st.EntryAt(e.Ref1)
	require.True(t, ok)
	require.Equal(t, TagInterfaceMethodRef, ref.Tag)
}

func TestEncodeInsertionOrder(t *testing.T) {
	st := New(0)
	_, err := st.Utf8("b")
	require.Nil(t, err)
	_, err = st.Utf8("a")
	require.Nil(t, err)

	buf := bin.NewBuffer()
	require.Nil(t, st.Encode(buf))

	r := bin.NewReader(buf.Bytes())
	entries := ReadEntries(r)
	require.Len(t, entries, 3)
	require.Equal(t, "b", entries[1].Str)
	require.Equal(t, "a", entries[2].Str)
}

func TestInternAfterEncodeIsUsageError(t *testing.T) {
	st := New(0)
	_, err := st.Utf8("x")
	require.Nil(t, err)
	require.Nil(t, st.Encode(bin.NewBuffer()))

	_, err = st.Utf8("y")
	require.NotNil(t, err)
	require.True(t, errz.IsKind(err, errz.ErrUsage))
}

func TestCapacityError(t *testing.T) {
	st := New(0)
	var err error
	// Interning distinct integers fills one slot each; slot 0 is reserved,
	// so the 65535th intern must fail.
	for i := 0; i < MaxSize; i++ {
		_, err = st.Integer(int32(i))
		if err != nil {
			break
		}
	}
	require.NotNil(t, err)
	require.True(t, errz.IsKind(err, errz.ErrCapacity))
	require.Equal(t, MaxSize, st.Count())
}

func TestCapacityErrorSmallLimit(t *testing.T) {
	st := New(4)
	_, err := st.Utf8("a")
	require.Nil(t, err)
	_, err = st.Long(1) // needs slots 2 and 3
	require.Nil(t, err)
	_, err = st.Utf8("c")
	require.NotNil(t, err)
	require.True(t, errz.IsKind(err, errz.ErrCapacity))
}

func TestRoundTripEntries(t *testing.T) {
	st := New(0)
	_, err := st.Utf8("hello")
	require.Nil(t, err)
	_, err = st.Integer(-5)
	require.Nil(t, err)
	_, err = st.Float(1.5)
	require.Nil(t, err)
	_, err = st.Long(-6)
	require.Nil(t, err)
	_, err = st.Double(2.5)
	require.Nil(t, err)
	_, err = st.Class("a/B")
	require.Nil(t, err)
	_, err = st.String("lit")
	require.Nil(t, err)
	_, err = st.MethodRef("a/B", "m", "()V")
	require.Nil(t, err)
	_, err = st.MethodHandle(6, "a/B", "m", "()V", false)
	require.Nil(t, err)
	_, err = st.InvokeDynamic(0, "call", "()V")
	require.Nil(t, err)

	buf := bin.NewBuffer()
	require.Nil(t, st.Encode(buf))

	entries := ReadEntries(bin.NewReader(buf.Bytes()))
	require.Equal(t, st.Count(), len(entries))

	// Rebuilding from the parsed entries preserves indices.
	st2, err := FromEntries(entries, 0)
	require.Nil(t, err)
	idx, err := st2.Class("a/B")
	require.Nil(t, err)
	name, ok := st2.ClassNameAt(idx)
	require.True(t, ok)
	require.Equal(t, "a/B", name)
	// No new entries were added by re-interning.
	require.Equal(t, len(entries), st2.Count())
}

func TestBadTagPanicsWithFormatError(t *testing.T) {
	buf := bin.NewBuffer()
	buf.U16(2)
	buf.U8(99) // not a valid tag

	defer func() {
		v := recover()
		require.NotNil(t, v)
		err, ok := v.(*errz.Error)
		require.True(t, ok)
		require.Equal(t, errz.ErrFormat, err.Kind)
		require.Equal(t, int64(2), err.Offset)
	}()
	ReadEntries(bin.NewReader(buf.Bytes()))
}
