package writer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudcmds/classfile"
	"github.com/cloudcmds/classfile/errz"
	"github.com/cloudcmds/classfile/internal/cftest"
	"github.com/cloudcmds/classfile/op"
	"github.com/cloudcmds/classfile/reader"
	"github.com/cloudcmds/classfile/types"
)

// buildCalc drives a class with one of everything the codec handles:
// fields with constants, branches, both switches, every ldc form, wide
// locals, exception handlers, line numbers, and local variable tables.
func buildCalc(cv classfile.ClassVisitor) {
	cv.VisitHeader(0, classfile.V8, classfile.AccPublic|classfile.AccSuper,
		"com/example/Calc", classfile.ObjectClass, []string{"java/io/Serializable"})
	cv.VisitSourceFile("Calc.java")
	cv.VisitInnerClass("com/example/Calc$Inner", "com/example/Calc", "Inner",
		classfile.AccPublic|classfile.AccStatic)

	f := cv.VisitField(classfile.AccStatic|classfile.AccFinal, "count", "I")
	f.VisitConstantValue(int32(3))
	f.VisitEnd()
	f = cv.VisitField(classfile.AccPrivate, "name", "Ljava/lang/String;")
	f.VisitEnd()

	// <init>()V with a line number and a local variable table.
	mv := cv.VisitMethod(classfile.AccPublic, "<init>", "()V")
	start := classfile.NewLabel()
	end := classfile.NewLabel()
	mv.VisitLabel(start)
	mv.VisitLineNumber(7, start)
	mv.VisitVarInsn(op.ALoad, 0)
	mv.VisitMethodInsn(op.InvokeSpecial, classfile.ObjectClass, "<init>", "()V", false)
	mv.VisitInsn(op.Return)
	mv.VisitLabel(end)
	mv.VisitLocalVariable("this", "Lcom/example/Calc;", start, end, 0)
	mv.VisitMaxs(1, 1)
	mv.VisitEnd()

	// static max(II)I with a conditional branch.
	mv = cv.VisitMethod(classfile.AccPublic|classfile.AccStatic, "max", "(II)I")
	second := classfile.NewLabel()
	mv.VisitVarInsn(op.ILoad, 0)
	mv.VisitVarInsn(op.ILoad, 1)
	mv.VisitJumpInsn(op.IfICmpLe, second)
	mv.VisitVarInsn(op.ILoad, 0)
	mv.VisitInsn(op.IReturn)
	mv.VisitLabel(second)
	mv.VisitVarInsn(op.ILoad, 1)
	mv.VisitInsn(op.IReturn)
	mv.VisitMaxs(2, 2)
	mv.VisitEnd()

	// static grade(I)Ljava/lang/String; with both switch forms.
	mv = cv.VisitMethod(classfile.AccPublic|classfile.AccStatic, "grade", "(I)Ljava/lang/String;")
	zero := classfile.NewLabel()
	one := classfile.NewLabel()
	other := classfile.NewLabel()
	fallback := classfile.NewLabel()
	mv.VisitVarInsn(op.ILoad, 0)
	mv.VisitTableSwitchInsn(0, 1, other, []*classfile.Label{zero, one})
	mv.VisitLabel(zero)
	mv.VisitLdcInsn("zero")
	mv.VisitInsn(op.AReturn)
	mv.VisitLabel(one)
	mv.VisitLdcInsn("one")
	mv.VisitInsn(op.AReturn)
	mv.VisitLabel(other)
	mv.VisitVarInsn(op.ILoad, 0)
	mv.VisitLookupSwitchInsn(fallback, []int32{10, 42}, []*classfile.Label{zero, one})
	mv.VisitLabel(fallback)
	mv.VisitLdcInsn("many")
	mv.VisitInsn(op.AReturn)
	mv.VisitMaxs(1, 1)
	mv.VisitEnd()

	// static describe()V touching every loadable constant kind.
	mv = cv.VisitMethod(classfile.AccStatic, "describe", "()V")
	stringType, _ := types.ObjectType("java/lang/String")
	mv.VisitLdcInsn("hi")
	mv.VisitInsn(op.Pop)
	mv.VisitLdcInsn(int32(1000000))
	mv.VisitInsn(op.Pop)
	mv.VisitLdcInsn(int64(1) << 40)
	mv.VisitInsn(op.Pop2)
	mv.VisitLdcInsn(float32(1.5))
	mv.VisitInsn(op.Pop)
	mv.VisitLdcInsn(float64(2.25))
	mv.VisitInsn(op.Pop2)
	mv.VisitLdcInsn(stringType)
	mv.VisitInsn(op.Pop)
	mv.VisitFieldInsn(op.GetStatic, "com/example/Calc", "count", "I")
	mv.VisitInsn(op.Pop)
	mv.VisitInsn(op.Return)
	mv.VisitMaxs(2, 0)
	mv.VisitEnd()

	// handle(Ljava/lang/String;)I with an exception handler whose range
	// ends where the handler starts.
	mv = cv.VisitMethod(classfile.AccPublic, "handle", "(Ljava/lang/String;)I")
	tryStart := classfile.NewLabel()
	tryEnd := classfile.NewLabel()
	catch := classfile.NewLabel()
	mv.VisitTryCatch(tryStart, tryEnd, catch, "java/lang/Exception")
	mv.VisitLabel(tryStart)
	mv.VisitVarInsn(op.ALoad, 1)
	mv.VisitMethodInsn(op.InvokeVirtual, "java/lang/String", "length", "()I", false)
	mv.VisitInsn(op.IReturn)
	mv.VisitLabel(tryEnd)
	mv.VisitLabel(catch)
	mv.VisitInsn(op.Pop)
	mv.VisitInsn(op.IConstM1)
	mv.VisitInsn(op.IReturn)
	mv.VisitMaxs(2, 2)
	mv.VisitEnd()

	// static interned()V forcing pool indexes past the one-byte ldc form.
	mv = cv.VisitMethod(classfile.AccStatic, "interned", "()V")
	for i := 0; i < 300; i++ {
		mv.VisitLdcInsn(int32(i + 10000))
		mv.VisitInsn(op.Pop)
	}
	mv.VisitInsn(op.Return)
	mv.VisitMaxs(1, 0)
	mv.VisitEnd()

	// static locals()V forcing the wide local and wide iinc forms.
	mv = cv.VisitMethod(classfile.AccStatic, "locals", "()V")
	mv.VisitVarInsn(op.ILoad, 300)
	mv.VisitInsn(op.Pop)
	mv.VisitIincInsn(5, -200)
	mv.VisitIincInsn(2, 1)
	mv.VisitInsn(op.Return)
	mv.VisitMaxs(1, 301)
	mv.VisitEnd()

	cv.VisitAttribute("Synthetic", nil)
	cv.VisitEnd()
}

func TestRoundTripIdentity(t *testing.T) {
	w := New()
	buildCalc(w)
	data, err := w.Bytes()
	require.NoError(t, err)

	cr, err := reader.New(data)
	require.NoError(t, err)
	require.Equal(t, "com/example/Calc", cr.ClassName())
	require.Equal(t, classfile.ObjectClass, cr.SuperName())
	require.Equal(t, []string{"java/io/Serializable"}, cr.Interfaces())
	minor, major := cr.Version()
	require.Equal(t, uint16(0), minor)
	require.Equal(t, classfile.V8, major)

	w2, err := NewFromReader(cr)
	require.NoError(t, err)
	require.NoError(t, cr.Accept(w2))
	out, err := w2.Bytes()
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestRoundTripEvents(t *testing.T) {
	w := New()
	buildCalc(w)
	data, err := w.Bytes()
	require.NoError(t, err)

	cr, err := reader.New(data)
	require.NoError(t, err)
	rec := cftest.NewRecorder()
	require.NoError(t, cr.Accept(rec))

	all := strings.Join(rec.Events, "\n")
	require.Contains(t, all, "header 52.0 0x0021 com/example/Calc super=java/lang/Object ifaces=java/io/Serializable")
	require.Contains(t, all, "constvalue int32 3")
	require.Contains(t, all, "methodinsn invokespecial java/lang/Object.<init>()V itf=false")
	require.Contains(t, all, "jump if_icmple")
	require.Contains(t, all, "ldc string zero")
	require.Contains(t, all, "ldc int64 1099511627776")
	require.Contains(t, all, "fieldinsn getstatic com/example/Calc.count I")
	require.Contains(t, all, "iinc 5 -200")
	require.Contains(t, all, "var iload 300")
	require.Contains(t, all, `trycatch`)
	require.Contains(t, all, "line 7")
	require.Contains(t, all, "localvar this Lcom/example/Calc;")
	require.Contains(t, all, "maxs 1 301")
}

// buildBranchy writes a static method whose conditional jumps over filler
// nops. Filler counts past the 16-bit branch range force promotion.
func buildBranchy(filler int) ([]byte, error) {
	w := New()
	w.VisitHeader(0, classfile.V8, classfile.AccPublic|classfile.AccSuper,
		"com/example/Branchy", classfile.ObjectClass, nil)
	mv := w.VisitMethod(classfile.AccStatic, "skip", "(I)V")
	end := classfile.NewLabel()
	mv.VisitVarInsn(op.ILoad, 0)
	mv.VisitJumpInsn(op.IfEq, end)
	for i := 0; i < filler; i++ {
		mv.VisitInsn(op.Nop)
	}
	mv.VisitLabel(end)
	mv.VisitInsn(op.Return)
	mv.VisitMaxs(1, 1)
	mv.VisitEnd()
	w.VisitEnd()
	return w.Bytes()
}

func TestConditionalBranchPromotion(t *testing.T) {
	const filler = 32765 // narrow delta would be 32768
	const baseline = 100

	big, err := buildBranchy(filler)
	require.NoError(t, err)
	small, err := buildBranchy(baseline)
	require.NoError(t, err)

	// The promoted form costs 8 bytes against 3 for the narrow branch;
	// everything outside the code array is byte for byte the same.
	require.Equal(t, (filler-baseline)+5, len(big)-len(small))

	// Inverted condition hopping over a goto_w that carries the offset.
	require.True(t, bytes.Contains(big, []byte{
		byte(op.IfNe), 0x00, 0x08, byte(op.GotoW),
	}))

	// The promoted form reads back and re-encodes without growing.
	cr, err := reader.New(big)
	require.NoError(t, err)
	w2, err := NewFromReader(cr)
	require.NoError(t, err)
	require.NoError(t, cr.Accept(w2))
	out, err := w2.Bytes()
	require.NoError(t, err)
	require.Equal(t, big, out)
}

// buildHairpin writes two gotos whose targets straddle the filler, sized
// so that widening the forward goto pushes the backward one out of range.
func buildHairpin(filler int) ([]byte, error) {
	w := New()
	w.VisitHeader(0, classfile.V8, classfile.AccPublic|classfile.AccSuper,
		"com/example/Hairpin", classfile.ObjectClass, nil)
	mv := w.VisitMethod(classfile.AccStatic, "spin", "()V")
	top := classfile.NewLabel()
	end := classfile.NewLabel()
	mv.VisitLabel(top)
	mv.VisitInsn(op.Nop)
	mv.VisitInsn(op.Nop)
	mv.VisitJumpInsn(op.Goto, end)
	for i := 0; i < filler; i++ {
		mv.VisitInsn(op.Nop)
	}
	mv.VisitJumpInsn(op.Goto, top)
	mv.VisitLabel(end)
	mv.VisitInsn(op.Return)
	mv.VisitMaxs(0, 0)
	mv.VisitEnd()
	w.VisitEnd()
	return w.Bytes()
}

func TestBranchPromotionCascade(t *testing.T) {
	// At 32763 filler bytes the forward goto overflows first; once it
	// grows to goto_w, the backward goto's delta slips to -32770 and a
	// second layout pass widens it too.
	const filler = 32763
	const baseline = 10

	big, err := buildHairpin(filler)
	require.NoError(t, err)
	small, err := buildHairpin(baseline)
	require.NoError(t, err)
	require.Equal(t, (filler-baseline)+4, len(big)-len(small))

	cr, err := reader.New(big)
	require.NoError(t, err)
	rec := cftest.NewRecorder()
	require.NoError(t, cr.Accept(rec))
	gotos := 0
	for _, ev := range rec.Events {
		if strings.HasPrefix(ev, "jump goto ") {
			gotos++
		}
	}
	require.Equal(t, 2, gotos)
}

func TestUnboundLabel(t *testing.T) {
	w := New()
	w.VisitHeader(0, classfile.V8, classfile.AccPublic, "com/example/Bad", classfile.ObjectClass, nil)
	mv := w.VisitMethod(classfile.AccStatic, "f", "()V")
	mv.VisitJumpInsn(op.Goto, classfile.NewLabel())
	mv.VisitInsn(op.Return)
	mv.VisitMaxs(0, 0)
	mv.VisitEnd()
	w.VisitEnd()

	_, err := w.Bytes()
	require.Error(t, err)
	require.True(t, errz.IsKind(err, errz.ErrUsage))
}

func TestCodeSizeCapacity(t *testing.T) {
	w := New(classfile.WithMaxCodeSize(16))
	w.VisitHeader(0, classfile.V8, classfile.AccPublic, "com/example/Big", classfile.ObjectClass, nil)
	mv := w.VisitMethod(classfile.AccStatic, "f", "()V")
	for i := 0; i < 20; i++ {
		mv.VisitInsn(op.Nop)
	}
	mv.VisitInsn(op.Return)
	mv.VisitMaxs(0, 0)
	mv.VisitEnd()
	w.VisitEnd()

	_, err := w.Bytes()
	require.Error(t, err)
	require.True(t, errz.IsKind(err, errz.ErrCapacity))
}

func TestMissingMaxs(t *testing.T) {
	w := New()
	w.VisitHeader(0, classfile.V8, classfile.AccPublic, "com/example/NoMaxs", classfile.ObjectClass, nil)
	mv := w.VisitMethod(classfile.AccStatic, "f", "()V")
	mv.VisitInsn(op.Return)
	mv.VisitEnd()
	w.VisitEnd()

	_, err := w.Bytes()
	require.Error(t, err)
	require.True(t, errz.IsKind(err, errz.ErrUsage))
}

func TestHeaderTwice(t *testing.T) {
	w := New()
	w.VisitHeader(0, classfile.V8, classfile.AccPublic, "com/example/A", classfile.ObjectClass, nil)
	w.VisitHeader(0, classfile.V8, classfile.AccPublic, "com/example/B", classfile.ObjectClass, nil)
	w.VisitEnd()

	_, err := w.Bytes()
	require.Error(t, err)
	require.True(t, errz.IsKind(err, errz.ErrUsage))
}

func TestMethodBeforeHeader(t *testing.T) {
	w := New()
	mv := w.VisitMethod(classfile.AccStatic, "f", "()V")
	mv.VisitInsn(op.Return)
	mv.VisitMaxs(0, 0)
	mv.VisitEnd()
	w.VisitHeader(0, classfile.V8, classfile.AccPublic, "com/example/Early", classfile.ObjectClass, nil)
	w.VisitEnd()

	_, err := w.Bytes()
	require.Error(t, err)
	require.True(t, errz.IsKind(err, errz.ErrUsage))
	require.Contains(t, err.Error(), "before class header")
}

func TestEventsAfterEnd(t *testing.T) {
	w := New()
	w.VisitHeader(0, classfile.V8, classfile.AccPublic, "com/example/Late", classfile.ObjectClass, nil)
	w.VisitEnd()
	mv := w.VisitMethod(classfile.AccStatic, "f", "()V")
	mv.VisitInsn(op.Return)
	mv.VisitMaxs(0, 0)
	mv.VisitEnd()
	w.VisitAttribute("Synthetic", nil)

	_, err := w.Bytes()
	require.Error(t, err)
	require.True(t, errz.IsKind(err, errz.ErrUsage))
	require.Contains(t, err.Error(), "after class end")
}

func hierarchyOracle() *cftest.Oracle {
	return cftest.NewOracle(map[string]string{
		"com/example/Base": classfile.ObjectClass,
		"com/example/Sub1": "com/example/Base",
		"com/example/Sub2": "com/example/Base",
	})
}

// buildPick writes a class whose pick method stores either subclass in the
// same local, so the merge point needs the common supertype.
func buildPick(w *ClassWriter) {
	w.VisitHeader(0, classfile.V8, classfile.AccPublic|classfile.AccSuper,
		"com/example/Pick", classfile.ObjectClass, nil)

	mv := w.VisitMethod(classfile.AccPublic, "<init>", "()V")
	mv.VisitVarInsn(op.ALoad, 0)
	mv.VisitMethodInsn(op.InvokeSpecial, classfile.ObjectClass, "<init>", "()V", false)
	mv.VisitInsn(op.Return)
	mv.VisitEnd()

	mv = w.VisitMethod(classfile.AccPublic|classfile.AccStatic, "pick", "(Z)Lcom/example/Base;")
	alt := classfile.NewLabel()
	done := classfile.NewLabel()
	mv.VisitVarInsn(op.ILoad, 0)
	mv.VisitJumpInsn(op.IfEq, alt)
	mv.VisitTypeInsn(op.New, "com/example/Sub1")
	mv.VisitInsn(op.Dup)
	mv.VisitMethodInsn(op.InvokeSpecial, "com/example/Sub1", "<init>", "()V", false)
	mv.VisitVarInsn(op.AStore, 1)
	mv.VisitJumpInsn(op.Goto, done)
	mv.VisitLabel(alt)
	mv.VisitTypeInsn(op.New, "com/example/Sub2")
	mv.VisitInsn(op.Dup)
	mv.VisitMethodInsn(op.InvokeSpecial, "com/example/Sub2", "<init>", "()V", false)
	mv.VisitVarInsn(op.AStore, 1)
	mv.VisitLabel(done)
	mv.VisitVarInsn(op.ALoad, 1)
	mv.VisitInsn(op.AReturn)
	mv.VisitEnd()

	w.VisitEnd()
}

func TestComputeFrames(t *testing.T) {
	w := New(
		classfile.WithFrameMode(classfile.FrameModeCompute),
		classfile.WithOracle(hierarchyOracle()),
	)
	buildPick(w)
	data, err := w.Bytes()
	require.NoError(t, err)

	cr, err := reader.New(data)
	require.NoError(t, err)
	rec := cftest.NewRecorder()
	require.NoError(t, cr.Accept(rec, classfile.WithFrameMode(classfile.FrameModeExpand)))

	all := strings.Join(rec.Events, "\n")
	// The branch target keeps the argument alone; the merge point holds
	// the joined supertype of the two stores.
	require.Contains(t, all, "frame [int] []")
	require.Contains(t, all, "frame [int com/example/Base] []")
	require.Contains(t, all, "maxs 2 2")
}

func TestComputeFramesUntypedIntConstant(t *testing.T) {
	// ldc accepts a Go int alongside int32; frame computation must treat
	// both as the same one-slot integer constant.
	w := New(
		classfile.WithFrameMode(classfile.FrameModeCompute),
		classfile.WithOracle(hierarchyOracle()),
	)
	w.VisitHeader(0, classfile.V8, classfile.AccPublic|classfile.AccSuper,
		"com/example/Lit", classfile.ObjectClass, nil)
	mv := w.VisitMethod(classfile.AccPublic|classfile.AccStatic, "lit", "()I")
	mv.VisitLdcInsn(100000)
	mv.VisitInsn(op.IReturn)
	mv.VisitEnd()
	w.VisitEnd()
	data, err := w.Bytes()
	require.NoError(t, err)

	cr, err := reader.New(data)
	require.NoError(t, err)
	rec := cftest.NewRecorder()
	require.NoError(t, cr.Accept(rec))
	all := strings.Join(rec.Events, "\n")
	require.Contains(t, all, "maxs 1 0")
}

func TestComputeFramesIdempotent(t *testing.T) {
	opts := []classfile.Option{
		classfile.WithFrameMode(classfile.FrameModeCompute),
		classfile.WithOracle(hierarchyOracle()),
	}
	w := New(opts...)
	buildPick(w)
	data, err := w.Bytes()
	require.NoError(t, err)

	// Recomputing frames from the decoded events must reproduce the file.
	cr, err := reader.New(data)
	require.NoError(t, err)
	w2, err := NewFromReader(cr, opts...)
	require.NoError(t, err)
	require.NoError(t, cr.Accept(w2, opts...))
	out, err := w2.Bytes()
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestExpandedFramesReencode(t *testing.T) {
	w := New(
		classfile.WithFrameMode(classfile.FrameModeCompute),
		classfile.WithOracle(hierarchyOracle()),
	)
	buildPick(w)
	data, err := w.Bytes()
	require.NoError(t, err)

	// Expanding the table to full frames and compressing it again must
	// also reproduce the file, without an oracle this time.
	cr, err := reader.New(data)
	require.NoError(t, err)
	w2, err := NewFromReader(cr, classfile.WithFrameMode(classfile.FrameModeExpand))
	require.NoError(t, err)
	require.NoError(t, cr.Accept(w2, classfile.WithFrameMode(classfile.FrameModeExpand)))
	out, err := w2.Bytes()
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestUninitializedTypeInFrames(t *testing.T) {
	opts := []classfile.Option{
		classfile.WithFrameMode(classfile.FrameModeCompute),
		classfile.WithOracle(hierarchyOracle()),
	}
	w := New(opts...)
	w.VisitHeader(0, classfile.V8, classfile.AccPublic|classfile.AccSuper,
		"com/example/Mk", classfile.ObjectClass, nil)
	// A branch between new and <init> puts the uninitialized value in an
	// emitted frame, keyed to its allocation site.
	mv := w.VisitMethod(classfile.AccPublic|classfile.AccStatic, "make", "(Z)Lcom/example/Base;")
	join := classfile.NewLabel()
	mv.VisitTypeInsn(op.New, "com/example/Sub1")
	mv.VisitInsn(op.Dup)
	mv.VisitVarInsn(op.ILoad, 0)
	mv.VisitJumpInsn(op.IfEq, join)
	mv.VisitInsn(op.Nop)
	mv.VisitLabel(join)
	mv.VisitMethodInsn(op.InvokeSpecial, "com/example/Sub1", "<init>", "()V", false)
	mv.VisitInsn(op.AReturn)
	mv.VisitEnd()
	w.VisitEnd()

	data, err := w.Bytes()
	require.NoError(t, err)

	cr, err := reader.New(data)
	require.NoError(t, err)
	rec := cftest.NewRecorder()
	require.NoError(t, cr.Accept(rec, classfile.WithFrameMode(classfile.FrameModeExpand)))
	all := strings.Join(rec.Events, "\n")
	require.Contains(t, all, "uninitialized(com/example/Sub1")
	require.Contains(t, all, "maxs 3 1")

	// Both the recompute and the expand pipelines must reproduce the
	// allocation site offsets exactly.
	w2, err := NewFromReader(cr, opts...)
	require.NoError(t, err)
	require.NoError(t, cr.Accept(w2, opts...))
	out, err := w2.Bytes()
	require.NoError(t, err)
	require.Equal(t, data, out)

	w3, err := NewFromReader(cr, classfile.WithFrameMode(classfile.FrameModeExpand))
	require.NoError(t, err)
	require.NoError(t, cr.Accept(w3, classfile.WithFrameMode(classfile.FrameModeExpand)))
	out, err = w3.Bytes()
	require.NoError(t, err)
	require.Equal(t, data, out)
}
