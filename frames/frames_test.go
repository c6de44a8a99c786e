package frames

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudcmds/classfile"
	"github.com/cloudcmds/classfile/errz"
	"github.com/cloudcmds/classfile/internal/cftest"
	"github.com/cloudcmds/classfile/op"
)

func testOracle() *cftest.Oracle {
	return cftest.NewOracle(map[string]string{
		"com/example/Base": classfile.ObjectClass,
		"com/example/Sub1": "com/example/Base",
		"com/example/Sub2": "com/example/Base",
	})
}

func testConfig(opts ...classfile.Option) *classfile.Config {
	opts = append([]classfile.Option{classfile.WithOracle(testOracle())}, opts...)
	return classfile.NewConfig(opts...)
}

func mark(l *classfile.Label) Insn {
	return Insn{Mark: l}
}

func TestJoinTypeLattice(t *testing.T) {
	e := &engine{cfg: testConfig()}
	base := classfile.ObjectOf("com/example/Base")
	sub1 := classfile.ObjectOf("com/example/Sub1")
	sub2 := classfile.ObjectOf("com/example/Sub2")
	obj := classfile.ObjectOf(classfile.ObjectClass)

	samples := []classfile.VerificationType{
		classfile.Top, classfile.Integer, classfile.Float, classfile.Long,
		classfile.Double, classfile.Null, base, sub1, sub2, obj,
	}

	// Commutativity over the sample set.
	for _, a := range samples {
		for _, b := range samples {
			ab, err := e.joinType(a, b, 0)
			require.NoError(t, err)
			ba, err := e.joinType(b, a, 0)
			require.NoError(t, err)
			require.True(t, ab.Equal(ba), "join(%s,%s)=%s but join(%s,%s)=%s", a, b, ab, b, a, ba)
		}
	}

	// Associativity.
	for _, a := range samples {
		for _, b := range samples {
			for _, c := range samples {
				ab, err := e.joinType(a, b, 0)
				require.NoError(t, err)
				abc1, err := e.joinType(ab, c, 0)
				require.NoError(t, err)
				bc, err := e.joinType(b, c, 0)
				require.NoError(t, err)
				abc2, err := e.joinType(a, bc, 0)
				require.NoError(t, err)
				require.True(t, abc1.Equal(abc2))
			}
		}
	}

	// Idempotence and specific merges.
	for _, a := range samples {
		aa, err := e.joinType(a, a, 0)
		require.NoError(t, err)
		require.True(t, aa.Equal(a))
	}
	got, err := e.joinType(sub1, sub2, 0)
	require.NoError(t, err)
	require.True(t, got.Equal(base))
	got, err = e.joinType(classfile.Null, sub1, 0)
	require.NoError(t, err)
	require.True(t, got.Equal(sub1))
	got, err = e.joinType(classfile.Integer, classfile.Float, 0)
	require.NoError(t, err)
	require.True(t, got.Equal(classfile.Top))
}

func TestJoinUnknownClassLenient(t *testing.T) {
	e := &engine{cfg: testConfig()}
	got, err := e.joinType(classfile.ObjectOf("com/other/A"), classfile.ObjectOf("com/other/B"), 0)
	require.NoError(t, err)
	require.True(t, got.Equal(classfile.ObjectOf(classfile.ObjectClass)))
}

func TestJoinUnknownClassStrict(t *testing.T) {
	e := &engine{cfg: testConfig(classfile.WithStrictTypeResolution())}
	_, err := e.joinType(classfile.ObjectOf("com/other/A"), classfile.ObjectOf("com/other/B"), 3)
	require.Error(t, err)
	require.True(t, errz.IsKind(err, errz.ErrResolution))
	var ez *errz.Error
	require.ErrorAs(t, err, &ez)
	require.Equal(t, 3, ez.Block)
}

// newInsn is a new instruction with a fresh allocation site.
func newInsn(name string) Insn {
	return Insn{Op: op.New, Name: name, Site: classfile.NewLabel()}
}

func TestBranchMergeSubclasses(t *testing.T) {
	merge := classfile.NewLabel()
	alt := classfile.NewLabel()

	m := &Method{
		Owner:      "com/example/Main",
		Access:     classfile.AccStatic,
		Name:       "pick",
		Descriptor: "(Z)Lcom/example/Base;",
		Code: []Insn{
			{Op: op.ILoad0},
			{Op: op.IfEq, Target: alt},
			newInsn("com/example/Sub1"),
			{Op: op.Dup},
			{Op: op.InvokeSpecial, Owner: "com/example/Sub1", Name: "<init>", Desc: "()V"},
			{Op: op.AStore1},
			{Op: op.Goto, Target: merge},
			mark(alt),
			newInsn("com/example/Sub2"),
			{Op: op.Dup},
			{Op: op.InvokeSpecial, Owner: "com/example/Sub2", Name: "<init>", Desc: "()V"},
			{Op: op.AStore1},
			mark(merge),
			{Op: op.ALoad1},
			{Op: op.AReturn},
		},
	}

	res, err := Compute(m, testConfig())
	require.NoError(t, err)
	require.Len(t, res.Frames, 2)

	// The alternative branch still has only the argument live.
	altFrame := res.Frames[0]
	require.Same(t, alt, altFrame.At)
	require.Equal(t, []classfile.VerificationType{classfile.Integer}, altFrame.Frame.Locals)
	require.Empty(t, altFrame.Frame.Stack)

	// At the merge the two constructions joined to their superclass.
	mergeFrame := res.Frames[1]
	require.Same(t, merge, mergeFrame.At)
	require.Equal(t, []classfile.VerificationType{
		classfile.Integer,
		classfile.ObjectOf("com/example/Base"),
	}, mergeFrame.Frame.Locals)
	require.Empty(t, mergeFrame.Frame.Stack)

	require.Equal(t, 2, res.MaxStack)
	require.Equal(t, 2, res.MaxLocals)
}

func TestUninitializedSurvivesMergeUntilInit(t *testing.T) {
	skip := classfile.NewLabel()
	done := classfile.NewLabel()
	alloc := newInsn("com/example/Base")

	m := &Method{
		Owner:      "com/example/Main",
		Access:     classfile.AccStatic,
		Name:       "build",
		Descriptor: "(Z)Lcom/example/Base;",
		Code: []Insn{
			alloc,
			{Op: op.Dup},
			{Op: op.ILoad0},
			{Op: op.IfEq, Target: skip},
			{Op: op.Nop},
			mark(skip),
			{Op: op.InvokeSpecial, Owner: "com/example/Base", Name: "<init>", Desc: "()V"},
			{Op: op.AStore1},
			{Op: op.Goto, Target: done},
			mark(done),
			{Op: op.ALoad1},
			{Op: op.AReturn},
		},
	}

	res, err := Compute(m, testConfig())
	require.NoError(t, err)
	require.Len(t, res.Frames, 2)

	// Both paths carry the same allocation site, so the merge keeps the
	// uninitialized value on the stack.
	uninit := classfile.UninitializedAt("com/example/Base", alloc.Site)
	skipFrame := res.Frames[0]
	require.Same(t, skip, skipFrame.At)
	require.Equal(t, []classfile.VerificationType{uninit, uninit}, skipFrame.Frame.Stack)

	// Once the constructor ran, every alias became the concrete type.
	doneFrame := res.Frames[1]
	require.Same(t, done, doneFrame.At)
	require.Equal(t, []classfile.VerificationType{
		classfile.Integer,
		classfile.ObjectOf("com/example/Base"),
	}, doneFrame.Frame.Locals)
	require.Empty(t, doneFrame.Frame.Stack)
}

func TestConstructorThisRewrite(t *testing.T) {
	done := classfile.NewLabel()

	m := &Method{
		Owner:      "com/example/Sub1",
		Access:     0,
		Name:       "<init>",
		Descriptor: "()V",
		Code: []Insn{
			{Op: op.ALoad0},
			{Op: op.InvokeSpecial, Owner: "com/example/Base", Name: "<init>", Desc: "()V"},
			{Op: op.Goto, Target: done},
			mark(done),
			{Op: op.Return},
		},
	}

	res, err := Compute(m, testConfig())
	require.NoError(t, err)
	require.Len(t, res.Frames, 1)
	require.Equal(t, []classfile.VerificationType{
		classfile.ObjectOf("com/example/Sub1"),
	}, res.Frames[0].Frame.Locals)
}

func TestHandlerEntryState(t *testing.T) {
	tryStart := classfile.NewLabel()
	tryEnd := classfile.NewLabel()
	handler := classfile.NewLabel()
	done := classfile.NewLabel()

	m := &Method{
		Owner:      "com/example/Main",
		Access:     classfile.AccStatic,
		Name:       "guarded",
		Descriptor: "()V",
		Code: []Insn{
			mark(tryStart),
			{Op: op.IConst1},
			{Op: op.IStore0},
			mark(tryEnd),
			{Op: op.Goto, Target: done},
			mark(handler),
			{Op: op.AStore1},
			mark(done),
			{Op: op.Return},
		},
		Handlers: []Handler{
			{Start: tryStart, End: tryEnd, Catch: handler, CatchType: "java/lang/Exception"},
		},
	}

	res, err := Compute(m, testConfig())
	require.NoError(t, err)

	var handlerFrame *classfile.Frame
	for _, f := range res.Frames {
		if f.At == handler {
			handlerFrame = f.Frame
		}
	}
	require.NotNil(t, handlerFrame)

	// Locals flow from the protected range; the stack holds only the
	// caught exception.
	require.Empty(t, handlerFrame.Locals)
	require.Equal(t, []classfile.VerificationType{
		classfile.ObjectOf("java/lang/Exception"),
	}, handlerFrame.Stack)

	require.GreaterOrEqual(t, res.MaxStack, 1)
	require.GreaterOrEqual(t, res.MaxLocals, 2)
}

func TestCatchAllUsesThrowable(t *testing.T) {
	tryStart := classfile.NewLabel()
	tryEnd := classfile.NewLabel()
	handler := classfile.NewLabel()

	m := &Method{
		Owner:      "com/example/Main",
		Access:     classfile.AccStatic,
		Name:       "guarded",
		Descriptor: "()V",
		Code: []Insn{
			mark(tryStart),
			{Op: op.Nop},
			mark(tryEnd),
			{Op: op.Return},
			mark(handler),
			{Op: op.AThrow},
		},
		Handlers: []Handler{
			{Start: tryStart, End: tryEnd, Catch: handler, CatchType: ""},
		},
	}

	res, err := Compute(m, testConfig())
	require.NoError(t, err)
	require.Len(t, res.Frames, 1)
	require.Equal(t, []classfile.VerificationType{
		classfile.ObjectOf(classfile.ThrowableClass),
	}, res.Frames[0].Frame.Stack)
}

func TestUnreachableBlockNotEmitted(t *testing.T) {
	dead := classfile.NewLabel()
	end := classfile.NewLabel()

	m := &Method{
		Owner:      "com/example/Main",
		Access:     classfile.AccStatic,
		Name:       "f",
		Descriptor: "()V",
		Code: []Insn{
			{Op: op.Goto, Target: end},
			mark(dead),
			{Op: op.Nop},
			mark(end),
			{Op: op.Return},
		},
	}

	res, err := Compute(m, testConfig())
	require.NoError(t, err)
	require.Len(t, res.Frames, 1)
	require.Same(t, end, res.Frames[0].At)
}

func TestComputeDeterministic(t *testing.T) {
	merge := classfile.NewLabel()
	m := &Method{
		Owner:      "com/example/Main",
		Access:     classfile.AccStatic,
		Name:       "loop",
		Descriptor: "(I)I",
		Code: []Insn{
			mark(merge),
			{Op: op.ILoad0},
			{Op: op.IfGt, Target: merge},
			{Op: op.ILoad0},
			{Op: op.IReturn},
		},
	}

	first, err := Compute(m, testConfig())
	require.NoError(t, err)
	second, err := Compute(m, testConfig())
	require.NoError(t, err)

	require.Equal(t, first.MaxStack, second.MaxStack)
	require.Equal(t, first.MaxLocals, second.MaxLocals)
	require.Len(t, second.Frames, len(first.Frames))
	for i := range first.Frames {
		require.Same(t, first.Frames[i].At, second.Frames[i].At)
		require.True(t, first.Frames[i].Frame.Equal(second.Frames[i].Frame))
	}
}

func TestJsrRejected(t *testing.T) {
	target := classfile.NewLabel()
	m := &Method{
		Owner:      "com/example/Main",
		Access:     classfile.AccStatic,
		Name:       "f",
		Descriptor: "()V",
		Code: []Insn{
			{Op: op.Jsr, Target: target},
			mark(target),
			{Op: op.Return},
		},
	}
	_, err := Compute(m, testConfig())
	require.Error(t, err)
	require.True(t, errz.IsKind(err, errz.ErrFormat))
}

func TestStackHeightMismatch(t *testing.T) {
	merge := classfile.NewLabel()
	m := &Method{
		Owner:      "com/example/Main",
		Access:     classfile.AccStatic,
		Name:       "f",
		Descriptor: "(Z)V",
		Code: []Insn{
			{Op: op.ILoad0},
			{Op: op.IfEq, Target: merge},
			{Op: op.IConst1},
			mark(merge),
			{Op: op.Return},
		},
	}
	_, err := Compute(m, testConfig())
	require.Error(t, err)
	require.True(t, errz.IsKind(err, errz.ErrResolution))
}

func TestWideLocalsAndStack(t *testing.T) {
	end := classfile.NewLabel()
	m := &Method{
		Owner:      "com/example/Main",
		Access:     classfile.AccStatic,
		Name:       "sum",
		Descriptor: "(JD)D",
		Code: []Insn{
			{Op: op.LLoad0},
			{Op: op.L2D},
			{Op: op.DLoad2},
			{Op: op.DAdd},
			{Op: op.Goto, Target: end},
			mark(end),
			{Op: op.DReturn},
		},
	}

	res, err := Compute(m, testConfig())
	require.NoError(t, err)
	require.Equal(t, 4, res.MaxStack)
	require.Equal(t, 4, res.MaxLocals)
	require.Len(t, res.Frames, 1)

	// Slot form keeps the placeholder after each wide local.
	require.Equal(t, []classfile.VerificationType{
		classfile.Long, classfile.Top, classfile.Double, classfile.Top,
	}, res.Frames[0].Frame.Locals)
	require.Equal(t, []classfile.VerificationType{classfile.Double}, res.Frames[0].Frame.Stack)
}
