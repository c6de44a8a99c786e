// Package frames computes stack map frames for a method body.
//
// The input is a symbolic instruction list with label markers, the kind a
// writer accumulates before layout. The engine partitions it into basic
// blocks, then runs a worklist dataflow over the verification type
// lattice until the entry state of every reachable block is stable. Class
// hierarchy questions are delegated to the caller's TypeOracle; the
// engine itself never inspects classes.
package frames

import (
	"github.com/cloudcmds/classfile"
	"github.com/cloudcmds/classfile/errz"
	"github.com/cloudcmds/classfile/op"
	"github.com/cloudcmds/classfile/types"
)

// Insn is one symbolic instruction. Mark set makes it a label binding
// rather than an executable instruction; the remaining fields are a union
// keyed by the opcode's operand format.
type Insn struct {
	Mark *classfile.Label

	Op      op.Code
	Operand int    // immediate, local index, or dimension count
	Delta   int    // iinc increment
	Name    string // member or type name
	Owner   string
	Desc    string
	Itf     bool
	Const   any              // ldc operand
	Target  *classfile.Label // branch target
	Site    *classfile.Label // allocation site of a new instruction
	Dflt    *classfile.Label
	Keys    []int32 // lookupswitch keys
	Lo, Hi  int32   // tableswitch bounds
	Targets []*classfile.Label
}

// Handler is one exception table entry over [Start, End).
type Handler struct {
	Start, End, Catch *classfile.Label
	CatchType         string // internal name, "" catches everything
}

// Method is the input to frame computation.
type Method struct {
	Owner      string // internal name of the class being defined
	Access     uint16
	Name       string
	Descriptor string
	Code       []Insn
	Handlers   []Handler
}

// EmittedFrame is a computed frame anchored at a label.
type EmittedFrame struct {
	At    *classfile.Label
	Frame *classfile.Frame
}

// Result is the output of frame computation.
type Result struct {
	Frames    []EmittedFrame
	MaxStack  int
	MaxLocals int
}

type block struct {
	start, end int // instruction index range
	label      *classfile.Label
	succs      []int
	isTarget   bool // jump or handler target, needs an emitted frame
	reachable  bool
	in         *state
}

// state is the mutable dataflow value: locals in slot form plus the
// operand stack, one entry per value.
type state struct {
	locals []classfile.VerificationType
	stack  []classfile.VerificationType
}

func (s *state) clone() *state {
	out := &state{
		locals: make([]classfile.VerificationType, len(s.locals)),
		stack:  make([]classfile.VerificationType, len(s.stack)),
	}
	copy(out.locals, s.locals)
	copy(out.stack, s.stack)
	return out
}

// stackSlots returns the operand stack depth in slots.
func (s *state) stackSlots() int {
	n := 0
	for _, v := range s.stack {
		n++
		if v.IsWide() {
			n++
		}
	}
	return n
}

// Compute runs the dataflow engine over m and returns the frames needed
// at every reachable jump and handler target, plus the stack and local
// limits observed along the way.
func Compute(m *Method, cfg *classfile.Config) (*Result, error) {
	if cfg.Oracle == nil && cfg.StrictTypeResolution {
		return nil, errz.Usage("strict type resolution requires an oracle")
	}
	for _, in := range m.Code {
		if in.Mark == nil && op.GetInfo(in.Op).Flow == op.FlowJSR {
			return nil, errz.Format(0, "%s is not supported by frame computation", op.GetInfo(in.Op).Name)
		}
	}

	e := &engine{m: m, cfg: cfg}
	if err := e.run(); err != nil {
		return nil, err
	}
	return e.result(), nil
}

type engine struct {
	m   *Method
	cfg *classfile.Config

	labelAt  map[*classfile.Label]int // label -> instruction index
	blockAt  map[int]int              // leader instruction index -> block index
	blocks   []*block
	handlers []handlerRange
	maxStack int
	maxLocal int
}

func (e *engine) run() error {
	e.index()
	if err := e.partition(); err != nil {
		return err
	}
	if err := e.resolveHandlers(); err != nil {
		return err
	}
	return e.iterate()
}

// index resolves every bound label to its instruction position.
func (e *engine) index() {
	e.labelAt = make(map[*classfile.Label]int)
	for i, in := range e.m.Code {
		if in.Mark != nil {
			e.labelAt[in.Mark] = i
		}
	}
}

func (e *engine) at(l *classfile.Label) (int, error) {
	i, ok := e.labelAt[l]
	if !ok {
		return 0, errz.Usage("label %s referenced but never bound", l)
	}
	return i, nil
}

// partition splits the instruction list into basic blocks and wires the
// normal control flow edges. Handler edges are added dynamically during
// iteration because the state flowing into a handler depends on the
// locals at each covered instruction.
func (e *engine) partition() error {
	leaders := map[int]bool{0: true}
	targets := map[int]bool{}

	markTarget := func(l *classfile.Label) error {
		i, err := e.at(l)
		if err != nil {
			return err
		}
		leaders[i] = true
		targets[i] = true
		return nil
	}

	for i, in := range e.m.Code {
		if in.Mark != nil {
			continue
		}
		info := op.GetInfo(in.Op)
		switch info.Flow {
		case op.FlowCondBranch, op.FlowGoto:
			if err := markTarget(in.Target); err != nil {
				return err
			}
			leaders[i+1] = true
		case op.FlowSwitch:
			if err := markTarget(in.Dflt); err != nil {
				return err
			}
			for _, t := range in.Targets {
				if err := markTarget(t); err != nil {
					return err
				}
			}
			leaders[i+1] = true
		case op.FlowReturn, op.FlowThrow:
			leaders[i+1] = true
		}
	}
	for _, h := range e.m.Handlers {
		if err := markTarget(h.Catch); err != nil {
			return err
		}
		// Try range boundaries split blocks so coverage is block-aligned.
		for _, l := range []*classfile.Label{h.Start, h.End} {
			i, err := e.at(l)
			if err != nil {
				return err
			}
			leaders[i] = true
		}
	}

	// A label marker makes the following instruction share its position, so
	// normalize leaders to the first marker of each run.
	normalize := func(i int) int {
		for i > 0 && e.m.Code[i-1].Mark != nil {
			i--
		}
		return i
	}
	norm := map[int]bool{}
	for i := range leaders {
		if i <= len(e.m.Code) {
			norm[normalize(i)] = true
		}
	}

	e.blockAt = make(map[int]int)
	for i := 0; i <= len(e.m.Code); i++ {
		if i < len(e.m.Code) && norm[i] {
			b := &block{start: i}
			e.blockAt[i] = len(e.blocks)
			e.blocks = append(e.blocks, b)
		}
	}
	for bi, b := range e.blocks {
		if bi+1 < len(e.blocks) {
			b.end = e.blocks[bi+1].start
		} else {
			b.end = len(e.m.Code)
		}
		for i := b.start; i < b.end; i++ {
			if mark := e.m.Code[i].Mark; mark != nil && b.label == nil {
				b.label = mark
			}
		}
	}
	for i := range targets {
		b := e.blocks[e.blockAt[normalize(i)]]
		b.isTarget = true
	}

	// Normal successors.
	for bi, b := range e.blocks {
		last := b.lastInsn(e.m.Code)
		if last == nil {
			if bi+1 < len(e.blocks) {
				b.succs = append(b.succs, bi+1)
			}
			continue
		}
		info := op.GetInfo(last.Op)
		switch info.Flow {
		case op.FlowNext:
			if bi+1 < len(e.blocks) {
				b.succs = append(b.succs, bi+1)
			}
		case op.FlowCondBranch:
			if bi+1 < len(e.blocks) {
				b.succs = append(b.succs, bi+1)
			}
			b.succs = append(b.succs, e.blockOf(last.Target))
		case op.FlowGoto:
			b.succs = append(b.succs, e.blockOf(last.Target))
		case op.FlowSwitch:
			b.succs = append(b.succs, e.blockOf(last.Dflt))
			for _, t := range last.Targets {
				b.succs = append(b.succs, e.blockOf(t))
			}
		}
	}
	return nil
}

// lastInsn returns the final executable instruction of the block, or nil
// if the block holds only label markers.
func (b *block) lastInsn(code []Insn) *Insn {
	for i := b.end - 1; i >= b.start; i-- {
		if code[i].Mark == nil {
			return &code[i]
		}
	}
	return nil
}

func (e *engine) blockOf(l *classfile.Label) int {
	i := e.labelAt[l]
	for i > 0 && e.m.Code[i-1].Mark != nil {
		i--
	}
	return e.blockAt[i]
}

// iterate runs the worklist to a fixed point.
func (e *engine) iterate() error {
	entry, err := e.entryState()
	if err != nil {
		return err
	}
	e.maxLocal = len(entry.locals)

	e.blocks[0].in = entry
	e.blocks[0].reachable = true
	work := []int{0}
	inWork := map[int]bool{0: true}
	passes := 0

	for len(work) > 0 {
		bi := work[0]
		work = work[1:]
		inWork[bi] = false
		passes++

		b := e.blocks[bi]
		out, err := e.simulate(bi, b.in.clone(), func(target int, st *state) error {
			return e.merge(target, st, &work, inWork)
		})
		if err != nil {
			return err
		}
		for _, si := range b.succs {
			branch := out
			if len(b.succs) > 1 {
				branch = out.clone()
			}
			if err := e.merge(si, branch, &work, inWork); err != nil {
				return err
			}
		}
	}

	e.cfg.Logger.Debug().
		Str("method", e.m.Name+e.m.Descriptor).
		Int("blocks", len(e.blocks)).
		Int("passes", passes).
		Msg("frame computation reached fixed point")
	return nil
}

// merge joins st into the entry state of block bi and requeues the block
// when the state widened.
func (e *engine) merge(bi int, st *state, work *[]int, inWork map[int]bool) error {
	b := e.blocks[bi]
	if !b.reachable {
		b.reachable = true
		b.in = st.clone()
	} else {
		changed, err := e.join(b.in, st, bi)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
	}
	if !inWork[bi] {
		inWork[bi] = true
		*work = append(*work, bi)
	}
	return nil
}

// join widens dst in place with src. It reports whether dst changed.
func (e *engine) join(dst, src *state, bi int) (bool, error) {
	if len(dst.stack) != len(src.stack) {
		return false, errz.Resolution("", "", bi,
			"operand stack height mismatch at block %d: %d vs %d", bi, len(dst.stack), len(src.stack))
	}
	changed := false

	// Locals merge slot by slot; a slot missing on either side is dead.
	if len(src.locals) < len(dst.locals) {
		dst.locals = dst.locals[:len(src.locals)]
		changed = true
	}
	for i := range dst.locals {
		merged, err := e.joinType(dst.locals[i], src.locals[i], bi)
		if err != nil {
			return false, err
		}
		if !merged.Equal(dst.locals[i]) {
			dst.locals[i] = merged
			changed = true
		}
	}
	for i := range dst.stack {
		merged, err := e.joinType(dst.stack[i], src.stack[i], bi)
		if err != nil {
			return false, err
		}
		if merged.Kind == classfile.KindTop {
			return false, errz.Resolution(dst.stack[i].String(), src.stack[i].String(), bi,
				"operand stack entry %d merges to top at block %d", i, bi)
		}
		if !merged.Equal(dst.stack[i]) {
			dst.stack[i] = merged
			changed = true
		}
	}
	return changed, nil
}

// joinType computes the least upper bound of two verification types.
func (e *engine) joinType(a, b classfile.VerificationType, bi int) (classfile.VerificationType, error) {
	if a.Equal(b) {
		return a, nil
	}
	if a.Kind == classfile.KindNull && refKind(b.Kind) {
		return b, nil
	}
	if b.Kind == classfile.KindNull && refKind(a.Kind) {
		return a, nil
	}
	if a.Kind == classfile.KindObject && b.Kind == classfile.KindObject {
		name, err := e.supertype(a.ClassName, b.ClassName, bi)
		if err != nil {
			return classfile.Top, err
		}
		return classfile.ObjectOf(name), nil
	}
	// Distinct primitives, or uninitialized values with distinct sites,
	// have no useful upper bound.
	return classfile.Top, nil
}

func refKind(k classfile.VerificationKind) bool {
	return k == classfile.KindObject || k == classfile.KindNull
}

// supertype resolves the common supertype of two class names through the
// oracle, falling back to the root object type when lenient.
func (e *engine) supertype(a, b string, bi int) (string, error) {
	// Array merges fall back to the root object type without consulting
	// the oracle; element-wise array covariance is not modeled.
	if len(a) > 0 && a[0] == '[' || len(b) > 0 && b[0] == '[' {
		if a == b {
			return a, nil
		}
		return classfile.ObjectClass, nil
	}
	if e.cfg.Oracle == nil {
		return classfile.ObjectClass, nil
	}
	name, err := e.cfg.Oracle.CommonSupertype(a, b)
	if err != nil {
		if e.cfg.StrictTypeResolution {
			return "", errz.Resolution(a, b, bi, "cannot resolve common supertype of %s and %s", a, b).WithCause(err)
		}
		e.cfg.Logger.Debug().Str("a", a).Str("b", b).Err(err).
			Msg("supertype unresolved, widening to java/lang/Object")
		return classfile.ObjectClass, nil
	}
	return name, nil
}

// entryState builds the method entry frame from the descriptor.
func (e *engine) entryState() (*state, error) {
	st := &state{}
	if e.m.Access&classfile.AccStatic == 0 {
		if e.m.Name == "<init>" {
			st.locals = append(st.locals, classfile.UninitializedThis)
		} else {
			st.locals = append(st.locals, classfile.ObjectOf(e.m.Owner))
		}
	}
	mt, err := types.MethodType(e.m.Descriptor)
	if err != nil {
		return nil, err
	}
	for _, arg := range mt.ArgumentTypes() {
		v := verificationTypeOf(arg)
		st.locals = append(st.locals, v)
		if v.IsWide() {
			st.locals = append(st.locals, classfile.Top)
		}
	}
	return st, nil
}

// verificationTypeOf maps a descriptor type to its verification type.
func verificationTypeOf(t types.Type) classfile.VerificationType {
	switch t.Sort() {
	case types.Boolean, types.Char, types.Byte, types.Short, types.Int:
		return classfile.Integer
	case types.Float:
		return classfile.Float
	case types.Long:
		return classfile.Long
	case types.Double:
		return classfile.Double
	case types.Array:
		return classfile.ObjectOf(t.Descriptor())
	default:
		return classfile.ObjectOf(t.InternalName())
	}
}

// result collects the frames of every reachable target block in code
// order, trimming dead trailing locals.
func (e *engine) result() *Result {
	res := &Result{MaxStack: e.maxStack, MaxLocals: e.maxLocal}
	for _, b := range e.blocks {
		if !b.isTarget || !b.reachable {
			continue
		}
		locals := trimLocals(b.in.locals)
		f := &classfile.Frame{
			Locals: append([]classfile.VerificationType(nil), locals...),
			Stack:  append([]classfile.VerificationType(nil), b.in.stack...),
		}
		res.Frames = append(res.Frames, EmittedFrame{At: b.label, Frame: f})
	}
	return res
}

// trimLocals drops dead top slots from the tail, keeping the placeholder
// slot of a live wide value.
func trimLocals(locals []classfile.VerificationType) []classfile.VerificationType {
	n := len(locals)
	for n > 0 && locals[n-1].Kind == classfile.KindTop {
		if n >= 2 && locals[n-2].IsWide() {
			break
		}
		n--
	}
	return locals[:n]
}
