package frames

import (
	"github.com/cloudcmds/classfile"
	"github.com/cloudcmds/classfile/errz"
	"github.com/cloudcmds/classfile/op"
	"github.com/cloudcmds/classfile/types"
)

// handlerRange is a resolved exception table entry: instruction indices
// plus the handler's block.
type handlerRange struct {
	from, to int
	block    int
	catch    classfile.VerificationType
}

// resolveHandlers converts label-based try ranges to instruction ranges.
func (e *engine) resolveHandlers() error {
	for _, h := range e.m.Handlers {
		from, err := e.at(h.Start)
		if err != nil {
			return err
		}
		to, err := e.at(h.End)
		if err != nil {
			return err
		}
		catchType := h.CatchType
		if catchType == "" {
			catchType = classfile.ThrowableClass
		}
		e.handlers = append(e.handlers, handlerRange{
			from:  from,
			to:    to,
			block: e.blockOf(h.Catch),
			catch: classfile.ObjectOf(catchType),
		})
	}
	return nil
}

// sim interprets one basic block. Its helpers panic with *errz.Error on
// malformed stack shapes; simulate recovers them.
type sim struct {
	e  *engine
	st *state
	bi int
}

// simulate runs the transfer function over block bi starting from st and
// returns the exit state. Before each covered instruction the current
// locals flow to the covering handlers through mergeHandler.
func (e *engine) simulate(bi int, st *state, mergeHandler func(int, *state) error) (out *state, err error) {
	defer func() {
		if v := recover(); v != nil {
			if ez, ok := v.(*errz.Error); ok {
				out, err = nil, ez
				return
			}
			panic(v)
		}
	}()

	b := e.blocks[bi]
	if n := st.stackSlots(); n > e.maxStack {
		e.maxStack = n
	}
	s := &sim{e: e, st: st, bi: bi}
	for i := b.start; i < b.end; i++ {
		in := &e.m.Code[i]
		if in.Mark != nil {
			continue
		}
		for _, h := range e.handlers {
			if i >= h.from && i < h.to {
				catch := &state{
					locals: append([]classfile.VerificationType(nil), st.locals...),
					stack:  []classfile.VerificationType{h.catch},
				}
				if err := mergeHandler(h.block, catch); err != nil {
					return nil, err
				}
			}
		}
		s.step(in)
	}
	return st, nil
}

func (s *sim) fail(format string, args ...any) {
	panic(errz.Resolution("", "", s.bi, format, args...))
}

func (s *sim) push(vs ...classfile.VerificationType) {
	s.st.stack = append(s.st.stack, vs...)
	if n := s.st.stackSlots(); n > s.e.maxStack {
		s.e.maxStack = n
	}
}

func (s *sim) pop() classfile.VerificationType {
	if len(s.st.stack) == 0 {
		s.fail("operand stack underflow in block %d", s.bi)
	}
	v := s.st.stack[len(s.st.stack)-1]
	s.st.stack = s.st.stack[:len(s.st.stack)-1]
	return v
}

func (s *sim) popN(n int) {
	for i := 0; i < n; i++ {
		s.pop()
	}
}

// popSlots pops values until exactly n stack slots have been removed.
func (s *sim) popSlots(n int) []classfile.VerificationType {
	var vs []classfile.VerificationType
	for n > 0 {
		v := s.pop()
		vs = append([]classfile.VerificationType{v}, vs...)
		n--
		if v.IsWide() {
			n--
		}
	}
	if n < 0 {
		s.fail("wide value straddles a stack manipulation in block %d", s.bi)
	}
	return vs
}

func (s *sim) local(i int) classfile.VerificationType {
	if i < 0 || i >= len(s.st.locals) {
		return classfile.Top
	}
	return s.st.locals[i]
}

func (s *sim) touchLocal(n int) {
	if n > s.e.maxLocal {
		s.e.maxLocal = n
	}
}

func (s *sim) setLocal(i int, v classfile.VerificationType) {
	need := i + 1
	if v.IsWide() {
		need = i + 2
	}
	for len(s.st.locals) < need {
		s.st.locals = append(s.st.locals, classfile.Top)
	}
	// Overwriting either half of a wide value kills the other half.
	if i > 0 && s.st.locals[i-1].IsWide() {
		s.st.locals[i-1] = classfile.Top
	}
	if s.st.locals[i].IsWide() && i+1 < len(s.st.locals) {
		s.st.locals[i+1] = classfile.Top
	}
	s.st.locals[i] = v
	if v.IsWide() {
		if s.st.locals[i+1].IsWide() && i+2 < len(s.st.locals) {
			s.st.locals[i+2] = classfile.Top
		}
		s.st.locals[i+1] = classfile.Top
	}
	s.touchLocal(need)
}

// step applies one instruction to the current state.
func (s *sim) step(in *Insn) {
	c := in.Op
	switch {
	case c == op.Nop:
	case c == op.AConstNul:
		s.push(classfile.Null)
	case c >= op.IConstM1 && c <= op.IConst5:
		s.push(classfile.Integer)
	case c == op.LConst0 || c == op.LConst1:
		s.push(classfile.Long)
	case c >= op.FConst0 && c <= op.FConst2:
		s.push(classfile.Float)
	case c == op.DConst0 || c == op.DConst1:
		s.push(classfile.Double)
	case c == op.BIPush || c == op.SIPush:
		s.push(classfile.Integer)
	case c == op.Ldc || c == op.LdcW || c == op.Ldc2W:
		s.push(constType(in.Const))

	case c >= op.ILoad && c <= op.ALoad:
		s.stepLoad(c-op.ILoad, in.Operand)
	case c >= op.ILoad0 && c <= op.ALoad3:
		s.stepLoad((c-op.ILoad0)/4, int((c-op.ILoad0)%4))

	case c >= op.IALoad && c <= op.SALoad:
		s.pop() // index
		arr := s.pop()
		switch c {
		case op.IALoad, op.BALoad, op.CALoad, op.SALoad:
			s.push(classfile.Integer)
		case op.LALoad:
			s.push(classfile.Long)
		case op.FALoad:
			s.push(classfile.Float)
		case op.DALoad:
			s.push(classfile.Double)
		case op.AALoad:
			s.push(elementType(arr))
		}

	case c >= op.IStore && c <= op.AStore:
		s.setLocal(in.Operand, s.pop())
	case c >= op.IStore0 && c <= op.AStore3:
		s.setLocal(int((c-op.IStore0)%4), s.pop())

	case c >= op.IAStore && c <= op.SAStore:
		s.popN(3)

	case c == op.Pop:
		s.pop()
	case c == op.Pop2:
		s.popSlots(2)
	case c == op.Dup:
		v := s.pop()
		s.push(v, v)
	case c == op.DupX1:
		v1, v2 := s.pop(), s.pop()
		s.push(v1, v2, v1)
	case c == op.DupX2:
		v1 := s.pop()
		under := s.popSlots(2)
		s.push(v1)
		s.push(under...)
		s.push(v1)
	case c == op.Dup2:
		vs := s.popSlots(2)
		s.push(vs...)
		s.push(vs...)
	case c == op.Dup2X1:
		vs := s.popSlots(2)
		v := s.pop()
		s.push(vs...)
		s.push(v)
		s.push(vs...)
	case c == op.Dup2X2:
		vs := s.popSlots(2)
		under := s.popSlots(2)
		s.push(vs...)
		s.push(under...)
		s.push(vs...)
	case c == op.Swap:
		v1, v2 := s.pop(), s.pop()
		s.push(v1, v2)

	case c >= op.IAdd && c <= op.DRem:
		s.popN(2)
		s.push(arithType(c))
	case c >= op.INeg && c <= op.DNeg:
		v := s.pop()
		s.push(v)
	case c >= op.IShl && c <= op.LUShr:
		s.popN(2)
		if (c-op.IShl)%2 == 0 {
			s.push(classfile.Integer)
		} else {
			s.push(classfile.Long)
		}
	case c >= op.IAnd && c <= op.LXor:
		s.popN(2)
		if (c-op.IAnd)%2 == 0 {
			s.push(classfile.Integer)
		} else {
			s.push(classfile.Long)
		}
	case c == op.IInc:
		s.touchLocal(in.Operand + 1)

	case c >= op.I2L && c <= op.I2S:
		s.pop()
		s.push(convType(c))

	case c == op.LCmp || (c >= op.FCmpL && c <= op.DCmpG):
		s.popN(2)
		s.push(classfile.Integer)

	case c >= op.IfEq && c <= op.IfLe:
		s.pop()
	case c >= op.IfICmpEq && c <= op.IfACmpNe:
		s.popN(2)
	case c == op.Goto:
	case c == op.TableSwitch || c == op.LookupSwitch:
		s.pop()
	case c >= op.IReturn && c <= op.AReturn:
		s.pop()
	case c == op.Return:

	case c == op.GetStatic:
		s.push(fieldType(in.Desc))
	case c == op.PutStatic:
		s.pop()
	case c == op.GetField:
		s.pop()
		s.push(fieldType(in.Desc))
	case c == op.PutField:
		s.popN(2)

	case c >= op.InvokeVirtual && c <= op.InvokeInterface:
		s.stepInvoke(in)
	case c == op.InvokeDynamic:
		mt, err := types.MethodType(in.Desc)
		if err != nil {
			panic(err)
		}
		s.popN(mt.ArgumentCount())
		if ret, ok := mt.ReturnType(); ok && ret.Sort() != types.Void {
			s.push(verificationTypeOf(ret))
		}

	case c == op.New:
		s.push(classfile.UninitializedAt(in.Name, in.Site))
	case c == op.NewArray:
		s.pop()
		s.push(classfile.ObjectOf(primitiveArray(in.Operand)))
	case c == op.ANewArray:
		s.pop()
		if len(in.Name) > 0 && in.Name[0] == '[' {
			s.push(classfile.ObjectOf("[" + in.Name))
		} else {
			s.push(classfile.ObjectOf("[L" + in.Name + ";"))
		}
	case c == op.ArrayLength:
		s.pop()
		s.push(classfile.Integer)
	case c == op.AThrow:
		s.pop()
	case c == op.CheckCast:
		s.pop()
		s.push(classfile.ObjectOf(in.Name))
	case c == op.InstanceOf:
		s.pop()
		s.push(classfile.Integer)
	case c == op.MonitorEnter || c == op.MonitorExit:
		s.pop()
	case c == op.MultiANewArray:
		s.popN(in.Operand)
		s.push(classfile.ObjectOf(in.Name))
	case c == op.IfNull || c == op.IfNonNull:
		s.pop()

	default:
		s.fail("unexpected opcode %s during frame computation", op.GetInfo(c).Name)
	}
}

// stepLoad pushes local variable slot index, where kind selects the
// i/l/f/d/a family.
func (s *sim) stepLoad(kind op.Code, index int) {
	switch kind {
	case 0:
		s.push(classfile.Integer)
	case 1:
		s.push(classfile.Long)
		s.touchLocal(index + 2)
		return
	case 2:
		s.push(classfile.Float)
	case 3:
		s.push(classfile.Double)
		s.touchLocal(index + 2)
		return
	case 4:
		s.push(s.local(index))
	}
	s.touchLocal(index + 1)
}

// stepInvoke pops arguments and receiver, rewrites uninitialized types on
// a constructor call, and pushes the return value.
func (s *sim) stepInvoke(in *Insn) {
	mt, err := types.MethodType(in.Desc)
	if err != nil {
		panic(err)
	}
	s.popN(mt.ArgumentCount())
	if in.Op != op.InvokeStatic {
		recv := s.pop()
		if in.Op == op.InvokeSpecial && in.Name == "<init>" {
			var init classfile.VerificationType
			switch recv.Kind {
			case classfile.KindUninitializedThis:
				init = classfile.ObjectOf(s.e.m.Owner)
			case classfile.KindUninitialized:
				init = classfile.ObjectOf(in.Owner)
			}
			if init.Kind == classfile.KindObject {
				s.replaceAll(recv, init)
			}
		}
	}
	if ret, ok := mt.ReturnType(); ok && ret.Sort() != types.Void {
		s.push(verificationTypeOf(ret))
	}
}

// replaceAll rewrites every occurrence of from in the current frame. This
// is how an allocation site becomes a concrete type once its constructor
// runs: all aliases of the uninitialized value initialize together.
func (s *sim) replaceAll(from, to classfile.VerificationType) {
	for i, v := range s.st.locals {
		if v.Equal(from) {
			s.st.locals[i] = to
		}
	}
	for i, v := range s.st.stack {
		if v.Equal(from) {
			s.st.stack[i] = to
		}
	}
}

// constType returns the verification type pushed by ldc for a constant.
func constType(v any) classfile.VerificationType {
	switch c := v.(type) {
	case int, int32:
		return classfile.Integer
	case int64:
		return classfile.Long
	case float32:
		return classfile.Float
	case float64:
		return classfile.Double
	case string:
		return classfile.ObjectOf("java/lang/String")
	case types.Type:
		if c.Sort() == types.Method {
			return classfile.ObjectOf("java/lang/invoke/MethodType")
		}
		return classfile.ObjectOf("java/lang/Class")
	case classfile.Handle:
		return classfile.ObjectOf("java/lang/invoke/MethodHandle")
	case classfile.ConstDynamic:
		t, err := types.Parse(c.Descriptor)
		if err != nil {
			panic(err)
		}
		return verificationTypeOf(t)
	default:
		panic(errz.Usage("unsupported ldc constant %T", v))
	}
}

// arithType returns the result type of the add/sub/mul/div/rem families,
// which cycle through i/l/f/d.
func arithType(c op.Code) classfile.VerificationType {
	switch (c - op.IAdd) % 4 {
	case 0:
		return classfile.Integer
	case 1:
		return classfile.Long
	case 2:
		return classfile.Float
	default:
		return classfile.Double
	}
}

// convType returns the result of a primitive conversion opcode.
func convType(c op.Code) classfile.VerificationType {
	switch c {
	case op.I2L, op.F2L, op.D2L:
		return classfile.Long
	case op.I2F, op.L2F, op.D2F:
		return classfile.Float
	case op.I2D, op.L2D, op.F2D:
		return classfile.Double
	default:
		return classfile.Integer
	}
}

// fieldType returns the verification type of a field descriptor.
func fieldType(descriptor string) classfile.VerificationType {
	t, err := types.Parse(descriptor)
	if err != nil {
		panic(err)
	}
	return verificationTypeOf(t)
}

// elementType returns the type loaded by aaload from an array reference.
func elementType(arr classfile.VerificationType) classfile.VerificationType {
	if arr.Kind == classfile.KindNull {
		return classfile.Null
	}
	name := arr.ClassName
	if len(name) > 1 && name[0] == '[' {
		rest := name[1:]
		switch {
		case rest[0] == 'L' && rest[len(rest)-1] == ';':
			return classfile.ObjectOf(rest[1 : len(rest)-1])
		case rest[0] == '[':
			return classfile.ObjectOf(rest)
		case rest == "J":
			return classfile.Long
		case rest == "F":
			return classfile.Float
		case rest == "D":
			return classfile.Double
		default:
			return classfile.Integer
		}
	}
	return classfile.ObjectOf(classfile.ObjectClass)
}

// primitiveArray maps a newarray type code to its array descriptor.
func primitiveArray(atype int) string {
	switch atype {
	case 4:
		return "[Z"
	case 5:
		return "[C"
	case 6:
		return "[F"
	case 7:
		return "[D"
	case 8:
		return "[B"
	case 9:
		return "[S"
	case 10:
		return "[I"
	case 11:
		return "[J"
	default:
		panic(errz.Usage("bad newarray type code %d", atype))
	}
}
