package writer

import (
	"sort"

	"github.com/cloudcmds/classfile"
	"github.com/cloudcmds/classfile/errz"
	"github.com/cloudcmds/classfile/internal/bin"
	"github.com/cloudcmds/classfile/types"
)

// encodeStackMap compresses the method's frames into a StackMapTable
// attribute body. Each frame is encoded as a delta against its
// predecessor, picking the smallest of the same, same_locals_1_stack,
// chop, append, and full_frame forms that preserves it.
func (mw *methodWriter) encodeStackMap(emit []anchoredFrame, labelOff map[*classfile.Label]int) (*bin.Buffer, error) {
	type placed struct {
		off   int
		frame *classfile.Frame
	}
	frames := make([]placed, 0, len(emit))
	for _, f := range emit {
		off, ok := labelOff[f.at]
		if !ok {
			return nil, errz.Usage("stack map frame in %s anchored to an unbound label", mw.name)
		}
		frames = append(frames, placed{off: off, frame: f.frame})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].off < frames[j].off })
	for i := 1; i < len(frames); i++ {
		if frames[i].off == frames[i-1].off {
			return nil, errz.Usage("two stack map frames at offset %d in %s", frames[i].off, mw.name)
		}
	}

	prevLocals, err := mw.implicitLocals()
	if err != nil {
		return nil, err
	}

	buf := bin.NewBuffer()
	buf.U16(uint16(len(frames)))
	prevOff := -1
	for _, p := range frames {
		locals := compressLocals(p.frame.Locals)
		delta := p.off - prevOff - 1
		if err := mw.encodeFrame(buf, delta, locals, prevLocals, p.frame.Stack, labelOff); err != nil {
			return nil, err
		}
		prevLocals = locals
		prevOff = p.off
	}
	return buf, nil
}

func (mw *methodWriter) encodeFrame(buf *bin.Buffer, delta int, locals, prev, stack []classfile.VerificationType, labelOff map[*classfile.Label]int) error {
	sameLocals := equalTypes(locals, prev)
	switch {
	case sameLocals && len(stack) == 0:
		if delta < 64 {
			buf.U8(uint8(delta))
		} else {
			buf.U8(251)
			buf.U16(uint16(delta))
		}
	case sameLocals && len(stack) == 1:
		if delta < 64 {
			buf.U8(uint8(64 + delta))
		} else {
			buf.U8(247)
			buf.U16(uint16(delta))
		}
		return mw.encodeType(buf, stack[0], labelOff)
	case len(stack) == 0 && len(prev)-len(locals) >= 1 && len(prev)-len(locals) <= 3 && equalTypes(locals, prev[:len(locals)]):
		buf.U8(uint8(251 - (len(prev) - len(locals))))
		buf.U16(uint16(delta))
	case len(stack) == 0 && len(locals)-len(prev) >= 1 && len(locals)-len(prev) <= 3 && equalTypes(prev, locals[:len(prev)]):
		buf.U8(uint8(251 + (len(locals) - len(prev))))
		buf.U16(uint16(delta))
		for _, v := range locals[len(prev):] {
			if err := mw.encodeType(buf, v, labelOff); err != nil {
				return err
			}
		}
	default:
		buf.U8(255)
		buf.U16(uint16(delta))
		buf.U16(uint16(len(locals)))
		for _, v := range locals {
			if err := mw.encodeType(buf, v, labelOff); err != nil {
				return err
			}
		}
		buf.U16(uint16(len(stack)))
		for _, v := range stack {
			if err := mw.encodeType(buf, v, labelOff); err != nil {
				return err
			}
		}
	}
	return nil
}

func (mw *methodWriter) encodeType(buf *bin.Buffer, v classfile.VerificationType, labelOff map[*classfile.Label]int) error {
	switch v.Kind {
	case classfile.KindTop:
		buf.U8(0)
	case classfile.KindInteger:
		buf.U8(1)
	case classfile.KindFloat:
		buf.U8(2)
	case classfile.KindDouble:
		buf.U8(3)
	case classfile.KindLong:
		buf.U8(4)
	case classfile.KindNull:
		buf.U8(5)
	case classfile.KindUninitializedThis:
		buf.U8(6)
	case classfile.KindObject:
		buf.U8(7)
		buf.U16(mw.cw.internClass(v.ClassName))
	case classfile.KindUninitialized:
		off, ok := labelOff[v.Site]
		if !ok {
			return errz.Usage("uninitialized type in %s references an unbound allocation site", mw.name)
		}
		buf.U8(8)
		buf.U16(uint16(off))
	default:
		return errz.Usage("cannot encode verification type %s", v)
	}
	return nil
}

// implicitLocals returns the compressed form of the method's implicit
// entry frame, the baseline the first encoded frame is diffed against.
func (mw *methodWriter) implicitLocals() ([]classfile.VerificationType, error) {
	var locals []classfile.VerificationType
	if mw.access&classfile.AccStatic == 0 {
		if mw.name == "<init>" {
			locals = append(locals, classfile.UninitializedThis)
		} else {
			locals = append(locals, classfile.ObjectOf(mw.cw.thisClass))
		}
	}
	mt, err := types.MethodType(mw.descriptor)
	if err != nil {
		return nil, err
	}
	for _, arg := range mt.ArgumentTypes() {
		switch arg.Sort() {
		case types.Boolean, types.Char, types.Byte, types.Short, types.Int:
			locals = append(locals, classfile.Integer)
		case types.Float:
			locals = append(locals, classfile.Float)
		case types.Long:
			locals = append(locals, classfile.Long)
		case types.Double:
			locals = append(locals, classfile.Double)
		case types.Array:
			locals = append(locals, classfile.ObjectOf(arg.Descriptor()))
		default:
			locals = append(locals, classfile.ObjectOf(arg.InternalName()))
		}
	}
	return locals, nil
}

// compressLocals converts slot-form locals to the attribute's list form,
// where a wide type subsumes its placeholder slot.
func compressLocals(locals []classfile.VerificationType) []classfile.VerificationType {
	out := make([]classfile.VerificationType, 0, len(locals))
	for i := 0; i < len(locals); i++ {
		out = append(out, locals[i])
		if locals[i].IsWide() {
			i++
		}
	}
	return out
}

func equalTypes(a, b []classfile.VerificationType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
