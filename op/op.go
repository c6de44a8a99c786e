// Package op defines the JVM bytecode opcodes handled by the classfile
// reader and writer.
package op

// Code is an integer opcode that indicates an operation to execute.
type Code uint8

const (
	Nop       Code = 0
	AConstNul Code = 1
	IConstM1  Code = 2
	IConst0   Code = 3
	IConst1   Code = 4
	IConst2   Code = 5
	IConst3   Code = 6
	IConst4   Code = 7
	IConst5   Code = 8
	LConst0   Code = 9
	LConst1   Code = 10
	FConst0   Code = 11
	FConst1   Code = 12
	FConst2   Code = 13
	DConst0   Code = 14
	DConst1   Code = 15
	BIPush    Code = 16
	SIPush    Code = 17
	Ldc       Code = 18
	LdcW      Code = 19
	Ldc2W     Code = 20

	ILoad  Code = 21
	LLoad  Code = 22
	FLoad  Code = 23
	DLoad  Code = 24
	ALoad  Code = 25
	ILoad0 Code = 26
	ILoad1 Code = 27
	ILoad2 Code = 28
	ILoad3 Code = 29
	LLoad0 Code = 30
	LLoad1 Code = 31
	LLoad2 Code = 32
	LLoad3 Code = 33
	FLoad0 Code = 34
	FLoad1 Code = 35
	FLoad2 Code = 36
	FLoad3 Code = 37
	DLoad0 Code = 38
	DLoad1 Code = 39
	DLoad2 Code = 40
	DLoad3 Code = 41
	ALoad0 Code = 42
	ALoad1 Code = 43
	ALoad2 Code = 44
	ALoad3 Code = 45

	IALoad Code = 46
	LALoad Code = 47
	FALoad Code = 48
	DALoad Code = 49
	AALoad Code = 50
	BALoad Code = 51
	CALoad Code = 52
	SALoad Code = 53

	IStore  Code = 54
	LStore  Code = 55
	FStore  Code = 56
	DStore  Code = 57
	AStore  Code = 58
	IStore0 Code = 59
	IStore1 Code = 60
	IStore2 Code = 61
	IStore3 Code = 62
	LStore0 Code = 63
	LStore1 Code = 64
	LStore2 Code = 65
	LStore3 Code = 66
	FStore0 Code = 67
	FStore1 Code = 68
	FStore2 Code = 69
	FStore3 Code = 70
	DStore0 Code = 71
	DStore1 Code = 72
	DStore2 Code = 73
	DStore3 Code = 74
	AStore0 Code = 75
	AStore1 Code = 76
	AStore2 Code = 77
	AStore3 Code = 78

	IAStore Code = 79
	LAStore Code = 80
	FAStore Code = 81
	DAStore Code = 82
	AAStore Code = 83
	BAStore Code = 84
	CAStore Code = 85
	SAStore Code = 86

	Pop    Code = 87
	Pop2   Code = 88
	Dup    Code = 89
	DupX1  Code = 90
	DupX2  Code = 91
	Dup2   Code = 92
	Dup2X1 Code = 93
	Dup2X2 Code = 94
	Swap   Code = 95

	IAdd  Code = 96
	LAdd  Code = 97
	FAdd  Code = 98
	DAdd  Code = 99
	ISub  Code = 100
	LSub  Code = 101
	FSub  Code = 102
	DSub  Code = 103
	IMul  Code = 104
	LMul  Code = 105
	FMul  Code = 106
	DMul  Code = 107
	IDiv  Code = 108
	LDiv  Code = 109
	FDiv  Code = 110
	DDiv  Code = 111
	IRem  Code = 112
	LRem  Code = 113
	FRem  Code = 114
	DRem  Code = 115
	INeg  Code = 116
	LNeg  Code = 117
	FNeg  Code = 118
	DNeg  Code = 119
	IShl  Code = 120
	LShl  Code = 121
	IShr  Code = 122
	LShr  Code = 123
	IUShr Code = 124
	LUShr Code = 125
	IAnd  Code = 126
	LAnd  Code = 127
	IOr   Code = 128
	LOr   Code = 129
	IXor  Code = 130
	LXor  Code = 131
	IInc  Code = 132

	I2L Code = 133
	I2F Code = 134
	I2D Code = 135
	L2I Code = 136
	L2F Code = 137
	L2D Code = 138
	F2I Code = 139
	F2L Code = 140
	F2D Code = 141
	D2I Code = 142
	D2L Code = 143
	D2F Code = 144
	I2B Code = 145
	I2C Code = 146
	I2S Code = 147

	LCmp  Code = 148
	FCmpL Code = 149
	FCmpG Code = 150
	DCmpL Code = 151
	DCmpG Code = 152

	IfEq      Code = 153
	IfNe      Code = 154
	IfLt      Code = 155
	IfGe      Code = 156
	IfGt      Code = 157
	IfLe      Code = 158
	IfICmpEq  Code = 159
	IfICmpNe  Code = 160
	IfICmpLt  Code = 161
	IfICmpGe  Code = 162
	IfICmpGt  Code = 163
	IfICmpLe  Code = 164
	IfACmpEq  Code = 165
	IfACmpNe  Code = 166
	Goto      Code = 167
	Jsr       Code = 168
	Ret       Code = 169
	TableSwitch  Code = 170
	LookupSwitch Code = 171

	IReturn Code = 172
	LReturn Code = 173
	FReturn Code = 174
	DReturn Code = 175
	AReturn Code = 176
	Return  Code = 177

	GetStatic       Code = 178
	PutStatic       Code = 179
	GetField        Code = 180
	PutField        Code = 181
	InvokeVirtual   Code = 182
	InvokeSpecial   Code = 183
	InvokeStatic    Code = 184
	InvokeInterface Code = 185
	InvokeDynamic   Code = 186

	New            Code = 187
	NewArray       Code = 188
	ANewArray      Code = 189
	ArrayLength    Code = 190
	AThrow         Code = 191
	CheckCast      Code = 192
	InstanceOf     Code = 193
	MonitorEnter   Code = 194
	MonitorExit    Code = 195
	Wide           Code = 196
	MultiANewArray Code = 197
	IfNull         Code = 198
	IfNonNull      Code = 199
	GotoW          Code = 200
	JsrW           Code = 201
)

// Format describes how an opcode's operands are encoded in the instruction
// stream.
type Format int

const (
	// FmtNone: no operand bytes.
	FmtNone Format = iota
	// FmtSByte: one signed byte immediate (bipush).
	FmtSByte
	// FmtShort: one signed 16-bit immediate (sipush).
	FmtShort
	// FmtUByte: one unsigned byte immediate (newarray array type code).
	FmtUByte
	// FmtLocal: one unsigned byte local variable index; a wide prefix
	// extends the index to 16 bits.
	FmtLocal
	// FmtCP1: one unsigned byte constant pool index (ldc).
	FmtCP1
	// FmtCP: one unsigned 16-bit constant pool index.
	FmtCP
	// FmtBranch: signed 16-bit relative branch offset.
	FmtBranch
	// FmtBranchW: signed 32-bit relative branch offset.
	FmtBranchW
	// FmtIinc: local index byte plus signed delta byte; a wide prefix
	// extends both to 16 bits.
	FmtIinc
	// FmtTableSwitch: padded, variable-length table switch.
	FmtTableSwitch
	// FmtLookupSwitch: padded, variable-length lookup switch.
	FmtLookupSwitch
	// FmtInvokeInterface: 16-bit constant pool index, count byte, zero byte.
	FmtInvokeInterface
	// FmtInvokeDynamic: 16-bit constant pool index followed by two zero bytes.
	FmtInvokeDynamic
	// FmtMultiANewArray: 16-bit constant pool index plus dimensions byte.
	FmtMultiANewArray
	// FmtWide: the wide prefix itself; the real format follows.
	FmtWide
)

// Flow describes an opcode's effect on control flow.
type Flow int

const (
	// FlowNext: execution continues at the following instruction.
	FlowNext Flow = iota
	// FlowCondBranch: conditional two-way branch (target or fall-through).
	FlowCondBranch
	// FlowGoto: unconditional branch.
	FlowGoto
	// FlowSwitch: multi-way branch.
	FlowSwitch
	// FlowReturn: method return.
	FlowReturn
	// FlowThrow: throws the exception on top of the stack.
	FlowThrow
	// FlowJSR: subroutine call or return (jsr, jsr_w, ret); rejected by
	// frame computation, which targets class file versions that forbid it.
	FlowJSR
)

// Info contains information about an opcode.
type Info struct {
	Code   Code
	Name   string
	Format Format
	Flow   Flow
}

var infos [256]Info

func init() {
	type opInfo struct {
		op     Code
		name   string
		format Format
		flow   Flow
	}
	ops := []opInfo{
		{Nop, "nop", FmtNone, FlowNext},
		{AConstNul, "aconst_null", FmtNone, FlowNext},
		{IConstM1, "iconst_m1", FmtNone, FlowNext},
		{IConst0, "iconst_0", FmtNone, FlowNext},
		{IConst1, "iconst_1", FmtNone, FlowNext},
		{IConst2, "iconst_2", FmtNone, FlowNext},
		{IConst3, "iconst_3", FmtNone, FlowNext},
		{IConst4, "iconst_4", FmtNone, FlowNext},
		{IConst5, "iconst_5", FmtNone, FlowNext},
		{LConst0, "lconst_0", FmtNone, FlowNext},
		{LConst1, "lconst_1", FmtNone, FlowNext},
		{FConst0, "fconst_0", FmtNone, FlowNext},
		{FConst1, "fconst_1", FmtNone, FlowNext},
		{FConst2, "fconst_2", FmtNone, FlowNext},
		{DConst0, "dconst_0", FmtNone, FlowNext},
		{DConst1, "dconst_1", FmtNone, FlowNext},
		{BIPush, "bipush", FmtSByte, FlowNext},
		{SIPush, "sipush", FmtShort, FlowNext},
		{Ldc, "ldc", FmtCP1, FlowNext},
		{LdcW, "ldc_w", FmtCP, FlowNext},
		{Ldc2W, "ldc2_w", FmtCP, FlowNext},
		{ILoad, "iload", FmtLocal, FlowNext},
		{LLoad, "lload", FmtLocal, FlowNext},
		{FLoad, "fload", FmtLocal, FlowNext},
		{DLoad, "dload", FmtLocal, FlowNext},
		{ALoad, "aload", FmtLocal, FlowNext},
		{ILoad0, "iload_0", FmtNone, FlowNext},
		{ILoad1, "iload_1", FmtNone, FlowNext},
		{ILoad2, "iload_2", FmtNone, FlowNext},
		{ILoad3, "iload_3", FmtNone, FlowNext},
		{LLoad0, "lload_0", FmtNone, FlowNext},
		{LLoad1, "lload_1", FmtNone, FlowNext},
		{LLoad2, "lload_2", FmtNone, FlowNext},
		{LLoad3, "lload_3", FmtNone, FlowNext},
		{FLoad0, "fload_0", FmtNone, FlowNext},
		{FLoad1, "fload_1", FmtNone, FlowNext},
		{FLoad2, "fload_2", FmtNone, FlowNext},
		{FLoad3, "fload_3", FmtNone, FlowNext},
		{DLoad0, "dload_0", FmtNone, FlowNext},
		{DLoad1, "dload_1", FmtNone, FlowNext},
		{DLoad2, "dload_2", FmtNone, FlowNext},
		{DLoad3, "dload_3", FmtNone, FlowNext},
		{ALoad0, "aload_0", FmtNone, FlowNext},
		{ALoad1, "aload_1", FmtNone, FlowNext},
		{ALoad2, "aload_2", FmtNone, FlowNext},
		{ALoad3, "aload_3", FmtNone, FlowNext},
		{IALoad, "iaload", FmtNone, FlowNext},
		{LALoad, "laload", FmtNone, FlowNext},
		{FALoad, "faload", FmtNone, FlowNext},
		{DALoad, "daload", FmtNone, FlowNext},
		{AALoad, "aaload", FmtNone, FlowNext},
		{BALoad, "baload", FmtNone, FlowNext},
		{CALoad, "caload", FmtNone, FlowNext},
		{SALoad, "saload", FmtNone, FlowNext},
		{IStore, "istore", FmtLocal, FlowNext},
		{LStore, "lstore", FmtLocal, FlowNext},
		{FStore, "fstore", FmtLocal, FlowNext},
		{DStore, "dstore", FmtLocal, FlowNext},
		{AStore, "astore", FmtLocal, FlowNext},
		{IStore0, "istore_0", FmtNone, FlowNext},
		{IStore1, "istore_1", FmtNone, FlowNext},
		{IStore2, "istore_2", FmtNone, FlowNext},
		{IStore3, "istore_3", FmtNone, FlowNext},
		{LStore0, "lstore_0", FmtNone, FlowNext},
		{LStore1, "lstore_1", FmtNone, FlowNext},
		{LStore2, "lstore_2", FmtNone, FlowNext},
		{LStore3, "lstore_3", FmtNone, FlowNext},
		{FStore0, "fstore_0", FmtNone, FlowNext},
		{FStore1, "fstore_1", FmtNone, FlowNext},
		{FStore2, "fstore_2", FmtNone, FlowNext},
		{FStore3, "fstore_3", FmtNone, FlowNext},
		{DStore0, "dstore_0", FmtNone, FlowNext},
		{DStore1, "dstore_1", FmtNone, FlowNext},
		{DStore2, "dstore_2", FmtNone, FlowNext},
		{DStore3, "dstore_3", FmtNone, FlowNext},
		{AStore0, "astore_0", FmtNone, FlowNext},
		{AStore1, "astore_1", FmtNone, FlowNext},
		{AStore2, "astore_2", FmtNone, FlowNext},
		{AStore3, "astore_3", FmtNone, FlowNext},
		{IAStore, "iastore", FmtNone, FlowNext},
		{LAStore, "lastore", FmtNone, FlowNext},
		{FAStore, "fastore", FmtNone, FlowNext},
		{DAStore, "dastore", FmtNone, FlowNext},
		{AAStore, "aastore", FmtNone, FlowNext},
		{BAStore, "bastore", FmtNone, FlowNext},
		{CAStore, "castore", FmtNone, FlowNext},
		{SAStore, "sastore", FmtNone, FlowNext},
		{Pop, "pop", FmtNone, FlowNext},
		{Pop2, "pop2", FmtNone, FlowNext},
		{Dup, "dup", FmtNone, FlowNext},
		{DupX1, "dup_x1", FmtNone, FlowNext},
		{DupX2, "dup_x2", FmtNone, FlowNext},
		{Dup2, "dup2", FmtNone, FlowNext},
		{Dup2X1, "dup2_x1", FmtNone, FlowNext},
		{Dup2X2, "dup2_x2", FmtNone, FlowNext},
		{Swap, "swap", FmtNone, FlowNext},
		{IAdd, "iadd", FmtNone, FlowNext},
		{LAdd, "ladd", FmtNone, FlowNext},
		{FAdd, "fadd", FmtNone, FlowNext},
		{DAdd, "dadd", FmtNone, FlowNext},
		{ISub, "isub", FmtNone, FlowNext},
		{LSub, "lsub", FmtNone, FlowNext},
		{FSub, "fsub", FmtNone, FlowNext},
		{DSub, "dsub", FmtNone, FlowNext},
		{IMul, "imul", FmtNone, FlowNext},
		{LMul, "lmul", FmtNone, FlowNext},
		{FMul, "fmul", FmtNone, FlowNext},
		{DMul, "dmul", FmtNone, FlowNext},
		{IDiv, "idiv", FmtNone, FlowNext},
		{LDiv, "ldiv", FmtNone, FlowNext},
		{FDiv, "fdiv", FmtNone, FlowNext},
		{DDiv, "ddiv", FmtNone, FlowNext},
		{IRem, "irem", FmtNone, FlowNext},
		{LRem, "lrem", FmtNone, FlowNext},
		{FRem, "frem", FmtNone, FlowNext},
		{DRem, "drem", FmtNone, FlowNext},
		{INeg, "ineg", FmtNone, FlowNext},
		{LNeg, "lneg", FmtNone, FlowNext},
		{FNeg, "fneg", FmtNone, FlowNext},
		{DNeg, "dneg", FmtNone, FlowNext},
		{IShl, "ishl", FmtNone, FlowNext},
		{LShl, "lshl", FmtNone, FlowNext},
		{IShr, "ishr", FmtNone, FlowNext},
		{LShr, "lshr", FmtNone, FlowNext},
		{IUShr, "iushr", FmtNone, FlowNext},
		{LUShr, "lushr", FmtNone, FlowNext},
		{IAnd, "iand", FmtNone, FlowNext},
		{LAnd, "land", FmtNone, FlowNext},
		{IOr, "ior", FmtNone, FlowNext},
		{LOr, "lor", FmtNone, FlowNext},
		{IXor, "ixor", FmtNone, FlowNext},
		{LXor, "lxor", FmtNone, FlowNext},
		{IInc, "iinc", FmtIinc, FlowNext},
		{I2L, "i2l", FmtNone, FlowNext},
		{I2F, "i2f", FmtNone, FlowNext},
		{I2D, "i2d", FmtNone, FlowNext},
		{L2I, "l2i", FmtNone, FlowNext},
		{L2F, "l2f", FmtNone, FlowNext},
		{L2D, "l2d", FmtNone, FlowNext},
		{F2I, "f2i", FmtNone, FlowNext},
		{F2L, "f2l", FmtNone, FlowNext},
		{F2D, "f2d", FmtNone, FlowNext},
		{D2I, "d2i", FmtNone, FlowNext},
		{D2L, "d2l", FmtNone, FlowNext},
		{D2F, "d2f", FmtNone, FlowNext},
		{I2B, "i2b", FmtNone, FlowNext},
		{I2C, "i2c", FmtNone, FlowNext},
		{I2S, "i2s", FmtNone, FlowNext},
		{LCmp, "lcmp", FmtNone, FlowNext},
		{FCmpL, "fcmpl", FmtNone, FlowNext},
		{FCmpG, "fcmpg", FmtNone, FlowNext},
		{DCmpL, "dcmpl", FmtNone, FlowNext},
		{DCmpG, "dcmpg", FmtNone, FlowNext},
		{IfEq, "ifeq", FmtBranch, FlowCondBranch},
		{IfNe, "ifne", FmtBranch, FlowCondBranch},
		{IfLt, "iflt", FmtBranch, FlowCondBranch},
		{IfGe, "ifge", FmtBranch, FlowCondBranch},
		{IfGt, "ifgt", FmtBranch, FlowCondBranch},
		{IfLe, "ifle", FmtBranch, FlowCondBranch},
		{IfICmpEq, "if_icmpeq", FmtBranch, FlowCondBranch},
		{IfICmpNe, "if_icmpne", FmtBranch, FlowCondBranch},
		{IfICmpLt, "if_icmplt", FmtBranch, FlowCondBranch},
		{IfICmpGe, "if_icmpge", FmtBranch, FlowCondBranch},
		{IfICmpGt, "if_icmpgt", FmtBranch, FlowCondBranch},
		{IfICmpLe, "if_icmple", FmtBranch, FlowCondBranch},
		{IfACmpEq, "if_acmpeq", FmtBranch, FlowCondBranch},
		{IfACmpNe, "if_acmpne", FmtBranch, FlowCondBranch},
		{Goto, "goto", FmtBranch, FlowGoto},
		{Jsr, "jsr", FmtBranch, FlowJSR},
		{Ret, "ret", FmtLocal, FlowJSR},
		{TableSwitch, "tableswitch", FmtTableSwitch, FlowSwitch},
		{LookupSwitch, "lookupswitch", FmtLookupSwitch, FlowSwitch},
		{IReturn, "ireturn", FmtNone, FlowReturn},
		{LReturn, "lreturn", FmtNone, FlowReturn},
		{FReturn, "freturn", FmtNone, FlowReturn},
		{DReturn, "dreturn", FmtNone, FlowReturn},
		{AReturn, "areturn", FmtNone, FlowReturn},
		{Return, "return", FmtNone, FlowReturn},
		{GetStatic, "getstatic", FmtCP, FlowNext},
		{PutStatic, "putstatic", FmtCP, FlowNext},
		{GetField, "getfield", FmtCP, FlowNext},
		{PutField, "putfield", FmtCP, FlowNext},
		{InvokeVirtual, "invokevirtual", FmtCP, FlowNext},
		{InvokeSpecial, "invokespecial", FmtCP, FlowNext},
		{InvokeStatic, "invokestatic", FmtCP, FlowNext},
		{InvokeInterface, "invokeinterface", FmtInvokeInterface, FlowNext},
		{InvokeDynamic, "invokedynamic", FmtInvokeDynamic, FlowNext},
		{New, "new", FmtCP, FlowNext},
		{NewArray, "newarray", FmtUByte, FlowNext},
		{ANewArray, "anewarray", FmtCP, FlowNext},
		{ArrayLength, "arraylength", FmtNone, FlowNext},
		{AThrow, "athrow", FmtNone, FlowThrow},
		{CheckCast, "checkcast", FmtCP, FlowNext},
		{InstanceOf, "instanceof", FmtCP, FlowNext},
		{MonitorEnter, "monitorenter", FmtNone, FlowNext},
		{MonitorExit, "monitorexit", FmtNone, FlowNext},
		{Wide, "wide", FmtWide, FlowNext},
		{MultiANewArray, "multianewarray", FmtMultiANewArray, FlowNext},
		{IfNull, "ifnull", FmtBranch, FlowCondBranch},
		{IfNonNull, "ifnonnull", FmtBranch, FlowCondBranch},
		{GotoW, "goto_w", FmtBranchW, FlowGoto},
		{JsrW, "jsr_w", FmtBranchW, FlowJSR},
	}
	for _, o := range ops {
		infos[o.op] = Info{
			Code:   o.op,
			Name:   o.name,
			Format: o.format,
			Flow:   o.flow,
		}
	}
}

// GetInfo returns information about the given opcode. Undefined opcodes
// return an Info with an empty name.
func GetInfo(c Code) Info {
	return infos[c]
}

// Defined reports whether c is a defined JVM opcode.
func Defined(c Code) bool {
	return infos[c].Name != ""
}

// FixedSize returns the encoded byte size of an instruction with the given
// opcode, including the opcode byte, or 0 if the size is variable
// (switches) or depends on a wide prefix.
func FixedSize(c Code) int {
	switch infos[c].Format {
	case FmtNone:
		return 1
	case FmtSByte, FmtUByte, FmtLocal, FmtCP1:
		return 2
	case FmtShort, FmtCP, FmtBranch, FmtIinc:
		return 3
	case FmtMultiANewArray:
		return 4
	case FmtBranchW, FmtInvokeInterface, FmtInvokeDynamic:
		return 5
	default:
		return 0
	}
}

// Negate returns the conditional branch opcode testing the opposite
// condition, used when widening a conditional branch that overflows its
// signed 16-bit offset. It returns c unchanged for non-conditional opcodes.
func Negate(c Code) Code {
	switch c {
	case IfEq:
		return IfNe
	case IfNe:
		return IfEq
	case IfLt:
		return IfGe
	case IfGe:
		return IfLt
	case IfGt:
		return IfLe
	case IfLe:
		return IfGt
	case IfICmpEq:
		return IfICmpNe
	case IfICmpNe:
		return IfICmpEq
	case IfICmpLt:
		return IfICmpGe
	case IfICmpGe:
		return IfICmpLt
	case IfICmpGt:
		return IfICmpLe
	case IfICmpLe:
		return IfICmpGt
	case IfACmpEq:
		return IfACmpNe
	case IfACmpNe:
		return IfACmpEq
	case IfNull:
		return IfNonNull
	case IfNonNull:
		return IfNull
	default:
		return c
	}
}
