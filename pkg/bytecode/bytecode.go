// Package bytecode defines the instruction set and program representation
// for the little template engine.
//
// A template program is a sequence of low-level instructions that, when run
// against a caller-supplied root value, produces a byte stream. The package
// holds everything that exists before execution:
//
//   1. Identifier spaces: constants, bindings and host-call slots, each a
//      small integer in its own name space
//   2. Mem: a tagged operand source naming where a value comes from
//   3. Instruction: the tagged instruction union
//   4. Template: the immutable program (instructions + constant table +
//      call-name table + binding capacity)
//
// Architecture:
//
// The machine executing these instructions is stack-based. Values are
// materialized onto an operand stack, bindings act as mutable local slots,
// and the Output instruction appends a value's display form to the output
// buffer. Host functions are addressed through call slots whose names are
// resolved to real functions at build time, not here.
//
// Example program:
//
//   Template:
//     constants:    const(0) = "Hello"
//     call names:   "join" -> call(0)
//     instructions:
//       PUSH const(0)          ; push "Hello"
//       PUSH params            ; push the root value
//       CALL call(0) argc=2 push
//       OUTPUT stack_top1      ; emit the joined result
//
// Running it with root value "World" and a host "join" function produces
// "Hello World".
//
// The operand's meaning depends on the opcode; unused fields stay zero.
// Instructions are plain comparable structs so programs can be tested for
// equality and serialized with a fixed-width record format (see format.go).
package bytecode

import "fmt"

// Constant is an immutable value slot in the template's constant table.
type Constant uint32

// Binding is a mutable machine-local value slot.
type Binding uint32

// Call is a host-function slot, resolved against a name->function map at
// build time.
type Call uint32

func (c Constant) String() string { return fmt.Sprintf("const(%d)", uint32(c)) }
func (b Binding) String() string  { return fmt.Sprintf("binding(%d)", uint32(b)) }
func (c Call) String() string     { return fmt.Sprintf("call(%d)", uint32(c)) }

// MemKind discriminates the Mem tagged union.
type MemKind uint8

// Operand sources.
const (
	// MemConst reads a constant table entry.
	MemConst MemKind = iota

	// MemBinding reads a binding slot. Reading a slot that was never
	// loaded yields the value type's default.
	MemBinding

	// MemParam reads a property of the root value. The property key is
	// the display form of the constant named by Mem.Const.
	MemParam

	// MemParams reads the whole root value.
	MemParams

	// MemStackTop1 peeks at the top operand-stack slot.
	MemStackTop1

	// MemStackTop2 peeks at the slot below the top.
	MemStackTop2
)

// Mem names an operand source.
//
// Const doubles as the property-name constant when Kind is MemParam.
type Mem struct {
	Kind    MemKind
	Const   Constant
	Binding Binding
}

// ConstMem addresses a constant table entry.
func ConstMem(c Constant) Mem { return Mem{Kind: MemConst, Const: c} }

// BindingMem addresses a binding slot.
func BindingMem(b Binding) Mem { return Mem{Kind: MemBinding, Binding: b} }

// ParamMem addresses a property of the root value. The key is the display
// form of the constant.
func ParamMem(name Constant) Mem { return Mem{Kind: MemParam, Const: name} }

// Whole-root and stack-peek sources.
var (
	Params    = Mem{Kind: MemParams}
	StackTop1 = Mem{Kind: MemStackTop1}
	StackTop2 = Mem{Kind: MemStackTop2}
)

func (m Mem) String() string {
	switch m.Kind {
	case MemConst:
		return m.Const.String()
	case MemBinding:
		return m.Binding.String()
	case MemParam:
		return fmt.Sprintf("param(%s)", m.Const)
	case MemParams:
		return "params"
	case MemStackTop1:
		return "stack_top1"
	case MemStackTop2:
		return "stack_top2"
	default:
		return "mem(?)"
	}
}

// Cond is the relational test used by COND_JUMP. The compared operands are
// the stack top against the addressed Mem.
type Cond uint8

const (
	CondEq Cond = iota
	CondNe
	CondGt
	CondLt
	CondGte
	CondLte
)

func (c Cond) String() string {
	switch c {
	case CondEq:
		return "EQ"
	case CondNe:
		return "NE"
	case CondGt:
		return "GT"
	case CondLt:
		return "LT"
	case CondGte:
		return "GTE"
	case CondLte:
		return "LTE"
	default:
		return "UNKNOWN"
	}
}

// Holds reports whether the condition accepts a three-way comparison
// result (negative, zero, positive).
func (c Cond) Holds(cmp int) bool {
	switch c {
	case CondEq:
		return cmp == 0
	case CondNe:
		return cmp != 0
	case CondGt:
		return cmp > 0
	case CondLt:
		return cmp < 0
	case CondGte:
		return cmp >= 0
	case CondLte:
		return cmp <= 0
	default:
		return false
	}
}

// Opcode represents an instruction operation.
type Opcode uint8

const (
	// OpOutput appends the display form of the addressed value to the
	// output buffer.
	// Operands: Mem
	OpOutput Opcode = iota

	// OpProperty pops a value and pushes that value's property. The key
	// is the display form of the value addressed by Mem.
	// Operands: Mem (the property name source)
	OpProperty

	// OpPush materializes an owned copy of the addressed value and
	// pushes it onto the operand stack.
	// Operands: Mem
	OpPush

	// OpPop removes Times items from the stack, one at a time.
	// Operands: Times
	OpPop

	// OpLoad materializes an owned copy of the addressed value and
	// stores it into a binding slot, growing the binding array with
	// default values as needed.
	// Operands: Binding, Mem
	OpLoad

	// OpJump sets the program counter unconditionally.
	// Operands: PC
	OpJump

	// OpCondJump sets the program counter if Cond holds for the stack
	// top compared against the addressed value. Neither operand is
	// consumed.
	// Operands: PC, Mem, Cond
	OpCondJump

	// OpCall invokes a host function over a read-only window of the top
	// Argc stack slots. The arguments are NOT popped; emitters follow
	// with POP when the arguments are done with. If PushResult is set
	// the returned value is pushed.
	// Operands: Call, Argc, PushResult
	OpCall

	// OpInterrupt advances the program counter, then yields control to
	// the stream consumer. Execution resumes on the next read.
	OpInterrupt
)

func (op Opcode) String() string {
	switch op {
	case OpOutput:
		return "OUTPUT"
	case OpProperty:
		return "PROPERTY"
	case OpPush:
		return "PUSH"
	case OpPop:
		return "POP"
	case OpLoad:
		return "LOAD"
	case OpJump:
		return "JUMP"
	case OpCondJump:
		return "COND_JUMP"
	case OpCall:
		return "CALL"
	case OpInterrupt:
		return "INTERRUPT"
	default:
		return "UNKNOWN"
	}
}

// Instruction is a single operation. Unused operand fields stay zero, so
// instructions compare with == and serialize as fixed-width records.
type Instruction struct {
	Op         Opcode
	Mem        Mem     // OUTPUT/PUSH/LOAD location, PROPERTY name, COND_JUMP operand
	Binding    Binding // LOAD target
	Times      uint16  // POP count
	PC         uint16  // JUMP/COND_JUMP target
	Cond       Cond    // COND_JUMP test
	Call       Call    // CALL slot
	Argc       uint8   // CALL argument count
	PushResult bool    // CALL pushes its return value
}

// Output appends the display form of m to the output buffer.
func Output(m Mem) Instruction { return Instruction{Op: OpOutput, Mem: m} }

// Property replaces the stack top with its property named by the display
// form of name.
func Property(name Mem) Instruction { return Instruction{Op: OpProperty, Mem: name} }

// Push pushes an owned copy of m onto the stack.
func Push(m Mem) Instruction { return Instruction{Op: OpPush, Mem: m} }

// Pop removes times items from the stack.
func Pop(times uint16) Instruction { return Instruction{Op: OpPop, Times: times} }

// Load stores an owned copy of m into binding b.
func Load(b Binding, m Mem) Instruction { return Instruction{Op: OpLoad, Binding: b, Mem: m} }

// Jump sets the program counter to pc.
func Jump(pc uint16) Instruction { return Instruction{Op: OpJump, PC: pc} }

// CondJump sets the program counter to pc if cond holds for the stack top
// compared against m.
func CondJump(pc uint16, m Mem, cond Cond) Instruction {
	return Instruction{Op: OpCondJump, PC: pc, Mem: m, Cond: cond}
}

// Invoke calls host slot c over the top argc stack items, pushing the
// result when push is set.
func Invoke(c Call, argc uint8, push bool) Instruction {
	return Instruction{Op: OpCall, Call: c, Argc: argc, PushResult: push}
}

// Interrupt yields control to the stream consumer.
func Interrupt() Instruction { return Instruction{Op: OpInterrupt} }

// String renders the instruction in disassembly form.
func (in Instruction) String() string {
	switch in.Op {
	case OpOutput, OpPush:
		return fmt.Sprintf("%s %s", in.Op, in.Mem)
	case OpProperty:
		return fmt.Sprintf("%s name=%s", in.Op, in.Mem)
	case OpPop:
		return fmt.Sprintf("%s %d", in.Op, in.Times)
	case OpLoad:
		return fmt.Sprintf("%s %s <- %s", in.Op, in.Binding, in.Mem)
	case OpJump:
		return fmt.Sprintf("%s %d", in.Op, in.PC)
	case OpCondJump:
		return fmt.Sprintf("%s %d if stack_top %s %s", in.Op, in.PC, in.Cond, in.Mem)
	case OpCall:
		if in.PushResult {
			return fmt.Sprintf("%s %s argc=%d push", in.Op, in.Call, in.Argc)
		}
		return fmt.Sprintf("%s %s argc=%d", in.Op, in.Call, in.Argc)
	case OpInterrupt:
		return in.Op.String()
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(in.Op))
	}
}
