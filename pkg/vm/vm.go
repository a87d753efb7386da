// Package vm implements the stack machine that executes template bytecode.
//
// The machine is the final stage in the template pipeline:
//
//   Front-end -> Template -> Build -> Executable -> Execute -> Stream -> bytes
//
// Execution Model:
//
// An Executable is a Template whose call-name table has been resolved
// against a host-supplied name->function map. Executing it binds one root
// input value and yields a Stream, a pull-based io.Reader. The machine
// only advances inside Stream.Read: each read steps instructions until the
// pending output buffer can satisfy the request, then hands bytes out
// FIFO. Between reads the machine is fully quiescent.
//
// Machine State (per Stream):
//
//   1. pc: program counter
//   2. out: pending output bytes not yet delivered
//   3. stack: operand stack of owned values
//   4. bindings: mutable value slots, grown on demand up to a limit
//   5. root: the input value for this run
//
// Value Ownership:
//
// PUSH and LOAD materialize owned copies (Clone) into the stack or a
// binding. OUTPUT, PROPERTY name resolution and COND_JUMP comparisons
// observe borrowed views without copying. Host-function calls receive a
// borrowed read-only window of the stack and their return value is owned.
//
// Error Handling:
//
// Every machine fault terminates the current read with a *RuntimeError
// carrying the fault kind; the machine never panics on template bugs.
// Interrupts travel the same error channel by design so existing reader
// loops handle them uniformly: reading again after an interrupt resumes
// execution, while any other error is sticky.
//
// Executables are immutable after Build and safe to share; Streams are
// single-consumer.
package vm

import (
	"bytes"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/littletpl/little/pkg/bytecode"
)

// DefaultMaxBindings caps binding-slot allocation per stream. The cap
// exists so a template addressing binding(2^31) cannot take the process
// down with it.
const DefaultMaxBindings = 500000

// Interpreter builds templates into directly-executable form, without an
// ahead-of-time compilation step.
type Interpreter[V Value[V]] struct {
	// MaxBindings is the per-stream binding-slot limit.
	MaxBindings int

	// Logger traces instruction execution when set to trace level.
	// Defaults to a disabled logger.
	Logger zerolog.Logger
}

// New returns an interpreter with default limits and no tracing.
func New[V Value[V]]() *Interpreter[V] {
	return &Interpreter[V]{
		MaxBindings: DefaultMaxBindings,
		Logger:      zerolog.Nop(),
	}
}

// Build resolves the template's call-name table against calls and returns
// an immutable Executable. A template name absent from calls fails with
// *BuildError; nothing else is validated here — missing constants, stack
// discipline and the like surface at runtime only.
//
// Build takes ownership of the template; callers must not mutate it
// afterwards.
func (i *Interpreter[V]) Build(id string, t *bytecode.Template[V], calls map[string]Function[V]) (*Executable[V], error) {
	resolved, err := bytecode.Resolve(t.CallNames, calls)
	if err != nil {
		var unresolved *bytecode.UnresolvedNameError
		if errors.As(err, &unresolved) {
			return nil, &BuildError{Required: unresolved.Name}
		}
		return nil, err
	}

	constants := make(map[bytecode.Constant]*V, len(t.Constants))
	for index, value := range t.Constants {
		v := value
		constants[index] = &v
	}

	return &Executable[V]{
		id:           id,
		instructions: t.Instructions,
		constants:    constants,
		calls:        resolved,
		bindingsCap:  t.BindingsCapacity,
		maxBindings:  i.MaxBindings,
		logger:       i.Logger,
	}, nil
}

// Load decodes a template container from r (verifying magic, version and
// fingerprint) and builds it. The resulting Executable carries the
// container's fingerprint; Build-produced ones carry a zero fingerprint.
func (i *Interpreter[V]) Load(id string, r io.Reader, codec bytecode.ValueCodec[V], calls map[string]Function[V]) (*Executable[V], error) {
	t, h, err := bytecode.Decode(r, codec)
	if err != nil {
		return nil, err
	}
	ex, err := i.Build(id, t, calls)
	if err != nil {
		return nil, err
	}
	ex.fingerprint = h.Fingerprint
	return ex, nil
}

// Executable is a template with its call slots resolved, ready to run.
// It is immutable and may be shared across any number of Streams.
type Executable[V Value[V]] struct {
	id           string
	instructions []bytecode.Instruction
	constants    map[bytecode.Constant]*V
	calls        map[bytecode.Call]Function[V]
	fingerprint  [bytecode.FingerprintSize]byte
	bindingsCap  uint32
	maxBindings  int
	logger       zerolog.Logger
}

// ID returns the identifier the executable was built under.
func (e *Executable[V]) ID() string { return e.id }

// Fingerprint returns the 20-byte content hash of the container the
// executable was loaded from, or all zeroes for the plain interpreter
// path.
func (e *Executable[V]) Fingerprint() [bytecode.FingerprintSize]byte { return e.fingerprint }

// Execute binds one root input value and returns a fresh single-use
// Stream. It has no side effects and may be called repeatedly; each
// Stream is independent.
func (e *Executable[V]) Execute(root V) *Stream[V] {
	hint := int(e.bindingsCap)
	if hint > e.maxBindings {
		hint = e.maxBindings
	}
	level := e.logger.GetLevel()
	return &Stream[V]{
		ex:       e,
		root:     root,
		bindings: make([]V, 0, hint),
		trace:    level != zerolog.Disabled && level <= zerolog.TraceLevel,
	}
}

// Stream interprets an executable against one root value, delivering
// output bytes through the io.Reader contract. Not safe for concurrent
// readers.
type Stream[V Value[V]] struct {
	ex       *Executable[V]
	pc       int
	out      bytes.Buffer
	stack    []V
	bindings []V
	root     V
	err      *RuntimeError // sticky machine fault
	trace    bool
}

type stepResult uint8

const (
	stepContinue stepResult = iota
	stepDone
	stepInterrupt
)

// Read implements io.Reader. It steps the machine until the pending
// buffer can satisfy the request (or the program ends), then copies bytes
// out FIFO. Partial reads are legitimate; consumers loop until io.EOF.
//
// An INTERRUPT instruction surfaces as a *RuntimeError with KindInterrupt
// and leaves buffered bytes queued; calling Read again resumes execution.
// Any other machine fault is returned on every subsequent call. A
// zero-length p returns 0 without advancing the machine.
func (s *Stream[V]) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}

	for s.out.Len() < len(p) {
		res, err := s.step()
		if err != nil {
			if err.Kind != KindInterrupt {
				s.err = err
			}
			return 0, err
		}
		if res == stepDone {
			break
		}
	}

	return s.out.Read(p)
}

// PeekStack returns a read-only window over the top n operand-stack
// items, or ok=false when the stack holds fewer. Callers must not mutate
// the returned slice.
func (s *Stream[V]) PeekStack(n int) ([]V, bool) {
	if len(s.stack) < n {
		return nil, false
	}
	return s.stack[len(s.stack)-n:], true
}

// step executes one instruction. It returns stepDone past the last
// instruction and reports interrupts as errors so Read can forward them
// unchanged.
func (s *Stream[V]) step() (stepResult, *RuntimeError) {
	if s.pc >= len(s.ex.instructions) {
		return stepDone, nil
	}
	pc := s.pc
	in := s.ex.instructions[pc]
	if s.trace {
		s.traceStep(pc, in)
	}

	switch in.Op {
	case bytecode.OpOutput:
		value, err := s.memView(in.Mem)
		if err != nil {
			return 0, err
		}
		if werr := value.get().DisplayTo(&s.out); werr != nil {
			return 0, &RuntimeError{Kind: KindOutputError, PC: pc, Err: werr}
		}

	case bytecode.OpProperty:
		if len(s.stack) == 0 {
			return 0, &RuntimeError{Kind: KindStackUnderflow, PC: pc}
		}
		obj := s.stack[len(s.stack)-1]
		s.stack = s.stack[:len(s.stack)-1]

		key, err := s.memKey(in.Mem, pc)
		if err != nil {
			return 0, err
		}
		value, ok := obj.Property(key)
		if !ok {
			return 0, &RuntimeError{Kind: KindPropertyMissing, PC: pc, Key: key}
		}
		s.stack = append(s.stack, value)

	case bytecode.OpPush:
		value, err := s.memView(in.Mem)
		if err != nil {
			return 0, err
		}
		s.stack = append(s.stack, value.own())

	case bytecode.OpPop:
		for n := in.Times; n > 0; n-- {
			if len(s.stack) == 0 {
				return 0, &RuntimeError{Kind: KindStackUnderflow, PC: pc}
			}
			s.stack = s.stack[:len(s.stack)-1]
		}

	case bytecode.OpLoad:
		value, err := s.memView(in.Mem)
		if err != nil {
			return 0, err
		}
		if err := s.setBinding(in.Binding, value.own(), pc); err != nil {
			return 0, err
		}

	case bytecode.OpJump:
		s.pc = int(in.PC)
		return stepContinue, nil

	case bytecode.OpCondJump:
		value, err := s.memView(in.Mem)
		if err != nil {
			return 0, err
		}
		if len(s.stack) == 0 {
			return 0, &RuntimeError{Kind: KindStackUnderflow, PC: pc}
		}
		top := s.stack[len(s.stack)-1]
		if cmp, ok := top.Compare(value.get()); ok && in.Cond.Holds(cmp) {
			s.pc = int(in.PC)
			return stepContinue, nil
		}

	case bytecode.OpCall:
		fn, ok := s.ex.calls[in.Call]
		if !ok || fn == nil {
			return 0, &RuntimeError{Kind: KindCallMissing, PC: pc, Call: in.Call}
		}
		argc := int(in.Argc)
		if len(s.stack) < argc {
			return 0, &RuntimeError{Kind: KindStackUnderflow, PC: pc}
		}
		// The arguments stay on the stack; the emitter pops them.
		result, err := fn(s.stack[len(s.stack)-argc:])
		if err != nil {
			return 0, &RuntimeError{Kind: KindCallError, PC: pc, Call: in.Call, Err: err}
		}
		if in.PushResult {
			s.stack = append(s.stack, result)
		}

	case bytecode.OpInterrupt:
		s.pc++
		return stepInterrupt, &RuntimeError{Kind: KindInterrupt, PC: pc}

	default:
		return 0, &RuntimeError{Kind: KindInvalidInstruction, PC: pc}
	}

	s.pc++
	return stepContinue, nil
}

// memView resolves an operand source to a borrowed-or-owned value view.
func (s *Stream[V]) memView(m bytecode.Mem) (view[V], *RuntimeError) {
	switch m.Kind {
	case bytecode.MemConst:
		value, ok := s.ex.constants[m.Const]
		if !ok {
			return view[V]{}, &RuntimeError{Kind: KindConstantMissing, PC: s.pc, Const: m.Const}
		}
		return borrowed(value), nil

	case bytecode.MemBinding:
		index := int(m.Binding)
		if index >= len(s.bindings) {
			return ownedView(s.root.Default()), nil
		}
		return borrowed(&s.bindings[index]), nil

	case bytecode.MemParam:
		key, err := s.memKey(bytecode.ConstMem(m.Const), s.pc)
		if err != nil {
			return view[V]{}, err
		}
		value, ok := s.root.Property(key)
		if !ok {
			return view[V]{}, &RuntimeError{Kind: KindParameterMissing, PC: s.pc, Key: key}
		}
		// The member belongs to the root value: PUSH and LOAD clone it.
		return borrowed(&value), nil

	case bytecode.MemParams:
		return borrowed(&s.root), nil

	case bytecode.MemStackTop1:
		if len(s.stack) < 1 {
			return view[V]{}, &RuntimeError{Kind: KindStackUnderflow, PC: s.pc}
		}
		return borrowed(&s.stack[len(s.stack)-1]), nil

	case bytecode.MemStackTop2:
		if len(s.stack) < 2 {
			return view[V]{}, &RuntimeError{Kind: KindStackUnderflow, PC: s.pc}
		}
		return borrowed(&s.stack[len(s.stack)-2]), nil

	default:
		return view[V]{}, &RuntimeError{Kind: KindInvalidInstruction, PC: s.pc}
	}
}

// memKey resolves an operand source to a property key via its display
// form.
func (s *Stream[V]) memKey(m bytecode.Mem, pc int) (string, *RuntimeError) {
	value, err := s.memView(m)
	if err != nil {
		return "", err
	}
	key, derr := displayString(value.get())
	if derr != nil {
		return "", &RuntimeError{Kind: KindOutputError, PC: pc, Err: derr}
	}
	return key, nil
}

// setBinding stores value at the binding slot, growing the binding array
// with defaults up to the configured limit.
func (s *Stream[V]) setBinding(b bytecode.Binding, value V, pc int) *RuntimeError {
	index := int(b)
	required := index + 1
	if required > s.ex.maxBindings {
		return &RuntimeError{Kind: KindBindingOverflow, PC: pc, Binding: b}
	}
	for len(s.bindings) < required {
		s.bindings = append(s.bindings, s.root.Default())
	}
	s.bindings[index] = value
	return nil
}
