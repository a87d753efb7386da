package bytecode

import "fmt"

// Template is all the data required to build an executable: the program
// instructions, the constant table, the call-name table and a binding
// capacity hint.
//
// The call table is a deferred binding: the template only records names.
// The actual host functions are supplied when the template is built, and
// resolution joins the two by name (see Resolve).
//
// Templates are built by a front-end compiler or by hand through the
// chainable Push* methods:
//
//	t := bytecode.Empty[Value]().
//		PushConstant(0, Str("Hello")).
//		PushCall("join", 0).
//		PushInstructions(
//			bytecode.Push(bytecode.ConstMem(0)),
//			bytecode.Push(bytecode.Params),
//			bytecode.Invoke(0, 2, true),
//			bytecode.Output(bytecode.StackTop1),
//		)
type Template[V any] struct {
	Constants        map[Constant]V
	CallNames        map[string]Call
	Instructions     []Instruction
	BindingsCapacity uint32
}

// Empty returns a template with no constants, calls or instructions.
func Empty[V any]() *Template[V] {
	return &Template[V]{
		Constants: make(map[Constant]V),
		CallNames: make(map[string]Call),
	}
}

// PushConstant maps a constant id to a value.
func (t *Template[V]) PushConstant(index Constant, value V) *Template[V] {
	t.Constants[index] = value
	return t
}

// PushCall maps a host-function name to a call slot.
func (t *Template[V]) PushCall(name string, index Call) *Template[V] {
	t.CallNames[name] = index
	return t
}

// PushInstruction appends a single instruction.
func (t *Template[V]) PushInstruction(in Instruction) *Template[V] {
	t.Instructions = append(t.Instructions, in)
	return t
}

// PushInstructions appends instructions in order.
func (t *Template[V]) PushInstructions(ins ...Instruction) *Template[V] {
	t.Instructions = append(t.Instructions, ins...)
	return t
}

// WithBindingsCapacity records how many binding slots the program expects
// to use. The capacity is a hint; the machine still grows on demand.
func (t *Template[V]) WithBindingsCapacity(n uint32) *Template[V] {
	t.BindingsCapacity = n
	return t
}

// UnresolvedNameError reports a slot-table name with no supplied value.
type UnresolvedNameError struct {
	Name string
}

func (e *UnresolvedNameError) Error() string {
	return fmt.Sprintf("name %q is not mapped to a value", e.Name)
}

// Resolve joins a name->id slot template against a name->value map,
// producing the id->value table the machine uses at runtime. Every name in
// the template must appear in values; extra names in values are ignored.
func Resolve[I comparable, V any](names map[string]I, values map[string]V) (map[I]V, error) {
	resolved := make(map[I]V, len(names))
	for name, index := range names {
		value, ok := values[name]
		if !ok {
			return nil, &UnresolvedNameError{Name: name}
		}
		resolved[index] = value
	}
	return resolved, nil
}
