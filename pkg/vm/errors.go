// Package vm - runtime and build error taxonomy.
package vm

import (
	"errors"
	"fmt"

	"github.com/littletpl/little/pkg/bytecode"
)

// ErrorKind tags a runtime error with its machine-level cause.
type ErrorKind int

const (
	// KindParameterMissing: a property of the root value could not be
	// resolved.
	KindParameterMissing ErrorKind = iota

	// KindConstantMissing: a referenced constant id is not in the
	// template's constant table.
	KindConstantMissing

	// KindCallMissing: a call slot dispatched to no function.
	KindCallMissing

	// KindCallError: the host function returned an error.
	KindCallError

	// KindPropertyMissing: PROPERTY addressed a member the value does
	// not have.
	KindPropertyMissing

	// KindStackUnderflow: POP, a stack peek or CALL saw too few items.
	KindStackUnderflow

	// KindOutputError: writing a display form to the output buffer
	// failed.
	KindOutputError

	// KindBindingOverflow: LOAD addressed a binding slot past the
	// configured limit.
	KindBindingOverflow

	// KindInvalidInstruction: the machine met an opcode it does not
	// know. Only reachable with hand-built instruction values; the
	// container decoder rejects them earlier.
	KindInvalidInstruction

	// KindInterrupt: execution hit an INTERRUPT instruction. The stream
	// stays valid; reading again resumes past the interrupt.
	KindInterrupt
)

// String returns the stable description for the kind. Higher layers match
// on these strings, so they never change; "interupt" keeps its historical
// spelling.
func (k ErrorKind) String() string {
	switch k {
	case KindParameterMissing:
		return "parameter is missing"
	case KindConstantMissing:
		return "constant is missing"
	case KindCallMissing:
		return "call is missing"
	case KindCallError:
		return "call error"
	case KindPropertyMissing:
		return "property is missing"
	case KindStackUnderflow:
		return "stack underflow"
	case KindOutputError:
		return "output error"
	case KindBindingOverflow:
		return "binding overflow"
	case KindInvalidInstruction:
		return "invalid instruction"
	case KindInterrupt:
		return "interupt"
	default:
		return "unknown error"
	}
}

// RuntimeError is a machine error surfaced through Stream.Read. The Kind
// says what went wrong; the remaining fields say where. Only the fields
// relevant to the kind are set.
type RuntimeError struct {
	Kind    ErrorKind
	PC      int
	Const   bytecode.Constant
	Binding bytecode.Binding
	Call    bytecode.Call
	Key     string // property / parameter name
	Err     error  // inner error for CallError and OutputError
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	switch e.Kind {
	case KindParameterMissing:
		return fmt.Sprintf("parameter %q is missing", e.Key)
	case KindConstantMissing:
		return fmt.Sprintf("constant %s is missing", e.Const)
	case KindCallMissing:
		return fmt.Sprintf("%s is missing", e.Call)
	case KindCallError:
		return fmt.Sprintf("%s: %v", e.Call, e.Err)
	case KindPropertyMissing:
		return fmt.Sprintf("property %q is missing", e.Key)
	case KindStackUnderflow:
		return "attempt to pop empty stack"
	case KindOutputError:
		return fmt.Sprintf("output error: %v", e.Err)
	case KindBindingOverflow:
		return fmt.Sprintf("%s exceeds the binding limit", e.Binding)
	case KindInvalidInstruction:
		return fmt.Sprintf("invalid instruction at pc %d", e.PC)
	case KindInterrupt:
		return "interupt"
	default:
		return "unknown error"
	}
}

// Description returns the stable error description. For CallError it
// delegates to the host function's error.
func (e *RuntimeError) Description() string {
	if e.Kind == KindCallError && e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

// Unwrap exposes the inner error of CallError and OutputError.
func (e *RuntimeError) Unwrap() error { return e.Err }

// IsInterrupt reports whether err is (or wraps) an interrupt. Consumers
// loop on Read, swallow interrupts, and continue.
func IsInterrupt(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Kind == KindInterrupt
}

// KindOf extracts the machine error kind from err. ok=false means err did
// not come from the machine (for example io.EOF).
func KindOf(err error) (ErrorKind, bool) {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

// BuildError reports a template call name with no host function supplied
// at build time.
type BuildError struct {
	Required string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("function %q not found", e.Required)
}

// Description returns the stable build error description.
func (e *BuildError) Description() string { return "function not found" }
