package vm_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/littletpl/little/pkg/vm"
)

func TestErrorKindDescriptions(t *testing.T) {
	cases := map[vm.ErrorKind]string{
		vm.KindParameterMissing: "parameter is missing",
		vm.KindConstantMissing:  "constant is missing",
		vm.KindCallMissing:      "call is missing",
		vm.KindCallError:        "call error",
		vm.KindPropertyMissing:  "property is missing",
		vm.KindStackUnderflow:   "stack underflow",
		vm.KindOutputError:      "output error",
		vm.KindBindingOverflow:  "binding overflow",
		vm.KindInterrupt:        "interupt",
	}
	for kind, want := range cases {
		require.Equal(t, want, kind.String())
	}
}

func TestRuntimeErrorMessages(t *testing.T) {
	require.Equal(t, `parameter "name" is missing`,
		(&vm.RuntimeError{Kind: vm.KindParameterMissing, Key: "name"}).Error())
	require.Equal(t, "constant const(2) is missing",
		(&vm.RuntimeError{Kind: vm.KindConstantMissing, Const: 2}).Error())
	require.Equal(t, "call(1) is missing",
		(&vm.RuntimeError{Kind: vm.KindCallMissing, Call: 1}).Error())
	require.Equal(t, "attempt to pop empty stack",
		(&vm.RuntimeError{Kind: vm.KindStackUnderflow}).Error())
	require.Equal(t, "interupt",
		(&vm.RuntimeError{Kind: vm.KindInterrupt}).Error())
}

func TestCallErrorDelegatesDescription(t *testing.T) {
	inner := errors.New("boom")
	err := &vm.RuntimeError{Kind: vm.KindCallError, Call: 3, Err: inner}
	require.Equal(t, "boom", err.Description())
	require.Equal(t, "call(3): boom", err.Error())
	require.ErrorIs(t, err, inner)
}

func TestKindOf(t *testing.T) {
	kind, ok := vm.KindOf(&vm.RuntimeError{Kind: vm.KindStackUnderflow})
	require.True(t, ok)
	require.Equal(t, vm.KindStackUnderflow, kind)

	_, ok = vm.KindOf(errors.New("not a machine error"))
	require.False(t, ok)
}

func TestIsInterrupt(t *testing.T) {
	require.True(t, vm.IsInterrupt(&vm.RuntimeError{Kind: vm.KindInterrupt}))
	require.False(t, vm.IsInterrupt(&vm.RuntimeError{Kind: vm.KindStackUnderflow}))
	require.False(t, vm.IsInterrupt(errors.New("interupt")))
}

func TestBuildErrorMessage(t *testing.T) {
	err := &vm.BuildError{Required: "join"}
	require.Equal(t, `function "join" not found`, err.Error())
	require.Equal(t, "function not found", err.Description())
}
