package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTemplateBuilder(t *testing.T) {
	tmpl := Empty[string]().
		PushConstant(0, "Hello").
		PushConstant(1, "World").
		PushCall("join", 0).
		PushInstruction(Push(ConstMem(0))).
		PushInstructions(
			Push(ConstMem(1)),
			Invoke(0, 2, true),
			Output(StackTop1),
		).
		WithBindingsCapacity(4)

	require.Equal(t, map[Constant]string{0: "Hello", 1: "World"}, tmpl.Constants)
	require.Equal(t, map[string]Call{"join": 0}, tmpl.CallNames)
	require.Len(t, tmpl.Instructions, 4)
	require.Equal(t, Push(ConstMem(0)), tmpl.Instructions[0])
	require.Equal(t, uint32(4), tmpl.BindingsCapacity)
}

func TestResolveJoinsByName(t *testing.T) {
	names := map[string]Call{"join": 0, "add": 1}
	funcs := map[string]int{"join": 10, "add": 20, "extra": 30}

	resolved, err := Resolve(names, funcs)
	require.NoError(t, err)
	require.Equal(t, map[Call]int{0: 10, 1: 20}, resolved)
}

func TestResolveMissingName(t *testing.T) {
	names := map[string]Call{"join": 0}

	_, err := Resolve(names, map[string]int{})
	require.Error(t, err)
	unresolved := &UnresolvedNameError{}
	require.ErrorAs(t, err, &unresolved)
	require.Equal(t, "join", unresolved.Name)
}
