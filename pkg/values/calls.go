package values

import (
	"fmt"
	"strings"

	"github.com/littletpl/little/pkg/vm"
)

// Calls returns the standard host-call library for Value templates. The
// map is freshly allocated; callers may add their own entries before
// building. Names the template never references are ignored at build
// time.
//
// All calls follow the engine convention: arguments are a read-only
// window over the stack (never popped by CALL itself) and errors surface
// to the consumer as a call error.
func Calls() map[string]vm.Function[Value] {
	return map[string]vm.Function[Value]{
		"join":   join,
		"concat": concat,
		"add":    arith("add", func(a, b int64) (int64, error) { return a + b, nil }),
		"sub":    arith("sub", func(a, b int64) (int64, error) { return a - b, nil }),
		"mul":    arith("mul", func(a, b int64) (int64, error) { return a * b, nil }),
		"div":    arith("div", divide),
		"len":    length,
		"upper":  mapText(strings.ToUpper),
		"lower":  mapText(strings.ToLower),
	}
}

// join concatenates the display forms of its arguments separated by a
// single space.
func join(args []Value) (Value, error) {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = arg.String()
	}
	return Str(strings.Join(parts, " ")), nil
}

// concat concatenates display forms with no separator.
func concat(args []Value) (Value, error) {
	var b strings.Builder
	for _, arg := range args {
		arg.DisplayTo(&b)
	}
	return Str(b.String()), nil
}

func arith(name string, op func(a, b int64) (int64, error)) vm.Function[Value] {
	return func(args []Value) (Value, error) {
		if len(args) != 2 {
			return Value{}, fmt.Errorf("%s expects 2 arguments, got %d", name, len(args))
		}
		a, aok := args[0].AsInt()
		b, bok := args[1].AsInt()
		if !aok || !bok {
			return Value{}, fmt.Errorf("%s expects integer arguments", name)
		}
		n, err := op(a, b)
		if err != nil {
			return Value{}, err
		}
		return Int(n), nil
	}
}

func divide(a, b int64) (int64, error) {
	if b == 0 {
		return 0, fmt.Errorf("division by zero")
	}
	return a / b, nil
}

// length returns the byte length of its argument's display form.
func length(args []Value) (Value, error) {
	if len(args) != 1 {
		return Value{}, fmt.Errorf("len expects 1 argument, got %d", len(args))
	}
	return Int(int64(len(args[0].String()))), nil
}

func mapText(f func(string) string) vm.Function[Value] {
	return func(args []Value) (Value, error) {
		if len(args) != 1 {
			return Value{}, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		return Str(f(args[0].String())), nil
	}
}
