// Command little is the demo and tooling surface for the template engine:
// it runs a built-in example template, packs it into the binary container
// format, and disassembles container files.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/littletpl/little/pkg/bytecode"
	"github.com/littletpl/little/pkg/values"
	"github.com/littletpl/little/pkg/vm"
)

const version = "0.1.0"

var trace bool

func main() {
	root := &cobra.Command{
		Use:           "little",
		Short:         "little - an embeddable template execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&trace, "trace", false, "log each executed instruction")

	root.AddCommand(demoCmd(), packCmd(), disasmCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		l := logger()
		l.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func logger() zerolog.Logger {
	level := zerolog.InfoLevel
	if trace {
		level = zerolog.TraceLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func interpreter() *vm.Interpreter[values.Value] {
	i := vm.New[values.Value]()
	i.Logger = logger()
	return i
}

// demoTemplate joins a constant greeting with the root value through a
// host call and emits the result.
func demoTemplate() *bytecode.Template[values.Value] {
	return bytecode.Empty[values.Value]().
		PushConstant(0, values.Str("Hello")).
		PushCall("join", 0).
		PushInstructions(
			bytecode.Push(bytecode.ConstMem(0)),
			bytecode.Push(bytecode.Params),
			bytecode.Invoke(0, 2, true),
			bytecode.Output(bytecode.StackTop1),
			bytecode.Pop(3),
		)
}

func demoCmd() *cobra.Command {
	name := "World"
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Build and run the hello-world template",
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, err := interpreter().Build("demo", demoTemplate(), values.Calls())
			if err != nil {
				return err
			}
			return stream(ex.Execute(values.Str(name)), os.Stdout)
		},
	}
	cmd.Flags().StringVar(&name, "name", name, "root value passed to the template")
	return cmd
}

func packCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pack <output.ltb>",
		Short: "Write the hello-world template as a bytecode container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			if err := bytecode.Encode(demoTemplate(), values.Codec{}, f); err != nil {
				return err
			}
			l := logger()
			l.Info().Str("file", args[0]).Msg("container written")
			return nil
		},
	}
}

func disasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <file.ltb>",
		Short: "Disassemble a bytecode container file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			t, h, err := bytecode.Decode(f, values.Codec{})
			if err != nil {
				return err
			}

			fmt.Printf("version:     %d\n", h.Version)
			fmt.Printf("fingerprint: %x\n", h.Fingerprint)
			fmt.Printf("bindings:    %d\n", t.BindingsCapacity)

			fmt.Println("constants:")
			ids := make([]bytecode.Constant, 0, len(t.Constants))
			for id := range t.Constants {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			for _, id := range ids {
				fmt.Printf("  %s = %q\n", id, t.Constants[id].String())
			}

			fmt.Println("calls:")
			names := make([]string, 0, len(t.CallNames))
			for name := range t.CallNames {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  %q -> %s\n", name, t.CallNames[name])
			}

			fmt.Println("instructions:")
			for pc, in := range t.Instructions {
				fmt.Printf("  %4d: %s\n", pc, in)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the engine version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("little version %s\n", version)
		},
	}
}

// stream copies template output to w, swallowing interrupts the way
// template consumers are expected to.
func stream(s *vm.Stream[values.Value], w io.Writer) error {
	buf := make([]byte, 4096)
	for {
		n, err := s.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		switch {
		case err == nil:
		case err == io.EOF:
			return nil
		case vm.IsInterrupt(err):
			// resume on the next read
		default:
			return err
		}
	}
}
