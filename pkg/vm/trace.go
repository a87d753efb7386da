// Package vm - instruction tracing.
package vm

import "github.com/littletpl/little/pkg/bytecode"

// traceStep logs one machine step. Enabled only when the interpreter's
// logger is at trace level, so the hot path pays a single bool check.
func (s *Stream[V]) traceStep(pc int, in bytecode.Instruction) {
	s.ex.logger.Trace().
		Str("executable", s.ex.id).
		Int("pc", pc).
		Stringer("op", in.Op).
		Str("instruction", in.String()).
		Int("stack", len(s.stack)).
		Int("buffered", s.out.Len()).
		Msg("step")
}
