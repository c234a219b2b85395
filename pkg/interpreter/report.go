package interpreter

import (
	"fmt"

	"mire/pkg/ir"
)

// TraceFrame is one entry of a failure's stack trace.
type TraceFrame struct {
	Def    ir.DefID
	Substs ir.Substs
	Span   ir.Span // where Def was called from
}

func (f TraceFrame) String() string {
	return string(f.Def) + f.Substs.String()
}

// RunError reports a failed evaluation together with the failing location
// and the call stack, innermost frame first.
type RunError struct {
	Err   error
	Span  ir.Span
	Trace []TraceFrame
	Steps int
}

func (e *RunError) Error() string {
	if e.Span.IsZero() {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Span, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Kind() Kind {
	return KindOf(e.Err)
}

// StackTrace lists the live frames, innermost first.
func (ecx *EvalContext) StackTrace() []TraceFrame {
	frames := ecx.stack.Array()
	trace := make([]TraceFrame, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		trace = append(trace, TraceFrame{Def: f.Def, Substs: f.Substs, Span: f.Span})
	}
	return trace
}

func (ecx *EvalContext) newRunError(err error) *RunError {
	re := &RunError{Err: err, Trace: ecx.StackTrace(), Steps: ecx.steps}
	if f, ok := ecx.stack.Peek(); ok {
		re.Span = f.CurrentSpan()
	}
	return re
}
