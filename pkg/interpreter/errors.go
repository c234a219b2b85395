package interpreter

import (
	"errors"
	"fmt"

	"mire/pkg/layout"
	"mire/pkg/memory"
	"mire/pkg/primval"
)

// Kind classifies why an evaluation stopped.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindResourceExhausted
	KindUnsupportedOperation
	KindInvalidProgramState
	KindMemoryFault
)

func (k Kind) String() string {
	switch k {
	case KindResourceExhausted:
		return "resource exhausted"
	case KindUnsupportedOperation:
		return "unsupported operation"
	case KindInvalidProgramState:
		return "invalid program state"
	case KindMemoryFault:
		return "memory fault"
	}
	return "unknown"
}

var (
	ErrMaxStepsExceeded          = errors.New("maximum steps exceeded")
	ErrStackFrameLimitReached    = errors.New("reached the configured maximum number of stack frames")
	ErrInlineAsm                 = errors.New("cannot evaluate inline assembly")
	ErrAssumptionNotHeld         = errors.New("`assume` argument was false")
	ErrUnreachable               = errors.New("entered unreachable code")
	ErrInvalidDiscriminant       = errors.New("invalid enum discriminant value read")
	ErrArrayIndexOutOfBounds     = errors.New("array index out of bounds")
	ErrMath                      = errors.New("arithmetic assertion failed")
	ErrFunctionPointerTyMismatch = errors.New("tried to call a function through a function pointer of a different type")
	ErrNoBody                    = errors.New("no body available for item")
	ErrUnimplementedIntrinsic    = errors.New("unimplemented intrinsic")
	ErrUnsupported               = errors.New("unsupported operation")
	ErrUnwinding                 = errors.New("unwinding is not supported")
	ErrIndexOutOfBounds          = errors.New("index out of bounds")
	ErrUnsizedLvalue             = errors.New("lvalue with extra metadata used as a plain pointer")
	ErrMissingGlobal             = errors.New("global was used before it was computed")
	ErrInvalidUnsize             = errors.New("invalid unsizing coercion")
	ErrInvalidValue              = errors.New("value has an unexpected representation")
	ErrInvalidProgram            = errors.New("malformed program")
	ErrEmptyStack                = errors.New("no stack frame")
)

// EvalError is the error returned by a failed step.
type EvalError struct {
	Kind   Kind
	Err    error
	Detail string
}

func (e *EvalError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

func evalErr(kind Kind, err error, format string, args ...any) *EvalError {
	return &EvalError{Kind: kind, Err: err, Detail: fmt.Sprintf(format, args...)}
}

func unsupported(format string, args ...any) *EvalError {
	return evalErr(KindUnsupportedOperation, ErrUnsupported, format, args...)
}

func invalid(err error, format string, args ...any) *EvalError {
	return evalErr(KindInvalidProgramState, err, format, args...)
}

var kindTable = []struct {
	err  error
	kind Kind
}{
	{ErrMaxStepsExceeded, KindResourceExhausted},
	{ErrStackFrameLimitReached, KindResourceExhausted},
	{memory.ErrOutOfMemory, KindResourceExhausted},
	{ErrInlineAsm, KindUnsupportedOperation},
	{ErrUnimplementedIntrinsic, KindUnsupportedOperation},
	{ErrUnsupported, KindUnsupportedOperation},
	{ErrUnwinding, KindUnsupportedOperation},
	{ErrNoBody, KindUnsupportedOperation},
	{memory.ErrOverlappingCopy, KindInvalidProgramState},
	{memory.ErrInvalidBool, KindInvalidProgramState},
	{memory.ErrInvalidFunctionPointer, KindInvalidProgramState},
	{primval.ErrDivisionByZero, KindInvalidProgramState},
	{primval.ErrInvalidChar, KindInvalidProgramState},
	{primval.ErrInvalidPointerMath, KindInvalidProgramState},
	{primval.ErrKindMismatch, KindInvalidProgramState},
	{layout.ErrGenericType, KindInvalidProgramState},
	{layout.ErrInfiniteSize, KindInvalidProgramState},
	{memory.ErrPointerOutOfBounds, KindMemoryFault},
	{memory.ErrDanglingPointer, KindMemoryFault},
	{memory.ErrInvalidMemoryAccess, KindMemoryFault},
	{memory.ErrReadPointerAsBytes, KindMemoryFault},
	{memory.ErrReadUndefBytes, KindMemoryFault},
	{memory.ErrModifiedFrozenMemory, KindMemoryFault},
	{memory.ErrDeallocatedFrozenMemory, KindMemoryFault},
	{memory.ErrAlignment, KindMemoryFault},
	{memory.ErrInvalidDeallocation, KindMemoryFault},
	{memory.ErrInvalidAlignment, KindMemoryFault},
}

// KindOf classifies err. Errors that carry no kind and match no known
// sentinel are reported as invalid program state.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ee *EvalError
	if errors.As(err, &ee) && ee.Kind != KindUnknown {
		return ee.Kind
	}
	for _, k := range kindTable {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInvalidProgramState
}

// classify attaches a kind to errors coming from collaborators.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ee *EvalError
	if errors.As(err, &ee) {
		return err
	}
	return &EvalError{Kind: KindOf(err), Err: err}
}
