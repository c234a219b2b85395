package interpreter

import (
	"github.com/charmbracelet/log"

	"mire/pkg/ir"
	"mire/pkg/layout"
	"mire/pkg/memory"
	"mire/pkg/stack"
)

const (
	DefaultStackLimit  = 100
	DefaultMaxSteps    = 1_000_000
	DefaultMemoryLimit = 64 << 20
	DefaultPointerSize = 8
)

// globalID names a memoized constant, static or promoted constant.
// promoted is -1 for items.
type globalID struct {
	def      ir.DefID
	substs   string
	promoted int
}

// EvalContext evaluates one program. It owns the call stack, the memory
// and every cache; nothing is shared between contexts.
type EvalContext struct {
	program *ir.Program
	layouts layout.Oracle
	memory  *memory.Memory

	globals map[globalID]memory.Pointer // frozen once computed, unless mutable
	vtables map[string]memory.Pointer   // trait + "|" + concrete type
	strs    map[string]memory.Pointer   // frozen string literal storage

	stack      *stack.Stack[*Frame]
	stackLimit int

	maxSteps int // 0 = unlimited
	steps    int

	memoryLimit uint64
	pointerSize uint64

	ret memory.Pointer // return storage of the entry function

	logger *log.Logger
}

type Option func(*EvalContext)

// WithMaxSteps sets a maximum number of interpreter steps before returning ErrMaxStepsExceeded
func WithMaxSteps(n int) Option {
	return func(ecx *EvalContext) { ecx.maxSteps = n }
}

// WithStackLimit bounds the number of simultaneously live frames
func WithStackLimit(n int) Option {
	return func(ecx *EvalContext) { ecx.stackLimit = n }
}

// WithMemoryLimit bounds the total bytes allocated at once (0 = unlimited)
func WithMemoryLimit(n uint64) Option {
	return func(ecx *EvalContext) { ecx.memoryLimit = n }
}

func WithPointerSize(n uint64) Option {
	return func(ecx *EvalContext) { ecx.pointerSize = n }
}

func WithLogger(l *log.Logger) Option {
	return func(ecx *EvalContext) { ecx.logger = l }
}

// WithLayout replaces the default layout computer.
func WithLayout(o layout.Oracle) Option {
	return func(ecx *EvalContext) { ecx.layouts = o }
}

// NewEvalContext creates an evaluation context for prog.
func NewEvalContext(prog *ir.Program, opts ...Option) *EvalContext {
	ecx := &EvalContext{
		program:     prog,
		globals:     make(map[globalID]memory.Pointer),
		vtables:     make(map[string]memory.Pointer),
		strs:        make(map[string]memory.Pointer),
		stack:       stack.New[*Frame](),
		stackLimit:  DefaultStackLimit,
		maxSteps:    DefaultMaxSteps,
		memoryLimit: DefaultMemoryLimit,
		pointerSize: DefaultPointerSize,
	}
	for _, o := range opts {
		o(ecx)
	}

	if ecx.layouts == nil {
		ecx.layouts = layout.New(prog, ecx.pointerSize)
	}
	ecx.pointerSize = ecx.layouts.PointerSize()
	ecx.memory = memory.New(ecx.memoryLimit, ecx.pointerSize)
	if ecx.logger == nil {
		ecx.logger = log.Default()
	}

	return ecx
}

func (ecx *EvalContext) Program() *ir.Program   { return ecx.program }
func (ecx *EvalContext) Memory() *memory.Memory { return ecx.memory }
func (ecx *EvalContext) Layouts() layout.Oracle { return ecx.layouts }

// Steps returns the number of steps executed so far
func (ecx *EvalContext) Steps() int { return ecx.steps }

// ReturnPtr is where EvalMain's entry function writes its result.
func (ecx *EvalContext) ReturnPtr() memory.Pointer { return ecx.ret }

// Stack returns the live frames, outermost first
func (ecx *EvalContext) Stack() []*Frame { return ecx.stack.Array() }

// frame returns the current call frame
func (ecx *EvalContext) frame() (*Frame, error) {
	f, ok := ecx.stack.Peek()
	if !ok {
		return nil, invalid(ErrEmptyStack, "no frame to evaluate in")
	}
	return f, nil
}

// substs returns the generic arguments of the current frame.
func (ecx *EvalContext) substs() ir.Substs {
	if f, ok := ecx.stack.Peek(); ok {
		return f.Substs
	}
	return nil
}

// PushStackFrame allocates the locals of body and makes it the current
// frame. Slot 0 aliases returnPtr. The push fails, leaving the stack
// unchanged, when the stack is already at its limit.
func (ecx *EvalContext) PushStackFrame(def ir.DefID, span ir.Span, body *ir.Body, substs ir.Substs, returnPtr memory.Pointer, cleanup StackPopCleanup) error {
	if ecx.stack.Size() >= ecx.stackLimit {
		return evalErr(KindResourceExhausted, ErrStackFrameLimitReached, "limit is %d", ecx.stackLimit)
	}

	locals := make([]memory.Pointer, len(body.Locals))
	locals[ir.ReturnPointer] = returnPtr
	for i := 1; i < len(body.Locals); i++ {
		ty := body.Locals[i].Ty.Subst(substs)
		l, err := ecx.layouts.Layout(ty)
		if err != nil {
			ecx.freeLocals(locals[1:i])
			return err
		}
		ptr, err := ecx.memory.Allocate(l.Size(), l.Align())
		if err != nil {
			ecx.freeLocals(locals[1:i])
			return err
		}
		locals[i] = ptr
	}

	ecx.stack.Push(&Frame{
		Def:     def,
		Body:    body,
		Substs:  substs,
		Span:    span,
		Locals:  locals,
		Cleanup: cleanup,
	})
	ecx.logger.Debug("push frame", "fn", def, "substs", substs, "depth", ecx.stack.Size())
	return nil
}

func (ecx *EvalContext) freeLocals(ptrs []memory.Pointer) {
	for _, p := range ptrs {
		_ = ecx.memory.Deallocate(p)
	}
}

// PopStackFrame removes the current frame, frees its locals and runs its
// cleanup. The return slot belongs to the caller and is kept.
func (ecx *EvalContext) PopStackFrame() error {
	frame, ok := ecx.stack.Pop()
	if !ok {
		return invalid(ErrEmptyStack, "tried to pop a stack frame, but there were none")
	}
	ecx.logger.Debug("pop frame", "fn", frame.Def, "cleanup", frame.Cleanup, "depth", ecx.stack.Size())

	for _, p := range frame.Locals[1:] {
		if err := ecx.memory.Deallocate(p); err != nil {
			return err
		}
	}
	for _, p := range frame.deallocs {
		if err := ecx.memory.Deallocate(p); err != nil {
			return err
		}
	}

	switch frame.Cleanup.Kind {
	case CleanupFreeze:
		return ecx.memory.Freeze(frame.Cleanup.Alloc)
	case CleanupGoto:
		caller, err := ecx.frame()
		if err != nil {
			return err
		}
		caller.Block = frame.Cleanup.Block
		caller.Stmt = 0
	}
	return nil
}

func (ecx *EvalContext) gotoBlock(b ir.BlockID) {
	if f, ok := ecx.stack.Peek(); ok {
		f.Block = b
		f.Stmt = 0
	}
}

// Step executes one statement or terminator of the current frame,
// returning (halted, error). It halts once the stack is empty.
func (ecx *EvalContext) Step() (bool, error) {
	frame, ok := ecx.stack.Peek()
	if !ok {
		return true, nil
	}

	if ecx.maxSteps > 0 && ecx.steps >= ecx.maxSteps {
		return false, evalErr(KindResourceExhausted, ErrMaxStepsExceeded, "after %d steps", ecx.steps)
	}
	ecx.steps++

	block, err := frame.Body.Block(frame.Block)
	if err != nil {
		return false, invalid(ErrInvalidProgram, "%v", err)
	}

	if frame.Stmt < len(block.Statements) {
		stmt := &block.Statements[frame.Stmt]
		pushed, err := ecx.scheduleStatementGlobals(frame, stmt)
		if err != nil || pushed {
			return false, classify(err)
		}

		ecx.logger.Debug("step", "fn", frame.Def, "bb", frame.Block, "stmt", frame.Stmt, "depth", ecx.stack.Size())
		if err := ecx.evalStatement(stmt); err != nil {
			return false, classify(err)
		}
		frame.Stmt++
		return false, nil
	}

	term := &block.Terminator
	pushed, err := ecx.scheduleTerminatorGlobals(frame, term)
	if err != nil || pushed {
		return false, classify(err)
	}

	ecx.logger.Debug("step", "fn", frame.Def, "bb", frame.Block, "term", ir.TerminatorString(term.Kind), "depth", ecx.stack.Size())
	return false, classify(ecx.evalTerminator(term))
}

// Run executes until the stack is empty or a step fails. Failures are
// returned as *RunError carrying the stack at the point of failure.
func (ecx *EvalContext) Run() error {
	for {
		halted, err := ecx.Step()
		if err != nil {
			return ecx.newRunError(err)
		}

		if halted {
			return nil
		}
	}
}

// EvalMain evaluates the function entry of prog. The context is returned
// even on failure so callers can inspect memory and the stack.
func EvalMain(prog *ir.Program, entry ir.DefID, opts ...Option) (*EvalContext, error) {
	ecx := NewEvalContext(prog, opts...)

	item, err := prog.Item(entry)
	if err != nil {
		return ecx, &RunError{Err: classify(err)}
	}
	if item.Body == nil {
		return ecx, &RunError{Err: evalErr(KindUnsupportedOperation, ErrNoBody, "%s", entry)}
	}

	retTy := item.Body.ReturnTy()
	l, err := ecx.layouts.Layout(retTy)
	if err != nil {
		return ecx, &RunError{Err: classify(err)}
	}
	retPtr, err := ecx.memory.Allocate(l.Size(), l.Align())
	if err != nil {
		return ecx, &RunError{Err: classify(err)}
	}
	ecx.ret = retPtr

	cleanup := StackPopCleanup{Kind: CleanupNone}
	if err := ecx.PushStackFrame(entry, item.Body.Span, item.Body, nil, retPtr, cleanup); err != nil {
		return ecx, &RunError{Err: classify(err)}
	}
	return ecx, ecx.Run()
}
