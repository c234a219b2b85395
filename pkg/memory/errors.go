package memory

import "errors"

var (
	ErrOutOfMemory             = errors.New("memory limit exceeded")
	ErrPointerOutOfBounds      = errors.New("pointer out of bounds")
	ErrDanglingPointer         = errors.New("dangling pointer dereferenced")
	ErrInvalidMemoryAccess     = errors.New("tried to access memory through an integer pointer")
	ErrReadPointerAsBytes      = errors.New("a raw memory access tried to access part of a pointer value as raw bytes")
	ErrReadUndefBytes          = errors.New("attempted to read undefined bytes")
	ErrModifiedFrozenMemory    = errors.New("tried to modify frozen memory")
	ErrDeallocatedFrozenMemory = errors.New("tried to deallocate frozen memory")
	ErrAlignment               = errors.New("tried to access memory with insufficient alignment")
	ErrInvalidBool             = errors.New("invalid boolean value read")
	ErrInvalidFunctionPointer  = errors.New("tried to use an integer pointer or a dangling pointer as a function pointer")
	ErrOverlappingCopy         = errors.New("copy_nonoverlapping called on overlapping ranges")
	ErrInvalidDeallocation     = errors.New("tried to deallocate or reallocate a pointer that is not the start of an allocation")
	ErrInvalidAlignment        = errors.New("allocation alignment must be a power of two")
)
