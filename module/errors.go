package module

import (
	"errors"
	"strings"
)

var (
	ErrInvalidMagic    = errors.New("invalid magic number: expected LMOD")
	ErrVersionMismatch = errors.New("module version mismatch")
	ErrUnexpectedEOF   = errors.New("unexpected end of module data")
	ErrCorruptData     = errors.New("corrupt module data")
	ErrInvalidToken    = errors.New("invalid metadata token")
	ErrInvalidOpcode   = errors.New("invalid opcode")
	ErrBadBranch       = errors.New("branch target is not an instruction boundary")

	ErrNilType        = errors.New("missing type")
	ErrOpenType       = errors.New("open generic type")
	ErrUnresolvedType = errors.New("unresolved type")
	ErrGenericArity   = errors.New("generic arity mismatch")
)

// ValidationError collects every structural problem found in a module.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid module: " + e.Problems[0]
	}
	return "invalid module: " + strings.Join(e.Problems, "; ")
}
