package types

import "errors"

// Domain errors for model validation
var (
	ErrEmptyBlockName     = errors.New("block name cannot be empty")
	ErrDuplicateBlockName = errors.New("duplicate block name in file")
	ErrDuplicateHandle    = errors.New("duplicate entity handle in file")
	ErrMissingBlockName   = errors.New("block reference has no target block name")
	ErrZeroScale          = errors.New("block reference scale factor is zero")
	ErrDanglingReference  = errors.New("block reference targets an unknown block")
)
