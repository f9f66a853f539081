package modules

import "errors"

var (
	ErrGatewayUnreachable   = errors.New("modules: gateway unreachable")
	ErrInvalidDescriptor    = errors.New("modules: invalid module descriptor")
	ErrNoModuleForInterface = errors.New("modules: no module provides interface")
	ErrAmbiguousInterface   = errors.New("modules: interface provided by more than one module")
)
