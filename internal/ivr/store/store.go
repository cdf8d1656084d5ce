// Package store defines the persistence boundaries of the IVR engine. The
// orchestration code only ever talks to these interfaces; memory and sqlite
// implementations live in the sub-packages.
package store

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrScriptVersionExists = errors.New("disclosure script version already exists with different content")
	// ErrChainConflict is returned when an appended audit event does not
	// extend the current head of its tenant chain.
	ErrChainConflict = errors.New("audit chain head moved")
)
