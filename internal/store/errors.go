package store

import "errors"

// Sentinel errors. Wrapped with fmt.Errorf("...: %w", ErrX) at call sites
// so callers can errors.Is against them while still getting a descriptive
// message, matching the teacher's error idiom (pkg/kv, pkg/embed).
var (
	ErrBankNotFound     = errors.New("store: bank not found")
	ErrDocumentNotFound = errors.New("store: document not found")
	ErrUnitNotFound     = errors.New("store: memory unit not found")
	ErrEntityNotFound   = errors.New("store: entity not found")
	ErrOperationNotFound = errors.New("store: async operation not found")

	ErrInvalidFactType  = errors.New("store: invalid fact type")
	ErrInvalidTemporal  = errors.New("store: occurred_start must not be after occurred_end")
	ErrCrossBankLink    = errors.New("store: memory link endpoints must share a bank")
)
