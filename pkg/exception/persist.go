package exception

import "errors"

var (
	ErrPersistQueueFull   = errors.New("persist: queue full")
	ErrPersistClosed      = errors.New("persist: writer closed")
	ErrPersistEmptyRecord = errors.New("persist: empty collection")
)
