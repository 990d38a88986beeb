package exception

import "errors"

var (
	ErrOrderDuplicate         = errors.New("order: already exists")
	ErrOrderUnknown           = errors.New("order: not found")
	ErrOrderInvalidTransition = errors.New("order: invalid state transition")
	ErrOrderInvalidFill       = errors.New("order: invalid fill size")
	ErrOrderInvalidRequest    = errors.New("order: invalid request")
	ErrOrderHalted            = errors.New("order: broker halted")
	ErrOrderRejectedByGuard   = errors.New("order: rejected by pre-trade guard")
)

var (
	ErrShutdownTimeout = errors.New("shutdown: cancel confirmations timed out")
)
