package exception

import "errors"

var (
	ErrNoGateway           = errors.New("gateway: no gateway provided for exchange")
	ErrGatewayDisconnected = errors.New("gateway: disconnected")
	ErrGatewayUnknownOrder = errors.New("gateway: unknown order")
	ErrGatewayReplace      = errors.New("gateway: replace unsupported")
)
