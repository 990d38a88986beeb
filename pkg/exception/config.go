package exception

import "github.com/yanun0323/errors"

// Configuration errors are fatal at startup.
var (
	ErrInvalidConfig   = errors.New("config: invalid value")
	ErrUnknownExchange = errors.New("config: unknown exchange")
	ErrInvalidPair     = errors.New("config: invalid currency pair")
	ErrInvalidEnum     = errors.New("config: invalid enum value")
)
