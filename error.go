package match

import "errors"

var (
	ErrValidation    = errors.New("validation error")
	ErrUnknownMarket = errors.New("unknown market")
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrEngineBusy    = errors.New("engine busy")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrTimeout       = errors.New("timeout")
	ErrShutdown      = errors.New("order book is shutting down")
)
