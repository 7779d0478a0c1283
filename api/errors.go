package api

import (
	"errors"
	"net/http"

	match "github.com/0x5487/exchange-core"
	"github.com/0x5487/exchange-core/protocol"
)

// errorStatus maps engine errors to an HTTP status and a wire error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, match.ErrValidation):
		return http.StatusBadRequest, protocol.CodeValidation
	case errors.Is(err, match.ErrUnknownMarket):
		return http.StatusNotFound, protocol.CodeUnknownMarket
	case errors.Is(err, match.ErrNotFound):
		return http.StatusNotFound, protocol.CodeNotFound
	case errors.Is(err, match.ErrForbidden):
		return http.StatusForbidden, protocol.CodeForbidden
	case errors.Is(err, match.ErrEngineBusy):
		return http.StatusServiceUnavailable, protocol.CodeEngineBusy
	case errors.Is(err, match.ErrUnauthorized):
		return http.StatusUnauthorized, protocol.CodeUnauthorized
	case errors.Is(err, match.ErrShutdown):
		return http.StatusServiceUnavailable, protocol.CodeShutdown
	case errors.Is(err, match.ErrTimeout):
		return http.StatusGatewayTimeout, protocol.CodeTimeout
	}
	return http.StatusInternalServerError, protocol.CodeInternal
}
