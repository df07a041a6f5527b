package errors

import "net/http"

var httpStatuses = map[ErrorCode]int{
	ErrInvalidArgument:    http.StatusBadRequest,
	ErrInvalidSnapshot:    http.StatusBadRequest,
	ErrUnmeasuredSnapshot: http.StatusUnprocessableEntity,
	ErrUnavailable:        http.StatusServiceUnavailable,
	ErrUnsupported:        http.StatusNotImplemented,
	ErrResourceNotFound:   http.StatusNotFound,
	ErrAlreadyRunning:     http.StatusConflict,
	ErrTimeout:            http.StatusGatewayTimeout,
}

// StatusOf maps a code to an HTTP status. Unmapped codes are server errors.
func StatusOf(code ErrorCode) int {
	if status, ok := httpStatuses[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HTTPStatus returns the status of the first mapped code in err's chain.
func HTTPStatus(err error) int {
	for err != nil {
		var e Error
		if !As(err, &e) {
			break
		}
		if status, ok := httpStatuses[e.Code()]; ok {
			return status
		}
		err = e.Unwrap()
	}
	return http.StatusInternalServerError
}
