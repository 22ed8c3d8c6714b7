package httpx

import (
	"context"
	"errors"
	"net/http"
)

// RespondError handles errors no domain mapping claimed: request timeouts get
// a distinct response so the presenter can tell them apart from rejections,
// everything else is an opaque internal error.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		Error(w, http.StatusGatewayTimeout, "operation timed out")
	case errors.Is(err, context.Canceled):
		Error(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
