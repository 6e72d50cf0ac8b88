package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/nudge/internal/pkg/ctxlog"
)

// ErrorMapping maps a sentinel error to a response. An empty Message uses
// err.Error().
type ErrorMapping struct {
	Error   error
	Status  int
	Message string
}

// timeoutMapping applies when the request deadline passes before the
// engine finishes.
var timeoutMapping = ErrorMapping{Error: context.DeadlineExceeded, Status: http.StatusGatewayTimeout, Message: "request timed out"}

// HandleError writes the response of the first mapping err matches. A
// request deadline becomes 504. Anything else is logged and becomes 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	m, ok := matchError(err, mappings)
	if !ok {
		ctxlog.FromContext(ctx).Error("internal error", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	if m.Status >= http.StatusInternalServerError {
		ctxlog.FromContext(ctx).Warn("request failed", "status", m.Status, "error", err)
	}
	msg := m.Message
	if msg == "" {
		msg = err.Error()
	}
	Error(w, m.Status, msg)
}

func matchError(err error, mappings []ErrorMapping) (ErrorMapping, bool) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			return m, true
		}
	}
	if errors.Is(err, timeoutMapping.Error) {
		return timeoutMapping, true
	}
	return ErrorMapping{}, false
}
