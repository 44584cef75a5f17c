package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kilianp07/tablebot/core/dispatch"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/core/monitoring"
)

// errorBody is the JSON error payload. Busy and Seat are only set on
// seating conflicts.
type errorBody struct {
	Error string               `json:"error"`
	Busy  *model.Robot         `json:"busyRobot,omitempty"`
	Seat  *dispatch.SeatResult `json:"seat,omitempty"`
}

func statusOf(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. seat carries the partial result
// of a seating that found no robot.
func (h *Handler) fail(c echo.Context, err error, seat *dispatch.SeatResult) error {
	code := statusOf(err)
	body := errorBody{Error: err.Error()}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			body.Error = msg
		}
	}
	var busy *model.BusyError
	if errors.As(err, &busy) {
		r := busy.Robot
		body.Busy = &r
	}
	if code == http.StatusConflict || code == http.StatusServiceUnavailable {
		body.Seat = seat
	}
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		h.log.Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
		if !monitoring.Reported(err) {
			monitoring.CaptureException(err, map[string]string{"module": "api", "route": c.Path()})
		}
		body.Error = http.StatusText(code)
	}
	return c.JSON(code, body)
}
