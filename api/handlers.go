package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/kilianp07/tablebot/core/dispatch"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/core/orders"
)

const defaultHistoryLimit = 50

type createTableRequest struct {
	Number int `json:"tableNumber"`
}

type seatRequest struct {
	HeadCount int `json:"headCount"`
}

type actionRequest struct {
	Action model.RobotAction `json:"action"`
}

// telemetryRequest follows the robot state message layout.
type telemetryRequest struct {
	Battery *struct {
		Percentage float64 `json:"percentage"`
	} `json:"battery"`
	Pose              *model.Pose     `json:"pose"`
	Velocity          *model.Velocity `json:"velocity"`
	GoalStatus        string          `json:"goalStatus"`
	DistanceTravelled float64         `json:"distanceTravelled"`
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return fmt.Errorf("%w: malformed request body", model.ErrInvalidArgument)
	}
	return nil
}

func limitParam(c echo.Context) (int, error) {
	s := c.QueryParam("limit")
	if s == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", model.ErrInvalidArgument)
	}
	return n, nil
}

// Tables

func (h *Handler) ListTables(c echo.Context) error {
	ts, err := h.svc.ListTables(c.Request().Context())
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, ts)
}

func (h *Handler) CreateTable(c echo.Context) error {
	var req createTableRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err, nil)
	}
	t, err := h.svc.CreateTable(c.Request().Context(), req.Number)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTable(c echo.Context) error {
	t, err := h.svc.GetTable(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, t)
}

// SeatTable answers 200 with the seat result, or 409/503 with the error and
// the seating that was kept anyway.
func (h *Handler) SeatTable(c echo.Context) error {
	var req seatRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err, nil)
	}
	res, err := h.svc.SeatTable(c.Request().Context(), c.Param("id"), req.HeadCount)
	if err != nil {
		return h.fail(c, err, seatOrNil(res))
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RetryAssignment(c echo.Context) error {
	res, err := h.svc.RetryAssignment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, seatOrNil(res))
	}
	return c.JSON(http.StatusOK, res)
}

func seatOrNil(res dispatch.SeatResult) *dispatch.SeatResult {
	if res.Table.ID == "" {
		return nil
	}
	return &res
}

func (h *Handler) LeaveTable(c echo.Context) error {
	res, err := h.svc.LeaveTable(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ActiveOrder(c echo.Context) error {
	o, err := h.svc.ActiveOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) TableHistory(c echo.Context) error {
	limit, err := limitParam(c)
	if err != nil {
		return h.fail(c, err, nil)
	}
	hs, err := h.svc.TableHistory(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, hs)
}

// Robots

func (h *Handler) ListRobots(c echo.Context) error {
	rs, err := h.svc.ListRobots(c.Request().Context())
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, rs)
}

func (h *Handler) CreateRobot(c echo.Context) error {
	var req dispatch.NewRobot
	if err := bind(c, &req); err != nil {
		return h.fail(c, err, nil)
	}
	r, err := h.svc.CreateRobot(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetRobot(c echo.Context) error {
	r, err := h.svc.GetRobot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteRobot(c echo.Context) error {
	if err := h.svc.DeleteRobot(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, err, nil)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SetRobotAction(c echo.Context) error {
	var req actionRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err, nil)
	}
	r, err := h.svc.SetRobotAction(c.Request().Context(), c.Param("id"), req.Action)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) UpdateTelemetry(c echo.Context) error {
	var req telemetryRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err, nil)
	}
	tel := model.Telemetry{
		Pose:              req.Pose,
		Velocity:          req.Velocity,
		GoalStatus:        req.GoalStatus,
		DistanceTravelled: req.DistanceTravelled,
		ReportedAt:        time.Now().UTC(),
	}
	if req.Battery != nil {
		b := req.Battery.Percentage
		tel.Battery = &b
	}
	r, err := h.svc.UpdateRobotTelemetry(c.Request().Context(), c.Param("id"), tel)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) RobotHistory(c echo.Context) error {
	limit, err := limitParam(c)
	if err != nil {
		return h.fail(c, err, nil)
	}
	hs, err := h.svc.RobotHistory(c.Request().Context(), c.Param("id"), c.QueryParam("tableId"), limit)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, hs)
}

// timeParam reads an optional RFC 3339 query parameter.
func timeParam(c echo.Context, name string) (time.Time, error) {
	s := c.QueryParam(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be an RFC 3339 time", model.ErrInvalidArgument, name)
	}
	return t, nil
}

func (h *Handler) TelemetryHistory(c echo.Context) error {
	q := model.TelemetryQuery{RobotID: c.Param("id")}
	var err error
	if q.Limit, err = limitParam(c); err != nil {
		return h.fail(c, err, nil)
	}
	if q.From, err = timeParam(c, "from"); err != nil {
		return h.fail(c, err, nil)
	}
	if q.To, err = timeParam(c, "to"); err != nil {
		return h.fail(c, err, nil)
	}
	recs, err := h.svc.TelemetryHistory(c.Request().Context(), q)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, recs)
}

// Orders

func (h *Handler) ListOrders(c echo.Context) error {
	q := model.OrderQuery{TableID: c.QueryParam("tableId")}
	if s := c.QueryParam("status"); s != "" {
		st, err := model.ParseOrderStatus(s)
		if err != nil {
			return h.fail(c, err, nil)
		}
		q.Status = &st
	}
	os, err := h.svc.ListOrders(c.Request().Context(), q)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, os)
}

func (h *Handler) GetOrder(c echo.Context) error {
	o, err := h.svc.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) MutateOrder(c echo.Context) error {
	var m orders.Mutation
	if err := bind(c, &m); err != nil {
		return h.fail(c, err, nil)
	}
	o, err := h.svc.MutateOrder(c.Request().Context(), c.Param("id"), m)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) SendOrder(c echo.Context) error {
	res, err := h.svc.SendOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CompleteOrder(c echo.Context) error {
	o, err := h.svc.CompleteOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) CancelOrder(c echo.Context) error {
	o, err := h.svc.CancelOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, o)
}

// Menu

func (h *Handler) PutMenuItem(c echo.Context) error {
	var m model.MenuItem
	if err := bind(c, &m); err != nil {
		return h.fail(c, err, nil)
	}
	m.ID = c.Param("id")
	if err := h.svc.PutMenuItem(c.Request().Context(), m); err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, m)
}
