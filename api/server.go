// Package api exposes the coordinator over HTTP with echo.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kilianp07/tablebot/core/dispatch"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/core/orders"
	"github.com/kilianp07/tablebot/core/logger"
)

// Config defines the HTTP listener.
type Config struct {
	Addr string `json:"addr"`
	// Token, when set, must be sent as "Authorization: Bearer <token>" on
	// every /api route.
	Token string `json:"token"`
}

// Coordinator is the part of dispatch.Coordinator the handlers use.
type Coordinator interface {
	CreateTable(ctx context.Context, number int) (model.Table, error)
	GetTable(ctx context.Context, id string) (model.Table, error)
	ListTables(ctx context.Context) ([]model.Table, error)
	SeatTable(ctx context.Context, tableID string, headCount int) (dispatch.SeatResult, error)
	RetryAssignment(ctx context.Context, tableID string) (dispatch.SeatResult, error)
	LeaveTable(ctx context.Context, tableID string) (dispatch.LeaveResult, error)
	TableHistory(ctx context.Context, tableID string, limit int) ([]model.HistoryEntry, error)

	CreateRobot(ctx context.Context, in dispatch.NewRobot) (model.Robot, error)
	GetRobot(ctx context.Context, id string) (model.Robot, error)
	ListRobots(ctx context.Context) ([]model.Robot, error)
	DeleteRobot(ctx context.Context, id string) error
	SetRobotAction(ctx context.Context, id string, action model.RobotAction) (model.Robot, error)
	UpdateRobotTelemetry(ctx context.Context, id string, tel model.Telemetry) (model.Robot, error)
	RobotHistory(ctx context.Context, robotID, tableID string, limit int) ([]model.HistoryEntry, error)
	TelemetryHistory(ctx context.Context, q model.TelemetryQuery) ([]model.TelemetryRecord, error)

	ActiveOrder(ctx context.Context, tableID string) (model.Order, error)
	GetOrder(ctx context.Context, id string) (model.Order, error)
	ListOrders(ctx context.Context, q model.OrderQuery) ([]model.Order, error)
	MutateOrder(ctx context.Context, id string, m orders.Mutation) (model.Order, error)
	SendOrder(ctx context.Context, id string) (dispatch.SendResult, error)
	CompleteOrder(ctx context.Context, id string) (model.Order, error)
	CancelOrder(ctx context.Context, id string) (model.Order, error)
	PutMenuItem(ctx context.Context, m model.MenuItem) error
}

// Handler serves the coordinator routes.
type Handler struct {
	svc Coordinator
	log logger.Logger
}

// NewHandler returns a Handler. A nil log discards output.
func NewHandler(svc Coordinator, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Handler{svc: svc, log: log}
}

// NewServer builds the echo instance with every route registered.
func NewServer(svc Coordinator, cfg Config, log logger.Logger) *echo.Echo {
	h := NewHandler(svc, log)
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			h.log.Debugw("http request", map[string]any{
				"method": v.Method, "uri": v.URI, "status": v.Status, "latency_ms": v.Latency.Milliseconds(),
			})
			return nil
		},
	}))
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	Register(e, h, cfg.Token)
	return e
}

// Register mounts the /api routes on e.
func Register(e *echo.Echo, h *Handler, token string) {
	g := e.Group("/api")
	if token != "" {
		g.Use(bearerAuth(token))
	}

	g.GET("/tables", h.ListTables)
	g.POST("/tables", h.CreateTable)
	g.GET("/tables/:id", h.GetTable)
	g.PATCH("/tables/:id/seat", h.SeatTable)
	g.PATCH("/tables/:id/leave", h.LeaveTable)
	g.PATCH("/tables/:id/assign", h.RetryAssignment)
	g.GET("/tables/:id/order", h.ActiveOrder)
	g.GET("/tables/:id/history", h.TableHistory)

	g.GET("/robots", h.ListRobots)
	g.POST("/robots", h.CreateRobot)
	g.GET("/robots/:id", h.GetRobot)
	g.DELETE("/robots/:id", h.DeleteRobot)
	g.PATCH("/robots/:id/action", h.SetRobotAction)
	g.PATCH("/robots/:id/telemetry", h.UpdateTelemetry)
	g.GET("/robots/:id/history", h.RobotHistory)
	g.GET("/robots/:id/telemetry", h.TelemetryHistory)

	g.GET("/orders", h.ListOrders)
	g.GET("/orders/:id", h.GetOrder)
	g.PATCH("/orders/:id", h.MutateOrder)
	g.PATCH("/orders/:id/send", h.SendOrder)
	g.PATCH("/orders/:id/complete", h.CompleteOrder)
	g.PATCH("/orders/:id/cancel", h.CancelOrder)

	g.PUT("/menu-items/:id", h.PutMenuItem)
}

func bearerAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get(echo.HeaderAuthorization) != "Bearer "+token {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}
			return next(c)
		}
	}
}

// Serve runs e on addr until ctx is canceled, then shuts it down.
func Serve(ctx context.Context, e *echo.Echo, addr string, log logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP API listening on %s", addr)
		errCh <- e.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	}
}
