package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tablebot/core/dispatch"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/core/store"
)

type apiFixture struct {
	t *testing.T
	e *echo.Echo
}

func newAPI(t *testing.T, token string) *apiFixture {
	t.Helper()
	dispatch.ResetMetrics(nil)
	c, err := dispatch.NewCoordinator(store.NewMemoryStore(), nil, dispatch.Config{MaxRetries: 5, RetryBackoffMS: 1}, nil, nil, nil)
	require.NoError(t, err)
	return &apiFixture{t: t, e: NewServer(c, Config{Token: token}, nil)}
}

func (f *apiFixture) do(method, path string, body any, hdr ...string) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func decodeInto[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *apiFixture) table(number int) model.Table {
	rec := f.do(http.MethodPost, "/api/tables", map[string]int{"tableNumber": number})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeInto[model.Table](f.t, rec)
}

func (f *apiFixture) robot(name string) model.Robot {
	rec := f.do(http.MethodPost, "/api/robots", map[string]any{"name": name})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeInto[model.Robot](f.t, rec)
}

func TestHealthz(t *testing.T) {
	f := newAPI(t, "secret")
	rec := f.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerToken(t *testing.T) {
	f := newAPI(t, "secret")
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/tables", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/tables", nil, "Authorization", "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/tables", nil, "Authorization", "Bearer secret").Code)
}

func TestSeatWithoutRobots(t *testing.T) {
	f := newAPI(t, "")
	tbl := f.table(1)

	rec := f.do(http.MethodPatch, "/api/tables/"+tbl.ID+"/seat", map[string]int{"headCount": 2})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	body := decodeInto[map[string]any](t, rec)
	seat, ok := body["seat"].(map[string]any)
	require.True(t, ok, "seat result expected in %v", body)
	assert.Equal(t, "none", seat["mode"])

	got := decodeInto[model.Table](t, f.do(http.MethodGet, "/api/tables/"+tbl.ID, nil))
	assert.True(t, got.Occupied)
	require.NotNil(t, got.HeadCount)
	assert.Equal(t, 2, *got.HeadCount)
}

func TestSeatBusyReturnsConflict(t *testing.T) {
	f := newAPI(t, "")
	robot := f.robot("Ava")
	t1, t2 := f.table(1), f.table(2)

	rec := f.do(http.MethodPatch, "/api/tables/"+t1.ID+"/seat", map[string]int{"headCount": 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	seat := decodeInto[map[string]any](t, rec)
	assert.Equal(t, "immediate", seat["mode"])
	assert.Equal(t, robot.ID, seat["robot"].(map[string]any)["id"])

	rec = f.do(http.MethodPatch, "/api/tables/"+t2.ID+"/seat", map[string]int{"headCount": 2})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	body := decodeInto[map[string]any](t, rec)
	busy, ok := body["busyRobot"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ava", busy["name"])
	assert.Contains(t, body["error"], "busy")
	assert.Equal(t, "busy", body["seat"].(map[string]any)["mode"])
}

func TestOrderLifecycle(t *testing.T) {
	f := newAPI(t, "")
	robot := f.robot("Ava")
	tbl := f.table(7)

	rec := f.do(http.MethodPut, "/api/menu-items/soup", map[string]any{"name": "Soup", "price": 4.5, "isAvailable": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Equal(t, http.StatusOK, f.do(http.MethodPatch, "/api/tables/"+tbl.ID+"/seat", map[string]int{"headCount": 2}).Code)

	rec = f.do(http.MethodGet, "/api/tables/"+tbl.ID+"/order", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	order := decodeInto[model.Order](t, rec)
	assert.Equal(t, model.OrderPending, order.Status)
	assert.Equal(t, robot.ID, order.WaiterID)

	rec = f.do(http.MethodPatch, "/api/orders/"+order.ID, map[string]any{"action": "add", "menuItem": "soup", "quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order = decodeInto[model.Order](t, rec)
	assert.InDelta(t, 9.0, order.TotalPrice, 1e-9)

	// sending before submit is not allowed
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPatch, "/api/orders/"+order.ID+"/send", nil).Code)

	rec = f.do(http.MethodPatch, "/api/orders/"+order.ID, map[string]any{"action": "submit"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPatch, "/api/orders/"+order.ID+"/send", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sent := decodeInto[dispatch.SendResult](t, rec)
	assert.Equal(t, model.OrderInProgress, sent.Order.Status)
	assert.Equal(t, model.ActionServing, sent.Robot.Action)

	rec = f.do(http.MethodPatch, "/api/orders/"+order.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.OrderCompleted, decodeInto[model.Order](t, rec).Status)

	rec = f.do(http.MethodGet, "/api/orders?tableId="+tbl.ID+"&status=Completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeInto[[]model.Order](t, rec), 1)

	rec = f.do(http.MethodPatch, "/api/tables/"+tbl.ID+"/leave", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	left := decodeInto[map[string]any](t, rec)
	assert.Equal(t, false, left["table"].(map[string]any)["isOccupied"])

	got := decodeInto[model.Robot](t, f.do(http.MethodGet, "/api/robots/"+robot.ID, nil))
	assert.Equal(t, model.ActionAwaitingInstruction, got.Action)

	rec = f.do(http.MethodGet, "/api/robots/"+robot.ID+"/history?tableId="+tbl.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeInto[[]model.HistoryEntry](t, rec))
}

func TestRobotEndpoints(t *testing.T) {
	f := newAPI(t, "")
	robot := f.robot("Bo")

	rec := f.do(http.MethodPatch, "/api/robots/"+robot.ID+"/action", map[string]string{"action": "charging"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.ActionCharging, decodeInto[model.Robot](t, rec).Action)

	rec = f.do(http.MethodPatch, "/api/robots/"+robot.ID+"/telemetry", map[string]any{
		"battery":  map[string]float64{"percentage": 42},
		"pose":     map[string]float64{"x": 1, "y": 2},
		"velocity": map[string]float64{"linearX": 0.3},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeInto[model.Robot](t, rec)
	assert.InDelta(t, 42.0, got.BatteryLevel, 1e-9)
	require.NotNil(t, got.Telemetry)
	require.NotNil(t, got.Telemetry.Pose)
	assert.Equal(t, 2.0, got.Telemetry.Pose.Y)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPatch, "/api/robots/"+robot.ID+"/action", map[string]string{"action": "dancing"}).Code)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/robots/"+robot.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/robots/"+robot.ID, nil).Code)
}

func TestTelemetryHistoryEndpoint(t *testing.T) {
	f := newAPI(t, "")
	robot := f.robot("Cy")
	for _, pct := range []float64{42, 55} {
		rec := f.do(http.MethodPatch, "/api/robots/"+robot.ID+"/telemetry", map[string]any{
			"battery": map[string]float64{"percentage": pct},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	base := "/api/robots/" + robot.ID + "/telemetry"

	rec := f.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	recs := decodeInto[[]model.TelemetryRecord](t, rec)
	require.Len(t, recs, 2)
	assert.Equal(t, robot.ID, recs[0].RobotID)
	require.NotNil(t, recs[0].Battery)
	assert.InDelta(t, 55.0, *recs[0].Battery, 1e-9)

	rec = f.do(http.MethodGet, base+"?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeInto[[]model.TelemetryRecord](t, rec), 1)

	rec = f.do(http.MethodGet, base+"?from=2999-01-01T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeInto[[]model.TelemetryRecord](t, rec))

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, base+"?from=yesterday", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, base+"?from=2025-02-01T00:00:00Z&to=2025-01-01T00:00:00Z", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/robots/nope/telemetry", nil).Code)
}

func TestBadRequests(t *testing.T) {
	f := newAPI(t, "")
	tbl := f.table(3)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"zero head count", http.MethodPatch, "/api/tables/" + tbl.ID + "/seat", map[string]int{"headCount": 0}, http.StatusBadRequest},
		{"unknown table", http.MethodPatch, "/api/tables/missing/seat", map[string]int{"headCount": 2}, http.StatusNotFound},
		{"duplicate number", http.MethodPost, "/api/tables", map[string]int{"tableNumber": 3}, http.StatusConflict},
		{"invalid status filter", http.MethodGet, "/api/orders?status=Lost", nil, http.StatusBadRequest},
		{"negative limit", http.MethodGet, "/api/tables/" + tbl.ID + "/history?limit=-1", nil, http.StatusBadRequest},
		{"negative price", http.MethodPut, "/api/menu-items/x", map[string]any{"price": -1}, http.StatusBadRequest},
		{"unknown order", http.MethodGet, "/api/orders/nope", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

// The create body uses the same key as the table it returns.
func TestCreateTableBody(t *testing.T) {
	f := newAPI(t, "")
	tbl := f.table(12)
	assert.Equal(t, 12, tbl.Number)

	rec := f.do(http.MethodGet, "/api/tables/"+tbl.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.EqualValues(t, 12, raw["tableNumber"])

	rec = f.do(http.MethodPost, "/api/tables", map[string]int{"number": 13})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusOf(&model.BusyError{}))
	assert.Equal(t, http.StatusConflict, statusOf(model.ErrVersionConflict))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(model.ErrConfiguration))
	assert.Equal(t, http.StatusConflict, statusOf(model.ErrInvalidTransition))
	assert.Equal(t, http.StatusTeapot, statusOf(echo.NewHTTPError(http.StatusTeapot)))
	assert.Equal(t, http.StatusInternalServerError, statusOf(assert.AnError))
}
