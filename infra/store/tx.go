package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/tablebot/core/model"
)

var errReadOnly = errors.New("store: write in read-only transaction")

type sqlTx struct {
	tx       *sql.Tx
	d        dialect
	writable bool
}

func (t *sqlTx) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	if !t.writable {
		return nil, errReadOnly
	}
	return t.tx.ExecContext(ctx, t.d.rebind(q), args...)
}

func (t *sqlTx) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.d.rebind(q), args...)
}

func (t *sqlTx) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.d.rebind(q), args...)
}

// insert maps unique violations to model.ErrConflict.
func (t *sqlTx) insert(ctx context.Context, what string, q string, args ...any) error {
	if _, err := t.exec(ctx, q, args...); err != nil {
		if t.d.isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", what, model.ErrConflict)
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// update runs a version-checked UPDATE. Zero affected rows means the row is
// missing or was changed since it was read.
func (t *sqlTx) update(ctx context.Context, table, id, what string, q string, args ...any) error {
	res, err := t.exec(ctx, q, args...)
	if err != nil {
		if t.d.isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", what, model.ErrConflict)
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	exists, err := t.exists(ctx, table, id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s: %w", what, model.ErrVersionConflict)
	}
	return fmt.Errorf("%s: %w", what, model.ErrNotFound)
}

func (t *sqlTx) exists(ctx context.Context, table, id string) (bool, error) {
	var one int
	err := t.queryRow(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return err
}

// Tables

const tableCols = "id, number, head_count, occupied, version, updated_at"

func scanTable(s scanner) (model.Table, error) {
	var (
		tb      model.Table
		hc      sql.NullInt64
		updated int64
	)
	if err := s.Scan(&tb.ID, &tb.Number, &hc, &tb.Occupied, &tb.Version, &updated); err != nil {
		return model.Table{}, err
	}
	if hc.Valid {
		v := int(hc.Int64)
		tb.HeadCount = &v
	}
	tb.UpdatedAt = fromNanos(updated)
	return tb, nil
}

func headCount(tb *model.Table) sql.NullInt64 {
	if tb.HeadCount == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*tb.HeadCount), Valid: true}
}

func (t *sqlTx) GetTable(ctx context.Context, id string) (model.Table, error) {
	tb, err := scanTable(t.queryRow(ctx, "SELECT "+tableCols+" FROM dining_tables WHERE id = ?", id))
	if err != nil {
		return model.Table{}, notFound(err, "table "+id)
	}
	return tb, nil
}

func (t *sqlTx) ListTables(ctx context.Context) ([]model.Table, error) {
	rows, err := t.query(ctx, "SELECT "+tableCols+" FROM dining_tables ORDER BY number")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]model.Table, 0)
	for rows.Next() {
		tb, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, tb)
	}
	return res, rows.Err()
}

func (t *sqlTx) CreateTable(ctx context.Context, tb *model.Table) error {
	err := t.insert(ctx, fmt.Sprintf("table %d", tb.Number),
		"INSERT INTO dining_tables ("+tableCols+") VALUES (?, ?, ?, ?, ?, ?)",
		tb.ID, tb.Number, headCount(tb), tb.Occupied, int64(1), nanos(tb.UpdatedAt))
	if err != nil {
		return err
	}
	tb.Version = 1
	return nil
}

func (t *sqlTx) UpdateTable(ctx context.Context, tb *model.Table) error {
	err := t.update(ctx, "dining_tables", tb.ID, "table "+tb.ID,
		"UPDATE dining_tables SET number = ?, head_count = ?, occupied = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?",
		tb.Number, headCount(tb), tb.Occupied, tb.Version+1, nanos(tb.UpdatedAt), tb.ID, tb.Version)
	if err != nil {
		return err
	}
	tb.Version++
	return nil
}

// Robots

const robotCols = "id, name, action, battery, pending_table, pending_order, telemetry, version, created_at, updated_at"

func scanRobot(s scanner) (model.Robot, error) {
	var (
		r                model.Robot
		pTable, pOrder   string
		tel              sql.NullString
		created, updated int64
	)
	if err := s.Scan(&r.ID, &r.Name, &r.Action, &r.BatteryLevel, &pTable, &pOrder, &tel, &r.Version, &created, &updated); err != nil {
		return model.Robot{}, err
	}
	if pOrder != "" || pTable != "" {
		r.Pending = &model.Assignment{TableID: pTable, OrderID: pOrder}
	}
	if tel.Valid && tel.String != "" {
		var tm model.Telemetry
		if err := json.Unmarshal([]byte(tel.String), &tm); err != nil {
			return model.Robot{}, fmt.Errorf("robot %s telemetry: %w", r.ID, err)
		}
		r.Telemetry = &tm
	}
	r.CreatedAt = fromNanos(created)
	r.UpdatedAt = fromNanos(updated)
	return r, nil
}

func robotArgs(r *model.Robot) (pTable, pOrder string, tel sql.NullString, err error) {
	if r.Pending != nil {
		pTable, pOrder = r.Pending.TableID, r.Pending.OrderID
	}
	if r.Telemetry != nil {
		b, err := json.Marshal(r.Telemetry)
		if err != nil {
			return "", "", tel, err
		}
		tel = sql.NullString{String: string(b), Valid: true}
	}
	return pTable, pOrder, tel, nil
}

func (t *sqlTx) GetRobot(ctx context.Context, id string) (model.Robot, error) {
	r, err := scanRobot(t.queryRow(ctx, "SELECT "+robotCols+" FROM robots WHERE id = ?", id))
	if err != nil {
		return model.Robot{}, notFound(err, "robot "+id)
	}
	return r, nil
}

func (t *sqlTx) ListRobots(ctx context.Context) ([]model.Robot, error) {
	rows, err := t.query(ctx, "SELECT "+robotCols+" FROM robots ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]model.Robot, 0)
	for rows.Next() {
		r, err := scanRobot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func (t *sqlTx) CreateRobot(ctx context.Context, r *model.Robot) error {
	pTable, pOrder, tel, err := robotArgs(r)
	if err != nil {
		return err
	}
	err = t.insert(ctx, fmt.Sprintf("robot %q", r.Name),
		"INSERT INTO robots ("+robotCols+", name_key) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.Name, int(r.Action), r.BatteryLevel, pTable, pOrder, tel, int64(1), nanos(r.CreatedAt), nanos(r.UpdatedAt), strings.ToLower(r.Name))
	if err != nil {
		return err
	}
	r.Version = 1
	return nil
}

func (t *sqlTx) UpdateRobot(ctx context.Context, r *model.Robot) error {
	pTable, pOrder, tel, err := robotArgs(r)
	if err != nil {
		return err
	}
	err = t.update(ctx, "robots", r.ID, "robot "+r.ID,
		`UPDATE robots SET name = ?, name_key = ?, action = ?, battery = ?, pending_table = ?, pending_order = ?,
			telemetry = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?`,
		r.Name, strings.ToLower(r.Name), int(r.Action), r.BatteryLevel, pTable, pOrder,
		tel, r.Version+1, nanos(r.UpdatedAt), r.ID, r.Version)
	if err != nil {
		return err
	}
	r.Version++
	return nil
}

func (t *sqlTx) DeleteRobot(ctx context.Context, id string) error {
	res, err := t.exec(ctx, "DELETE FROM robots WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("robot %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// Orders

const orderCols = "id, table_id, waiter_id, menu_id, items, status, total, placed_at, completed_at, version, updated_at"

func scanOrder(s scanner) (model.Order, error) {
	var (
		o               model.Order
		items           string
		placed, updated int64
		completed       sql.NullInt64
	)
	if err := s.Scan(&o.ID, &o.TableID, &o.WaiterID, &o.MenuID, &items, &o.Status, &o.TotalPrice, &placed, &completed, &o.Version, &updated); err != nil {
		return model.Order{}, err
	}
	o.Items = []model.LineItem{}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return model.Order{}, fmt.Errorf("order %s items: %w", o.ID, err)
	}
	o.PlacedAt = fromNanos(placed)
	o.CompletedAt = timePtr(completed)
	o.UpdatedAt = fromNanos(updated)
	return o, nil
}

func itemsJSON(items []model.LineItem) (string, error) {
	if items == nil {
		items = []model.LineItem{}
	}
	b, err := json.Marshal(items)
	return string(b), err
}

func (t *sqlTx) GetOrder(ctx context.Context, id string) (model.Order, error) {
	o, err := scanOrder(t.queryRow(ctx, "SELECT "+orderCols+" FROM orders WHERE id = ?", id))
	if err != nil {
		return model.Order{}, notFound(err, "order "+id)
	}
	return o, nil
}

func (t *sqlTx) ActiveOrder(ctx context.Context, tableID string) (model.Order, error) {
	o, err := scanOrder(t.queryRow(ctx,
		"SELECT "+orderCols+" FROM orders WHERE table_id = ? AND status <> ? ORDER BY placed_at DESC LIMIT 1",
		tableID, int(model.OrderArchived)))
	if err != nil {
		return model.Order{}, notFound(err, "active order for table "+tableID)
	}
	return o, nil
}

func (t *sqlTx) ListOrders(ctx context.Context, q model.OrderQuery) ([]model.Order, error) {
	query := "SELECT " + orderCols + " FROM orders WHERE 1 = 1"
	var args []any
	if q.TableID != "" {
		query += " AND table_id = ?"
		args = append(args, q.TableID)
	}
	if q.Status != nil {
		query += " AND status = ?"
		args = append(args, int(*q.Status))
	}
	query += " ORDER BY placed_at DESC"
	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]model.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (t *sqlTx) CreateOrder(ctx context.Context, o *model.Order) error {
	items, err := itemsJSON(o.Items)
	if err != nil {
		return err
	}
	err = t.insert(ctx, "order "+o.ID,
		"INSERT INTO orders ("+orderCols+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		o.ID, o.TableID, o.WaiterID, o.MenuID, items, int(o.Status), o.TotalPrice,
		nanos(o.PlacedAt), nullNanos(o.CompletedAt), int64(1), nanos(o.UpdatedAt))
	if err != nil {
		return err
	}
	o.Version = 1
	return nil
}

func (t *sqlTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	items, err := itemsJSON(o.Items)
	if err != nil {
		return err
	}
	err = t.update(ctx, "orders", o.ID, "order "+o.ID,
		`UPDATE orders SET table_id = ?, waiter_id = ?, menu_id = ?, items = ?, status = ?, total = ?,
			placed_at = ?, completed_at = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?`,
		o.TableID, o.WaiterID, o.MenuID, items, int(o.Status), o.TotalPrice,
		nanos(o.PlacedAt), nullNanos(o.CompletedAt), o.Version+1, nanos(o.UpdatedAt), o.ID, o.Version)
	if err != nil {
		return err
	}
	o.Version++
	return nil
}

// History

const historyCols = "id, robot_id, action, table_id, order_id, started_at, ended_at"

func scanHistory(s scanner) (model.HistoryEntry, error) {
	var (
		h       model.HistoryEntry
		started int64
		ended   sql.NullInt64
	)
	if err := s.Scan(&h.ID, &h.RobotID, &h.Action, &h.TableID, &h.OrderID, &started, &ended); err != nil {
		return model.HistoryEntry{}, err
	}
	h.StartedAt = fromNanos(started)
	h.EndedAt = timePtr(ended)
	return h, nil
}

func (t *sqlTx) OpenHistory(ctx context.Context, robotID string) (model.HistoryEntry, error) {
	h, err := scanHistory(t.queryRow(ctx,
		"SELECT "+historyCols+" FROM robot_history WHERE robot_id = ? AND ended_at IS NULL", robotID))
	if err != nil {
		return model.HistoryEntry{}, notFound(err, "open history for robot "+robotID)
	}
	return h, nil
}

func (t *sqlTx) InsertHistory(ctx context.Context, h model.HistoryEntry) error {
	return t.insert(ctx, "history for robot "+h.RobotID,
		"INSERT INTO robot_history ("+historyCols+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		h.ID, h.RobotID, int(h.Action), h.TableID, h.OrderID, nanos(h.StartedAt), nullNanos(h.EndedAt))
}

func (t *sqlTx) CloseHistory(ctx context.Context, id string, endedAt time.Time) error {
	res, err := t.exec(ctx, "UPDATE robot_history SET ended_at = ? WHERE id = ? AND ended_at IS NULL", nanos(endedAt), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	exists, err := t.exists(ctx, "robot_history", id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("history %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (t *sqlTx) ListHistory(ctx context.Context, q model.HistoryQuery) ([]model.HistoryEntry, error) {
	query := "SELECT " + historyCols + " FROM robot_history WHERE 1 = 1"
	var args []any
	if q.RobotID != "" {
		query += " AND robot_id = ?"
		args = append(args, q.RobotID)
	}
	if q.TableID != "" {
		query += " AND table_id = ?"
		args = append(args, q.TableID)
	}
	query += " ORDER BY started_at DESC, seq DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]model.HistoryEntry, 0)
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// Telemetry

func (t *sqlTx) AppendTelemetry(ctx context.Context, rec model.TelemetryRecord, keep int) error {
	body, err := json.Marshal(rec.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry for robot %s: %w", rec.RobotID, err)
	}
	if _, err := t.exec(ctx, "INSERT INTO robot_telemetry (robot_id, reported_at, body) VALUES (?, ?, ?)",
		rec.RobotID, nanos(rec.ReportedAt), string(body)); err != nil {
		return fmt.Errorf("telemetry for robot %s: %w", rec.RobotID, err)
	}
	if keep <= 0 {
		return nil
	}
	_, err = t.exec(ctx, `DELETE FROM robot_telemetry WHERE robot_id = ? AND seq NOT IN (
		SELECT seq FROM robot_telemetry WHERE robot_id = ? ORDER BY seq DESC LIMIT ?)`,
		rec.RobotID, rec.RobotID, keep)
	return err
}

func (t *sqlTx) ListTelemetry(ctx context.Context, q model.TelemetryQuery) ([]model.TelemetryRecord, error) {
	query := "SELECT robot_id, body FROM robot_telemetry WHERE 1 = 1"
	var args []any
	if q.RobotID != "" {
		query += " AND robot_id = ?"
		args = append(args, q.RobotID)
	}
	if !q.From.IsZero() {
		query += " AND reported_at >= ?"
		args = append(args, nanos(q.From))
	}
	if !q.To.IsZero() {
		query += " AND reported_at <= ?"
		args = append(args, nanos(q.To))
	}
	query += " ORDER BY reported_at DESC, seq DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make([]model.TelemetryRecord, 0)
	for rows.Next() {
		var (
			rec  model.TelemetryRecord
			body string
		)
		if err := rows.Scan(&rec.RobotID, &body); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &rec.Telemetry); err != nil {
			return nil, fmt.Errorf("telemetry for robot %s: %w", rec.RobotID, err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Menu

func (t *sqlTx) GetMenuItem(ctx context.Context, id string) (model.MenuItem, error) {
	var m model.MenuItem
	err := t.queryRow(ctx, "SELECT id, name, price, available FROM menu_items WHERE id = ?", id).
		Scan(&m.ID, &m.Name, &m.Price, &m.Available)
	if err != nil {
		return model.MenuItem{}, notFound(err, "menu item "+id)
	}
	return m, nil
}

func (t *sqlTx) PutMenuItem(ctx context.Context, m model.MenuItem) error {
	_, err := t.exec(ctx,
		`INSERT INTO menu_items (id, name, price, available) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, price = excluded.price, available = excluded.available`,
		m.ID, m.Name, m.Price, m.Available)
	return err
}
