package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kilianp07/tablebot/core/model"
)

var errReadOnly = errors.New("store: write in read-only transaction")

type historyRecord struct {
	entry model.HistoryEntry
	seq   int64
}

type memState struct {
	tables  map[string]model.Table
	robots  map[string]model.Robot
	orders  map[string]model.Order
	history map[string]historyRecord
	open    map[string]string // robot id -> open history id
	menu    map[string]model.MenuItem

	// telemetry logs are oldest first and never appended to in place.
	telemetry map[string][]model.TelemetryRecord
	seq       int64
}

func (s *memState) clone() *memState {
	return &memState{
		tables:  maps.Clone(s.tables),
		robots:  maps.Clone(s.robots),
		orders:  maps.Clone(s.orders),
		history: maps.Clone(s.history),
		open:    maps.Clone(s.open),
		menu:    maps.Clone(s.menu),

		telemetry: maps.Clone(s.telemetry),
		seq:       s.seq,
	}
}

// MemoryStore keeps every record in process memory. Update transactions
// are serialized and applied copy-on-write, so a failed callback leaves no
// trace.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		tables:  map[string]model.Table{},
		robots:  map[string]model.Robot{},
		orders:  map[string]model.Order{},
		history: map[string]historyRecord{},
		open:    map[string]string{},
		menu:    map[string]model.MenuItem{},

		telemetry: map[string][]model.TelemetryRecord{},
	}}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := s.state.clone()
	if err := fn(&memTx{st: staged, writable: true}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{st: s.state})
}

func (s *MemoryStore) Close() error { return nil }

type memTx struct {
	st       *memState
	writable bool
}

func (t *memTx) check() error {
	if !t.writable {
		return errReadOnly
	}
	return nil
}

func (t *memTx) GetTable(_ context.Context, id string) (model.Table, error) {
	tb, ok := t.st.tables[id]
	if !ok {
		return model.Table{}, fmt.Errorf("table %s: %w", id, model.ErrNotFound)
	}
	return tb.Clone(), nil
}

func (t *memTx) ListTables(context.Context) ([]model.Table, error) {
	res := make([]model.Table, 0, len(t.st.tables))
	for _, tb := range t.st.tables {
		res = append(res, tb.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Number < res[j].Number })
	return res, nil
}

func (t *memTx) CreateTable(_ context.Context, tb *model.Table) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.tables[tb.ID]; ok {
		return fmt.Errorf("table %s: %w", tb.ID, model.ErrConflict)
	}
	for _, other := range t.st.tables {
		if other.Number == tb.Number {
			return fmt.Errorf("table number %d already exists: %w", tb.Number, model.ErrConflict)
		}
	}
	tb.Version = 1
	t.st.tables[tb.ID] = tb.Clone()
	return nil
}

func (t *memTx) UpdateTable(_ context.Context, tb *model.Table) error {
	if err := t.check(); err != nil {
		return err
	}
	cur, ok := t.st.tables[tb.ID]
	if !ok {
		return fmt.Errorf("table %s: %w", tb.ID, model.ErrNotFound)
	}
	if cur.Version != tb.Version {
		return fmt.Errorf("table %s: %w", tb.ID, model.ErrVersionConflict)
	}
	tb.Version++
	t.st.tables[tb.ID] = tb.Clone()
	return nil
}

func (t *memTx) GetRobot(_ context.Context, id string) (model.Robot, error) {
	r, ok := t.st.robots[id]
	if !ok {
		return model.Robot{}, fmt.Errorf("robot %s: %w", id, model.ErrNotFound)
	}
	return r.Clone(), nil
}

func (t *memTx) ListRobots(context.Context) ([]model.Robot, error) {
	res := make([]model.Robot, 0, len(t.st.robots))
	for _, r := range t.st.robots {
		res = append(res, r.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (t *memTx) CreateRobot(_ context.Context, r *model.Robot) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.robots[r.ID]; ok {
		return fmt.Errorf("robot %s: %w", r.ID, model.ErrConflict)
	}
	for _, other := range t.st.robots {
		if strings.EqualFold(other.Name, r.Name) {
			return fmt.Errorf("robot name %q already in use: %w", r.Name, model.ErrConflict)
		}
	}
	r.Version = 1
	t.st.robots[r.ID] = r.Clone()
	return nil
}

func (t *memTx) UpdateRobot(_ context.Context, r *model.Robot) error {
	if err := t.check(); err != nil {
		return err
	}
	cur, ok := t.st.robots[r.ID]
	if !ok {
		return fmt.Errorf("robot %s: %w", r.ID, model.ErrNotFound)
	}
	if cur.Version != r.Version {
		return fmt.Errorf("robot %s: %w", r.ID, model.ErrVersionConflict)
	}
	for id, other := range t.st.robots {
		if id != r.ID && strings.EqualFold(other.Name, r.Name) {
			return fmt.Errorf("robot name %q already in use: %w", r.Name, model.ErrConflict)
		}
	}
	r.Version++
	t.st.robots[r.ID] = r.Clone()
	return nil
}

func (t *memTx) DeleteRobot(_ context.Context, id string) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.robots[id]; !ok {
		return fmt.Errorf("robot %s: %w", id, model.ErrNotFound)
	}
	delete(t.st.robots, id)
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id string) (model.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	return o.Clone(), nil
}

func (t *memTx) ActiveOrder(_ context.Context, tableID string) (model.Order, error) {
	var (
		best  model.Order
		found bool
	)
	for _, o := range t.st.orders {
		if o.TableID != tableID || o.Status == model.OrderArchived {
			continue
		}
		if !found || o.PlacedAt.After(best.PlacedAt) {
			best, found = o, true
		}
	}
	if !found {
		return model.Order{}, fmt.Errorf("active order for table %s: %w", tableID, model.ErrNotFound)
	}
	return best.Clone(), nil
}

func (t *memTx) ListOrders(_ context.Context, q model.OrderQuery) ([]model.Order, error) {
	res := make([]model.Order, 0)
	for _, o := range t.st.orders {
		if q.TableID != "" && o.TableID != q.TableID {
			continue
		}
		if q.Status != nil && o.Status != *q.Status {
			continue
		}
		res = append(res, o.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].PlacedAt.After(res[j].PlacedAt) })
	return res, nil
}

func (t *memTx) CreateOrder(_ context.Context, o *model.Order) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.orders[o.ID]; ok {
		return fmt.Errorf("order %s: %w", o.ID, model.ErrConflict)
	}
	o.Version = 1
	t.st.orders[o.ID] = o.Clone()
	return nil
}

func (t *memTx) UpdateOrder(_ context.Context, o *model.Order) error {
	if err := t.check(); err != nil {
		return err
	}
	cur, ok := t.st.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", o.ID, model.ErrNotFound)
	}
	if cur.Version != o.Version {
		return fmt.Errorf("order %s: %w", o.ID, model.ErrVersionConflict)
	}
	o.Version++
	t.st.orders[o.ID] = o.Clone()
	return nil
}

func (t *memTx) OpenHistory(_ context.Context, robotID string) (model.HistoryEntry, error) {
	id, ok := t.st.open[robotID]
	if !ok {
		return model.HistoryEntry{}, fmt.Errorf("open history for robot %s: %w", robotID, model.ErrNotFound)
	}
	return t.st.history[id].entry.Clone(), nil
}

func (t *memTx) InsertHistory(_ context.Context, h model.HistoryEntry) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.st.history[h.ID]; ok {
		return fmt.Errorf("history %s: %w", h.ID, model.ErrConflict)
	}
	if h.Open() {
		if _, ok := t.st.open[h.RobotID]; ok {
			return fmt.Errorf("robot %s already has an open history entry: %w", h.RobotID, model.ErrConflict)
		}
		t.st.open[h.RobotID] = h.ID
	}
	t.st.seq++
	t.st.history[h.ID] = historyRecord{entry: h.Clone(), seq: t.st.seq}
	return nil
}

func (t *memTx) CloseHistory(_ context.Context, id string, endedAt time.Time) error {
	if err := t.check(); err != nil {
		return err
	}
	rec, ok := t.st.history[id]
	if !ok {
		return fmt.Errorf("history %s: %w", id, model.ErrNotFound)
	}
	if !rec.entry.Open() {
		return nil
	}
	end := endedAt
	rec.entry.EndedAt = &end
	t.st.history[id] = rec
	if t.st.open[rec.entry.RobotID] == id {
		delete(t.st.open, rec.entry.RobotID)
	}
	return nil
}

func (t *memTx) ListHistory(_ context.Context, q model.HistoryQuery) ([]model.HistoryEntry, error) {
	recs := make([]historyRecord, 0)
	for _, r := range t.st.history {
		if q.RobotID != "" && r.entry.RobotID != q.RobotID {
			continue
		}
		if q.TableID != "" && r.entry.TableID != q.TableID {
			continue
		}
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].entry.StartedAt.Equal(recs[j].entry.StartedAt) {
			return recs[i].entry.StartedAt.After(recs[j].entry.StartedAt)
		}
		return recs[i].seq > recs[j].seq
	})
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	res := make([]model.HistoryEntry, len(recs))
	for i, r := range recs {
		res[i] = r.entry.Clone()
	}
	return res, nil
}

func (t *memTx) AppendTelemetry(_ context.Context, rec model.TelemetryRecord, keep int) error {
	if err := t.check(); err != nil {
		return err
	}
	cur := t.st.telemetry[rec.RobotID]
	if keep > 0 && len(cur) >= keep {
		cur = cur[len(cur)-keep+1:]
	}
	log := make([]model.TelemetryRecord, len(cur), len(cur)+1)
	copy(log, cur)
	rec.Telemetry = rec.Telemetry.Clone()
	t.st.telemetry[rec.RobotID] = append(log, rec)
	return nil
}

func (t *memTx) ListTelemetry(_ context.Context, q model.TelemetryQuery) ([]model.TelemetryRecord, error) {
	var logs [][]model.TelemetryRecord
	if q.RobotID != "" {
		logs = append(logs, t.st.telemetry[q.RobotID])
	} else {
		for _, l := range t.st.telemetry {
			logs = append(logs, l)
		}
	}
	res := make([]model.TelemetryRecord, 0)
	for _, l := range logs {
		for i := len(l) - 1; i >= 0; i-- {
			if rec := l[i]; q.Match(rec) {
				rec.Telemetry = rec.Telemetry.Clone()
				res = append(res, rec)
			}
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].ReportedAt.After(res[j].ReportedAt) })
	if q.Limit > 0 && len(res) > q.Limit {
		res = res[:q.Limit]
	}
	return res, nil
}

func (t *memTx) GetMenuItem(_ context.Context, id string) (model.MenuItem, error) {
	m, ok := t.st.menu[id]
	if !ok {
		return model.MenuItem{}, fmt.Errorf("menu item %s: %w", id, model.ErrNotFound)
	}
	return m, nil
}

func (t *memTx) PutMenuItem(_ context.Context, m model.MenuItem) error {
	if err := t.check(); err != nil {
		return err
	}
	t.st.menu[m.ID] = m
	return nil
}
