package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/tablebot/core/factory"
	"github.com/kilianp07/tablebot/core/model"
)

// DefaultLockWait bounds how long one key is waited for before Acquire
// gives up with model.ErrLocked.
const DefaultLockWait = 5 * time.Second

// LockKind orders lock acquisition: tables before robots before orders.
type LockKind int

const (
	LockTable LockKind = iota
	LockRobot
	LockOrder
)

func (k LockKind) String() string {
	switch k {
	case LockTable:
		return "table"
	case LockRobot:
		return "robot"
	default:
		return "order"
	}
}

// LockKey names one record lock.
type LockKey struct {
	Kind LockKind
	ID   string
}

func (k LockKey) String() string { return k.Kind.String() + "/" + k.ID }

func TableKey(id string) LockKey { return LockKey{Kind: LockTable, ID: id} }
func RobotKey(id string) LockKey { return LockKey{Kind: LockRobot, ID: id} }
func OrderKey(id string) LockKey { return LockKey{Kind: LockOrder, ID: id} }

// LockManager grants exclusive access to records. Acquire blocks until every
// key is held, a key stays busy past the backend's wait (model.ErrLocked) or
// ctx is done; the returned release frees all of them.
// Callers that already hold keys may only acquire keys of a higher kind.
type LockManager interface {
	Acquire(ctx context.Context, keys ...LockKey) (release func(), err error)
}

// SortKeys returns keys deduplicated and in acquisition order.
func SortKeys(keys []LockKey) []LockKey {
	out := make([]LockKey, 0, len(keys))
	seen := make(map[LockKey]struct{}, len(keys))
	for _, k := range keys {
		if k.ID == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// MemoryLocks is a process local LockManager.
type MemoryLocks struct {
	mu    sync.Mutex
	locks map[LockKey]*keyLock
	wait  time.Duration
}

// NewMemoryLocks returns an empty MemoryLocks waiting DefaultLockWait per key.
func NewMemoryLocks() *MemoryLocks {
	return NewMemoryLocksWithWait(DefaultLockWait)
}

// NewMemoryLocksWithWait returns an empty MemoryLocks waiting at most wait
// per key. A non-positive wait selects DefaultLockWait.
func NewMemoryLocksWithWait(wait time.Duration) *MemoryLocks {
	if wait <= 0 {
		wait = DefaultLockWait
	}
	return &MemoryLocks{locks: make(map[LockKey]*keyLock), wait: wait}
}

func (m *MemoryLocks) Acquire(ctx context.Context, keys ...LockKey) (func(), error) {
	sorted := SortKeys(keys)
	held := make([]LockKey, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.unlock(held[i])
		}
	}
	for _, k := range sorted {
		if err := m.lock(ctx, k); err != nil {
			release()
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		held = append(held, k)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (m *MemoryLocks) lock(ctx context.Context, k LockKey) error {
	m.mu.Lock()
	kl, ok := m.locks[k]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[k] = kl
	}
	kl.refs++
	m.mu.Unlock()

	timer := time.NewTimer(m.wait)
	defer timer.Stop()
	select {
	case kl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.giveUp(k, kl)
		return ctx.Err()
	case <-timer.C:
		m.giveUp(k, kl)
		return model.ErrLocked
	}
}

func (m *MemoryLocks) giveUp(k LockKey, kl *keyLock) {
	m.mu.Lock()
	m.deref(k, kl)
	m.mu.Unlock()
}

func (m *MemoryLocks) unlock(k LockKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl, ok := m.locks[k]
	if !ok {
		return
	}
	<-kl.ch
	m.deref(k, kl)
}

func (m *MemoryLocks) deref(k LockKey, kl *keyLock) {
	kl.refs--
	if kl.refs == 0 {
		delete(m.locks, k)
	}
}

var lockRegistry = factory.NewRegistry[LockManager]()

func init() {
	_ = RegisterLockManager("memory", func(conf map[string]any) (LockManager, error) {
		var c struct {
			WaitMS int `json:"wait_ms"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewMemoryLocksWithWait(time.Duration(c.WaitMS) * time.Millisecond), nil
	})
}

// RegisterLockManager adds a lock backend identified by name.
func RegisterLockManager(name string, f factory.Factory[LockManager]) error {
	return lockRegistry.Register(name, f)
}

// NewLockManager creates the configured lock backend. An empty type selects
// process local locks.
func NewLockManager(cfg factory.ModuleConfig) (LockManager, error) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	return lockRegistry.Create(cfg)
}

// LockManagerTypes lists the registered lock backends.
func LockManagerTypes() []string { return lockRegistry.Types() }
