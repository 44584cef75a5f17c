// Package history maintains the per-robot activity timeline.
//
// Each robot owns exactly one open interval once it exists. Transitions
// close the open interval and start the next one inside the caller's
// transaction, so no other transaction ever observes zero or two open
// entries for the same robot.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/core/store"
)

// Ledger writes history entries through a store transaction.
type Ledger struct {
	now   func() time.Time
	newID func() string
}

// NewLedger returns a Ledger stamping entries with now. A nil now uses
// time.Now.
func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now, newID: uuid.NewString}
}

// Begin opens the first interval of a robot. It refuses to create a second
// open interval.
func (l *Ledger) Begin(ctx context.Context, tx store.Tx, robotID string, action model.RobotAction, tableID, orderID string) (model.HistoryEntry, error) {
	if _, err := tx.OpenHistory(ctx, robotID); err == nil {
		return model.HistoryEntry{}, fmt.Errorf("robot %s already has an open interval: %w", robotID, model.ErrConflict)
	} else if !errors.Is(err, model.ErrNotFound) {
		return model.HistoryEntry{}, err
	}
	entry := model.HistoryEntry{
		ID:        l.newID(),
		RobotID:   robotID,
		Action:    action,
		TableID:   tableID,
		OrderID:   orderID,
		StartedAt: l.now().UTC(),
	}
	if err := tx.InsertHistory(ctx, entry); err != nil {
		return model.HistoryEntry{}, fmt.Errorf("insert history: %w", err)
	}
	return entry, nil
}

// End closes the robot's open interval. It returns false when none was
// open.
func (l *Ledger) End(ctx context.Context, tx store.Tx, robotID string) (bool, error) {
	open, err := tx.OpenHistory(ctx, robotID)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := tx.CloseHistory(ctx, open.ID, l.now().UTC()); err != nil {
		return false, fmt.Errorf("close history: %w", err)
	}
	return true, nil
}

// Transition closes the open interval and opens a new one.
func (l *Ledger) Transition(ctx context.Context, tx store.Tx, robotID string, action model.RobotAction, tableID, orderID string) (model.HistoryEntry, error) {
	if _, err := l.End(ctx, tx, robotID); err != nil {
		return model.HistoryEntry{}, err
	}
	return l.Begin(ctx, tx, robotID, action, tableID, orderID)
}

// Current returns the robot's open interval.
func (l *Ledger) Current(ctx context.Context, tx store.Tx, robotID string) (model.HistoryEntry, error) {
	return tx.OpenHistory(ctx, robotID)
}
