package model

import "time"

// Table is a physical restaurant table.
type Table struct {
	ID        string    `json:"id"`
	Number    int       `json:"tableNumber"`
	HeadCount *int      `json:"headCount"`
	Occupied  bool      `json:"isOccupied"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Seat marks the table occupied by headCount guests.
func (t *Table) Seat(headCount int) {
	hc := headCount
	t.HeadCount = &hc
	t.Occupied = true
}

// Clear frees the table. A free table never carries a head count.
func (t *Table) Clear() {
	t.HeadCount = nil
	t.Occupied = false
}
