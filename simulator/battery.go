package main

import (
	"sync"
	"time"
)

// Battery models a robot battery as a percentage. It charges while the
// robot is docked and drains faster while it moves.
type Battery struct {
	Percentage float64 // [0,100]
	ChargeRate float64 // percent per minute while charging
	DrainRate  float64 // percent per minute while working
	mu         sync.Mutex
}

// idleFactor scales DrainRate for a robot awaiting instruction.
const idleFactor = 0.1

// Step advances the battery by dt for a robot performing action and
// returns the new percentage.
func (b *Battery) Step(action string, dt time.Duration) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	mins := dt.Minutes()
	if mins <= 0 {
		return b.Percentage
	}
	switch action {
	case "charging":
		b.Percentage += b.ChargeRate * mins
	case "awaiting instruction", "":
		b.Percentage -= b.DrainRate * idleFactor * mins
	default:
		b.Percentage -= b.DrainRate * mins
	}
	if b.Percentage < 0 {
		b.Percentage = 0
	}
	if b.Percentage > 100 {
		b.Percentage = 100
	}
	return b.Percentage
}

// Level returns the current percentage.
func (b *Battery) Level() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Percentage
}
