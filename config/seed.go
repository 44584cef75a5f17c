package config

import (
	"fmt"
	"strings"

	"github.com/kilianp07/tablebot/core/model"
)

// SeedRobot is a robot created at startup when no robot with that name
// exists.
type SeedRobot struct {
	Name    string   `json:"name"`
	Action  string   `json:"action"`
	Battery *float64 `json:"battery"`
}

// SeedConfig lists the floor plan, fleet and menu to create on first start.
type SeedConfig struct {
	Tables    []int            `json:"tables"`
	Robots    []SeedRobot      `json:"robots"`
	MenuItems []model.MenuItem `json:"menu_items"`
}

// Empty reports whether nothing is to be seeded.
func (c SeedConfig) Empty() bool {
	return len(c.Tables) == 0 && len(c.Robots) == 0 && len(c.MenuItems) == 0
}

func (c SeedConfig) Validate() error {
	seen := make(map[int]bool, len(c.Tables))
	for _, n := range c.Tables {
		if n < 1 {
			return fmt.Errorf("table number %d must be at least 1", n)
		}
		if seen[n] {
			return fmt.Errorf("table number %d listed twice", n)
		}
		seen[n] = true
	}
	for i, r := range c.Robots {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("robot %d has no name", i)
		}
		if r.Action != "" {
			if _, err := model.ParseRobotAction(r.Action); err != nil {
				return err
			}
		}
	}
	for _, m := range c.MenuItems {
		if m.ID == "" {
			return fmt.Errorf("menu item %q has no id", m.Name)
		}
	}
	return nil
}
