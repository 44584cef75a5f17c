package app

import (
	"context"
	"errors"
	"strings"

	"github.com/kilianp07/tablebot/config"
	"github.com/kilianp07/tablebot/core/dispatch"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/infra/logger"
)

// Seeder is the part of the coordinator used to create the initial floor
// plan.
type Seeder interface {
	ListTables(ctx context.Context) ([]model.Table, error)
	CreateTable(ctx context.Context, number int) (model.Table, error)
	ListRobots(ctx context.Context) ([]model.Robot, error)
	CreateRobot(ctx context.Context, in dispatch.NewRobot) (model.Robot, error)
	PutMenuItem(ctx context.Context, m model.MenuItem) error
}

// Seed creates the configured tables and robots that do not exist yet and
// upserts the menu. Running it twice changes nothing.
func Seed(ctx context.Context, c Seeder, cfg config.SeedConfig, log logger.Logger) error {
	if log == nil {
		log = logger.NopLogger{}
	}
	tables, err := c.ListTables(ctx)
	if err != nil {
		return err
	}
	have := make(map[int]bool, len(tables))
	for _, t := range tables {
		have[t.Number] = true
	}
	created := 0
	for _, n := range cfg.Tables {
		if have[n] {
			continue
		}
		if _, err := c.CreateTable(ctx, n); err != nil && !errors.Is(err, model.ErrConflict) {
			return err
		}
		created++
	}

	robots, err := c.ListRobots(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(robots))
	for _, r := range robots {
		names[strings.ToLower(r.Name)] = true
	}
	for _, sr := range cfg.Robots {
		if names[strings.ToLower(sr.Name)] {
			continue
		}
		in := dispatch.NewRobot{Name: sr.Name, Battery: sr.Battery}
		if sr.Action != "" {
			a, err := model.ParseRobotAction(sr.Action)
			if err != nil {
				return err
			}
			in.Action = &a
		}
		if _, err := c.CreateRobot(ctx, in); err != nil && !errors.Is(err, model.ErrConflict) {
			return err
		}
		created++
	}

	for _, m := range cfg.MenuItems {
		if err := c.PutMenuItem(ctx, m); err != nil {
			return err
		}
	}
	log.Infof("seeded %d records and %d menu items", created, len(cfg.MenuItems))
	return nil
}
