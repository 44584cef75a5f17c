package store

import (
	"context"
	"time"

	"github.com/kilianp07/tablebot/core/factory"
	corestore "github.com/kilianp07/tablebot/core/store"
)

const openTimeout = 15 * time.Second

func init() {
	_ = corestore.RegisterStore("sqlite", func(conf map[string]any) (corestore.Store, error) {
		return openFrom(conf, OpenSQLite)
	})
	_ = corestore.RegisterStore("postgres", func(conf map[string]any) (corestore.Store, error) {
		return openFrom(conf, OpenPostgres)
	})
}

func openFrom(conf map[string]any, openFn func(context.Context, Config) (*SQLStore, error)) (corestore.Store, error) {
	var c Config
	if err := factory.Decode(conf, &c); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	return openFn(ctx, c)
}
