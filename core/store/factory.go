package store

import "github.com/kilianp07/tablebot/core/factory"

var storeRegistry = factory.NewRegistry[Store]()

func init() {
	_ = RegisterStore("memory", func(map[string]any) (Store, error) {
		return NewMemoryStore(), nil
	})
}

// RegisterStore adds a store backend identified by name.
func RegisterStore(name string, f factory.Factory[Store]) error {
	return storeRegistry.Register(name, f)
}

// NewStore creates the configured store. An empty type selects "memory".
func NewStore(cfg factory.ModuleConfig) (Store, error) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	return storeRegistry.Create(cfg)
}

// StoreTypes lists the registered backends.
func StoreTypes() []string { return storeRegistry.Types() }
