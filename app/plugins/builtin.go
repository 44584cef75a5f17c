// Package plugins links every built-in backend into the binary. Each
// backend registers its factory from init; importing this package is
// enough to make store, lock and metrics types available to the config.
package plugins

import (
	"github.com/kilianp07/tablebot/core/dispatch"
	coremetrics "github.com/kilianp07/tablebot/core/metrics"
	corestore "github.com/kilianp07/tablebot/core/store"

	// registered backends
	_ "github.com/kilianp07/tablebot/infra/lock"
	_ "github.com/kilianp07/tablebot/infra/metrics"
	_ "github.com/kilianp07/tablebot/infra/store"
)

// Builtins returns the registered type names per pluggable component.
func Builtins() map[string][]string {
	return map[string][]string{
		"store":   corestore.StoreTypes(),
		"lock":    dispatch.LockManagerTypes(),
		"metrics": coremetrics.MetricsSinkTypes(),
	}
}
