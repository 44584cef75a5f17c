// Package factory provides a small generic registry used to instantiate modules
// from configuration. Modules are defined by a type string and a map of raw
// settings. Factories decode the settings into typed structs and return the
// concrete implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[store.Store]()
//	reg.Register("sqlite", func(conf map[string]any) (store.Store, error) {
//	    var c struct{ DSN string `json:"dsn"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return sqlstore.Open("sqlite", c.DSN)
//	})
//	r, err := reg.Create(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"dsn": "file:tablebot.db"}})
package factory
