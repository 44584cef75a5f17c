package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockBackend struct {
	Addr string
	TTL  int
}

type lockConf struct {
	Addr  string `json:"addr"`
	TTLMS int    `json:"ttl_ms"`
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*lockBackend]()
	require.NoError(t, reg.Register("redis", func(conf map[string]any) (*lockBackend, error) {
		var c lockConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &lockBackend{Addr: c.Addr, TTL: c.TTLMS}, nil
	}))
	inst, err := reg.Create(ModuleConfig{Type: "redis", Conf: map[string]any{"addr": "redis:6379", "ttl_ms": "1500"}})
	require.NoError(t, err)
	assert.Equal(t, "redis:6379", inst.Addr)
	assert.Equal(t, 1500, inst.TTL, "string values are converted")
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	require.NoError(t, reg.Register("memory", func(map[string]any) (int, error) { return 1, nil }))
	assert.Error(t, reg.Register("memory", func(map[string]any) (int, error) { return 2, nil }))
	assert.Error(t, reg.Register("nil", nil))

	_, err := reg.Create(ModuleConfig{Type: "etcd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory")
	assert.Equal(t, []string{"memory"}, reg.Types())
}
