package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestSeedThenList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "store:\n  type: sqlite\n  conf:\n    dsn: " + filepath.Join(dir, "tb.db") + "\n" +
		"seed:\n  tables: [1, 2]\n  robots:\n    - name: Ava\n    - name: Bo\n      action: charging\n      battery: 15\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	execute(t, "seed", "-c", path)
	out := execute(t, "robots", "ls", "-c", path)
	assert.Contains(t, out, "Ava")
	assert.Contains(t, out, "charging")
	assert.Contains(t, out, "15%")
}

func TestPluginsCommand(t *testing.T) {
	out := execute(t, "plugins")
	assert.Contains(t, out, "store: memory, postgres, sqlite")
	assert.Contains(t, out, "lock: memory, redis")
}
