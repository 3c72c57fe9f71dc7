package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStructured_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.log")

	log := NewStructured("info", "json", path).
		WithFields(map[string]interface{}{"service": "loan-catalog"}).
		Named("scheduler")
	log.Debug("hidden", nil)
	log.WithError(errors.New("provider down")).Warn("job failed", map[string]interface{}{
		"job":     "apiRefresh",
		"skipped": nil,
	})
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.NotContains(t, out, "hidden")
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(out), "\n")+1)
	assert.Contains(t, out, `"msg":"job failed"`)
	assert.Contains(t, out, `"logger":"scheduler"`)
	assert.Contains(t, out, `"service":"loan-catalog"`)
	assert.Contains(t, out, `"job":"apiRefresh"`)
	assert.Contains(t, out, `"error":"provider down"`)
	assert.Contains(t, out, `"timestamp"`)
	assert.NotContains(t, out, "skipped")
}

func TestNewStructured_UnknownLevelDefaultsToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.log")

	log := NewStructured("verbose", "json", path)
	log.Debug("debug line", nil)
	log.Info("info line", nil)
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "debug line")
	assert.Contains(t, string(data), "info line")
}

func TestToZapFields_SortedAndTyped(t *testing.T) {
	fields := toZapFields(map[string]interface{}{
		"b":   2,
		"a":   "x",
		"err": errors.New("boom"),
	})

	require.Len(t, fields, 3)
	assert.Equal(t, "a", fields[0].Key)
	assert.Equal(t, "b", fields[1].Key)
	assert.Equal(t, "err", fields[2].Key)
	assert.Nil(t, toZapFields(nil))
}

func TestWithFields_EmptyReturnsSameLogger(t *testing.T) {
	log := NewNoOpLogger()

	assert.Same(t, log, log.WithFields(nil))
	assert.Same(t, log, log.WithError(nil))
}
