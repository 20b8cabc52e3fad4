package logger_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/logger"
)

func TestSetup_WritesJSONWithComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	require.NoError(t, logger.Setup(logger.LogConfig{Level: "debug", Format: "json", Output: path}))

	log := logger.WithComponent("drawer")
	log.Debug().Str("branch_id", "br-1").Msg("reconciled")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "drawer", entry["component"])
	assert.Equal(t, "br-1", entry["branch_id"])
	assert.Equal(t, "debug", entry["level"])
}

func TestSetup_RejectsUnknownLevel(t *testing.T) {
	assert.Error(t, logger.Setup(logger.LogConfig{Level: "loud"}))
}
