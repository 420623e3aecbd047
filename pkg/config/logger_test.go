package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level   string
		wantErr bool
	}{
		{"", false},
		{"debug", false},
		{"warn", false},
		{"verbose", true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(&Config{LogLevel: tt.level})
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid log level")
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestNewLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arb.log")
	logger, err := NewLogger(&Config{LogLevel: "info", LogFile: path, LogFileMaxSizeMB: 1})
	require.NoError(t, err)

	logger.Info("cycle-closed")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"cycle-closed"`)
	assert.Contains(t, string(data), `"timestamp"`)
}
