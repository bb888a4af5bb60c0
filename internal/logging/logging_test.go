package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tcases := []struct {
		level    string
		expected zapcore.Level
		err      bool
	}{
		{level: "debug", expected: zap.DebugLevel},
		{level: "INFO", expected: zap.InfoLevel},
		{level: "", expected: zap.InfoLevel},
		{level: "warning", expected: zap.WarnLevel},
		{level: "error", expected: zap.ErrorLevel},
		{level: "verbose", expected: zap.InfoLevel, err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.level, func(t *testing.T) {
			lvl, err := ParseLevel(tc.level)
			if tc.err {
				assert.Error(t, err, "expected error for level %q", tc.level)
			} else {
				assert.NoError(t, err, "expected no error for level %q", tc.level)
			}
			assert.Equal(t, tc.expected, lvl)
		})
	}
}

func TestNew(t *testing.T) {
	logger, err := New("debug")
	assert.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel), "expected debug to be enabled")

	logger, err = New("warn")
	assert.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel), "expected info to be disabled at warn")

	_, err = New("loud")
	assert.Error(t, err)
}
