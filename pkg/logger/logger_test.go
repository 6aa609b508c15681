package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	l, err := New("debug", "fxtrader-test")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.NotNil(t, InfoLogger)
	assert.NotPanics(t, func() { Info("started %d", 1) })

	l, err = New("warn", "fxtrader-test")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = New("loud", "fxtrader-test")
	assert.Error(t, err)
}
