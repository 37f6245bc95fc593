package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	log, err := New("warn", "production")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	log, err = New("debug", "production")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = New("info", "dev")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New("loud", "production")
	assert.Error(t, err)
}

type syncBuffer struct {
	bytes.Buffer
	synced int
}

func (b *syncBuffer) Sync() error {
	b.synced++
	return nil
}

func bufferedLogger(t *testing.T, out *syncBuffer) *zap.Logger {
	ws := &zapcore.BufferedWriteSyncer{WS: out}
	t.Cleanup(func() { _ = ws.Stop() })
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), ws, zapcore.InfoLevel)
	return zap.New(core)
}

func TestFinish_FlushesFailure(t *testing.T) {
	var out syncBuffer
	log := bufferedLogger(t, &out)

	code := Finish(log, "order api stopped", errors.New("listen: address in use"))
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "order api stopped")
	assert.Contains(t, out.String(), "address in use")
	assert.Equal(t, 1, out.synced)
}

func TestFinish_CleanExit(t *testing.T) {
	var out syncBuffer
	log := bufferedLogger(t, &out)
	log.Info("projector stopped")

	assert.Equal(t, 0, Finish(log, "projector stopped", nil))
	assert.Contains(t, out.String(), "projector stopped")
	assert.Equal(t, 1, out.synced)
}
