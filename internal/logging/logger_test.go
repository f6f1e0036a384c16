package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewFormats(t *testing.T) {
	l, err := New(Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.True(t, l.Desugar().Core().Enabled(zapcore.DebugLevel))

	l, err = New(Config{})
	require.NoError(t, err)
	require.False(t, l.Desugar().Core().Enabled(zapcore.DebugLevel))

	_, err = New(Config{Format: "xml"})
	require.Error(t, err)
	_, err = New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestObservedAndNop(t *testing.T) {
	l, logs := TestObserved(t, zapcore.WarnLevel)
	l.Named("v2sync").Errorw("sync failed", "dataset", "abc")
	l.Infow("ignored")
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "sync failed", entry.Message)
	require.Equal(t, "abc", entry.ContextMap()["dataset"])

	require.NotNil(t, OrNop(nil))
	Nop().Infow("discarded")
	Test(t).Debugw("visible in -v")
}
