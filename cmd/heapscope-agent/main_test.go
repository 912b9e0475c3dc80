package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ntqbit/allocation-catcher/internal/xlog"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, xlog.LevelDebug, parseLevel("debug"))
	require.Equal(t, xlog.LevelWarn, parseLevel("warn"))
	require.Equal(t, xlog.LevelInfo, parseLevel("unknown"))
	require.Equal(t, xlog.LevelInfo, parseLevel(""))
}
