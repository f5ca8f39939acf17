package adapter

import (
	"io"
	"os/exec"
	"testing"

	"github.com/fansqz/go-debug-mediator/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProcessConnCloseReleasesLogs 关闭连接时同时关闭转发日志的 writer
func TestProcessConnCloseReleasesLogs(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat is not available")
	}
	conn, err := spawnStdio(config.AdapterConfig{Command: "cat"})
	require.Nil(t, err)
	require.Len(t, conn.logs, 1)

	assert.Nil(t, conn.Close())
	for _, l := range conn.logs {
		w, ok := l.(io.Writer)
		require.True(t, ok)
		_, err = w.Write([]byte("late output\n"))
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	}
}
