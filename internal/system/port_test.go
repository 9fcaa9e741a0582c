package system

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	prober := TCPProber{}
	open, err := prober.Probe(context.Background(), "127.0.0.1", port, time.Second)
	require.NoError(t, err)
	assert.True(t, open)

	require.NoError(t, ln.Close())
	open, err = prober.Probe(context.Background(), "127.0.0.1", port, 200*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, open)

	_, err = prober.Probe(context.Background(), "", 70000, time.Second)
	assert.Error(t, err)
}
