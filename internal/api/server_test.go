package api

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenAndServeBindsGivenAddr(t *testing.T) {
	// Occupy a port so binding the same addr fails fast.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := NewServer(&Handlers{})
	err = s.ListenAndServe(ln.Addr().String())
	require.Error(t, err)
	assert.Equal(t, ln.Addr().String(), s.server.Addr)
}
