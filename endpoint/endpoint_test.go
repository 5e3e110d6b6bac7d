package endpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestTCP4String(t *testing.T) {
	e := TCP4{IP: "127.0.0.1", Port: 9000}
	require.Equal(t, "tcp4://127.0.0.1:9000", e.String())
	require.Equal(t, unix.AF_INET, e.Family())

	sa, ok := e.Sockaddr().(*unix.SockaddrInet4)
	require.True(t, ok)
	require.Equal(t, 9000, sa.Port)
	require.Equal(t, [4]byte{127, 0, 0, 1}, sa.Addr)
}

func TestVSockString(t *testing.T) {
	e := VSock{CID: CIDHost, Port: 5201}
	require.Equal(t, "vsock://2:5201", e.String())
	require.Equal(t, unix.AF_VSOCK, e.Family())

	sa, ok := e.Sockaddr().(*unix.SockaddrVM)
	require.True(t, ok)
	require.Equal(t, uint32(CIDHost), sa.CID)
	require.Equal(t, uint32(5201), sa.Port)
}
