package api

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	require.Equal(t, KindNone, Classify(nil))
	require.Equal(t, KindWouldBlock, Classify(syscall.EAGAIN))
	require.Equal(t, KindWouldBlock, Classify(syscall.EWOULDBLOCK))
	require.Equal(t, KindTransientIO, Classify(syscall.ECONNRESET))
	require.Equal(t, KindTransientIO, Classify(syscall.EPIPE))
	require.Equal(t, KindConnectFailure, Classify(syscall.ECONNREFUSED))
	require.Equal(t, KindConnectFailure, Classify(syscall.ETIMEDOUT))
	require.Equal(t, KindRegistrationFailure, Classify(ErrRegistrationFailed))
	require.Equal(t, KindTransientIO, Classify(fmt.Errorf("some unrecognized failure")))
}

func TestErrorKindString(t *testing.T) {
	require.Equal(t, "would-block", KindWouldBlock.String())
	require.Equal(t, "peer-eof", KindPeerEOF.String())
	require.Equal(t, "none", KindNone.String())
}
