package p2p

import (
	"errors"
	"fmt"
	"net"

	"github.com/canopy-network/layercast/lib"
)

// isClosedErr() returns true if the error came from using a closed socket
func isClosedErr(err error) bool { return errors.Is(err, net.ErrClosed) }

func ErrFailedRead(err error) lib.ErrorI {
	return lib.NewError(lib.CodeFailedRead, lib.P2PModule, fmt.Sprintf("read() failed with err: %s", err.Error()))
}

func ErrFailedWrite(err error) lib.ErrorI {
	return lib.NewError(lib.CodeFailedWrite, lib.P2PModule, fmt.Sprintf("write() failed with err: %s", err.Error()))
}

func ErrFailedListen(err error) lib.ErrorI {
	return lib.NewError(lib.CodeFailedListen, lib.P2PModule, fmt.Sprintf("listen() failed with err: %s", err.Error()))
}

func ErrUnknownPeer(addr net.Addr) lib.ErrorI {
	return lib.NewError(lib.CodeUnknownPeer, lib.P2PModule, fmt.Sprintf("datagram from unknown peer %s", addr))
}

func ErrUnknownSender(claimed, source lib.ProcessID) lib.ErrorI {
	return lib.NewError(lib.CodeUnknownSender, lib.P2PModule, fmt.Sprintf("frame claims sender %d but came from %d", claimed, source))
}

func ErrLinkStopped() lib.ErrorI {
	return lib.NewError(lib.CodeLinkStopped, lib.P2PModule, "link stopped")
}

func ErrUnexpectedAck(seq int32, from lib.ProcessID) lib.ErrorI {
	return lib.NewError(lib.CodeUnexpectedAck, lib.P2PModule, fmt.Sprintf("unexpected ack for seq %d from %d", seq, from))
}

func ErrSendToSelf() lib.ErrorI {
	return lib.NewError(lib.CodeSendToSelf, lib.P2PModule, "cannot send to self")
}
