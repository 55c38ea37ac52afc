package nlink

import (
	"context"
	"os"

	"github.com/mdlayher/socket"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// socket.c

const NL_SOCK_BUFSIZE = 32768

// NlSock is a netlink socket registered with the runtime network poller, so
// that Close unblocks a pending Receive.
type NlSock struct {
	Local    unix.SockaddrNetlink
	Peer     unix.SockaddrNetlink
	RecvSize int // initial datagram buffer, grown on demand

	conn *socket.Conn
}

func NlSocketAlloc() *NlSock {
	return &NlSock{
		Local: unix.SockaddrNetlink{
			Family: unix.AF_NETLINK,
		},
		Peer: unix.SockaddrNetlink{
			Family: unix.AF_NETLINK,
		},
		RecvSize: NL_SOCK_BUFSIZE,
	}
}

func NlSocketFree(sk *NlSock) {
	if sk.conn != nil {
		sk.conn.Close()
	}
}

// NlConnect opens and binds the socket. A zero Local.Pid lets the kernel pick
// the port id, which is read back into Local.
func NlConnect(sk *NlSock, protocol int) error {
	if sk.conn != nil {
		return NLE_BAD_SOCK
	}
	conn, err := socket.Socket(unix.AF_NETLINK, unix.SOCK_RAW, protocol, "netlink", nil)
	if err != nil {
		return errors.Wrap(err, "socket")
	}
	if err := conn.Bind(&sk.Local); err != nil {
		conn.Close()
		return errors.Wrap(err, "bind")
	}
	if sa, err := conn.Getsockname(); err != nil {
		conn.Close()
		return errors.Wrap(err, "getsockname")
	} else if local, ok := sa.(*unix.SockaddrNetlink); ok {
		sk.Local = *local
	}
	sk.conn = conn
	return nil
}

func NlSocketSetBufferSize(sk *NlSock, rxbuf, txbuf int) error {
	if rxbuf <= 0 {
		rxbuf = NL_SOCK_BUFSIZE
	}
	if txbuf <= 0 {
		txbuf = NL_SOCK_BUFSIZE
	}
	if sk.conn == nil {
		return NLE_BAD_SOCK
	}
	if err := sk.conn.SetsockoptInt(unix.SOL_SOCKET, unix.SO_SNDBUF, txbuf); err != nil {
		return os.NewSyscallError("setsockopt SO_SNDBUF", err)
	}
	if err := sk.conn.SetsockoptInt(unix.SOL_SOCKET, unix.SO_RCVBUF, rxbuf); err != nil {
		return os.NewSyscallError("setsockopt SO_RCVBUF", err)
	}
	return nil
}

// NlSocketSetOption toggles a SOL_NETLINK option such as NETLINK_EXT_ACK.
func NlSocketSetOption(sk *NlSock, option int, on bool) error {
	if sk.conn == nil {
		return NLE_BAD_SOCK
	}
	value := 0
	if on {
		value = 1
	}
	return os.NewSyscallError("setsockopt", sk.conn.SetsockoptInt(unix.SOL_NETLINK, option, value))
}

func (sk *NlSock) Send(b []byte) error {
	if sk.conn == nil {
		return NLE_BAD_SOCK
	}
	return sk.conn.Sendto(context.Background(), b, 0, &sk.Peer)
}

// Receive returns one datagram. The pending datagram is peeked first so that
// the buffer can be grown instead of truncating a large dump chunk.
func (sk *NlSock) Receive() ([]byte, error) {
	if sk.conn == nil {
		return nil, NLE_BAD_SOCK
	}
	size := sk.RecvSize
	if size <= 0 {
		size = NL_SOCK_BUFSIZE
	}
	buf := make([]byte, size)
	n, _, err := sk.conn.Recvfrom(context.Background(), buf, unix.MSG_PEEK|unix.MSG_TRUNC)
	if err != nil {
		return nil, err
	}
	if n > len(buf) {
		buf = make([]byte, NLMSG_ALIGN(n))
	}
	if n, _, err = sk.conn.Recvfrom(context.Background(), buf, 0); err != nil {
		return nil, err
	} else if n > len(buf) {
		return nil, NLE_MSG_TRUNC
	}
	return buf[:n], nil
}

func (sk *NlSock) Close() error {
	if sk.conn == nil {
		return nil
	}
	return sk.conn.Close()
}
