// Package netio provides the narrow socket-adapter interfaces the transport
// core depends on: multicast receiver sockets for Receivers, unicast-bound
// sender sockets for Senders. OS specifics (SO_REUSEADDR, multicast group
// membership, TTL, broadcast) are confined here.
package netio

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// PacketConn is the minimal socket surface the Receiver and Sender need.
// *net.UDPConn satisfies it.
type PacketConn interface {
	ReadFrom(b []byte) (n int, addr net.Addr, err error)
	WriteTo(b []byte, addr net.Addr) (n int, err error)
	Close() error
	LocalAddr() net.Addr
}

// ListenMulticast opens a UDP socket for receiving an AES67 RTP session:
// SO_REUSEADDR set, joined to the multicast group on the named interface
// (empty iface lets the kernel pick), bound to (group, port).
//
// For a unicast session (group is not a multicast address), it binds to
// the session address directly instead.
func ListenMulticast(ifaceName string, group net.IP, port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	if !group.IsMulticast() {
		pc, err := lc.ListenPacket(nil, "udp", fmt.Sprintf("%s:%d", group.String(), port))
		if err != nil {
			return nil, fmt.Errorf("netio: listen unicast: %w", err)
		}
		return pc.(*net.UDPConn), nil
	}

	var iface *net.Interface
	if ifaceName != "" {
		i, err := net.InterfaceByName(ifaceName)
		if err != nil {
			return nil, fmt.Errorf("netio: interface %q: %w", ifaceName, err)
		}
		iface = i
	}

	conn, err := net.ListenMulticastUDP("udp", iface, &net.UDPAddr{IP: group, Port: port})
	if err != nil {
		return nil, fmt.Errorf("netio: listen multicast %s:%d: %w", group, port, err)
	}
	return conn, nil
}

// DialSender opens a UDP socket for transmitting RTP: bound to (ifaceIP, 0),
// with multicast TTL set and SO_BROADCAST enabled for tooling
// compatibility.
func DialSender(ifaceIP net.IP, ttl int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ifaceIP, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("netio: dial sender: %w", err)
	}

	if err := setSockoptConn(conn, func(fd int) error {
		if ttl > 0 {
			if err := unix.SetsockoptByte(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, byte(ttl)); err != nil {
				return err
			}
		}
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("netio: configure sender socket: %w", err)
	}

	return conn, nil
}

func setSockoptConn(conn *net.UDPConn, f func(fd int) error) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var innerErr error
	err = raw.Control(func(fd uintptr) {
		innerErr = f(int(fd))
	})
	if err != nil {
		return err
	}
	return innerErr
}

// MaxRTPPacketBytes is the MTU ceiling enforced on emitted packets.
const MaxRTPPacketBytes = 1500
