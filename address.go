package znet

import (
	"fmt"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Address is an IPv4 endpoint. IPv6 is out of scope; the runtime speaks
// sockaddr_in only.
type Address struct {
	ip   net.IP
	port uint16
}

// ParseAddress parses "ip:port", requiring an IPv4 address.
func ParseAddress(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, errors.Wrap(err, "znet: parse address")
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return Address{}, fmt.Errorf("znet: %q is not an IPv4 address", host)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, errors.Wrap(err, "znet: parse port")
	}
	return Address{ip: ip.To4(), port: uint16(port)}, nil
}

// NewAddress builds an Address from an already-parsed IPv4 and a port.
func NewAddress(ip net.IP, port uint16) (Address, error) {
	v4 := ip.To4()
	if v4 == nil {
		return Address{}, fmt.Errorf("znet: %v is not an IPv4 address", ip)
	}
	return Address{ip: v4, port: port}, nil
}

// String renders the address as "ip:port".
func (a Address) String() string {
	return net.JoinHostPort(a.ip.String(), strconv.Itoa(int(a.port)))
}

// IP returns the address's IPv4 component.
func (a Address) IP() net.IP { return a.ip }

// Port returns the address's port.
func (a Address) Port() uint16 { return a.port }

// sockaddr builds the unix.Sockaddr raw syscalls need for bind/connect.
func (a Address) sockaddr() unix.Sockaddr {
	var sa unix.SockaddrInet4
	copy(sa.Addr[:], a.ip.To4())
	sa.Port = int(a.port)
	return &sa
}

// addressFromSockaddr converts a syscall-returned address back to an
// Address, used after accept(2)/getpeername(2).
func addressFromSockaddr(sa unix.Sockaddr) (Address, error) {
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return Address{}, fmt.Errorf("znet: non-IPv4 sockaddr")
	}
	ip := make(net.IP, 4)
	copy(ip, in4.Addr[:])
	return Address{ip: ip, port: uint16(in4.Port)}, nil
}
