// File: api/addr.go
// Author: momentics <momentics@gmail.com>
//
// Peer address model shared by the messenger and transport implementations.

package api

import (
	"fmt"
	"net/netip"
	"strconv"
)

// AddrFamily identifies the socket address family of an EntityAddr.
type AddrFamily int

const (
	FamilyUnspec AddrFamily = iota
	FamilyInet
	FamilyInet6
	FamilyUnix
)

func (f AddrFamily) String() string {
	switch f {
	case FamilyInet:
		return "inet"
	case FamilyInet6:
		return "inet6"
	case FamilyUnix:
		return "unix"
	default:
		return "unspec"
	}
}

// EntityAddr is the logical network address of a messenger instance.
type EntityAddr struct {
	Family AddrFamily
	IP     netip.Addr
	Port   uint16
	Nonce  uint32
	Path   string // unix sockets only
}

// AddrFromAddrPort builds an EntityAddr from an ip:port pair.
func AddrFromAddrPort(ap netip.AddrPort, nonce uint32) EntityAddr {
	ip := ap.Addr().Unmap()
	fam := FamilyInet
	if ip.Is6() {
		fam = FamilyInet6
	}
	return EntityAddr{Family: fam, IP: ip, Port: ap.Port(), Nonce: nonce}
}

// IsBlankIP reports whether the address has no usable host part.
func (a EntityAddr) IsBlankIP() bool {
	return !a.IP.IsValid() || a.IP.IsUnspecified()
}

// WithPort returns a copy with the port replaced.
func (a EntityAddr) WithPort(port uint16) EntityAddr {
	a.Port = port
	return a
}

// Key is the peer index key: family, host, port and nonce.
func (a EntityAddr) Key() string {
	return a.String() + "/" + strconv.FormatUint(uint64(a.Nonce), 10)
}

func (a EntityAddr) String() string {
	switch a.Family {
	case FamilyInet, FamilyInet6:
		return netip.AddrPortFrom(a.IP, a.Port).String()
	case FamilyUnix:
		return "unix:" + a.Path
	default:
		return fmt.Sprintf("-:%d", a.Port)
	}
}

// EntityName names a messenger endpoint, e.g. osd.3.
type EntityName struct {
	Type string
	Num  int64
}

func (n EntityName) String() string {
	return n.Type + "." + strconv.FormatInt(n.Num, 10)
}

// EntityInst pairs a name with its address.
type EntityInst struct {
	Name EntityName
	Addr EntityAddr
}
