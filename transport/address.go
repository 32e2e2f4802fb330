// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package transport holds the addressing rules shared by the messenger and
// transport implementations: rdma URIs, port shifting and bind fallback.
package transport

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/momentics/hioload-xmsgr/api"
)

// Scheme prefixes every transport URI.
const Scheme = "rdma://"

func hostPart(a api.EntityAddr) (string, error) {
	switch a.Family {
	case api.FamilyInet:
		return a.IP.Unmap().String(), nil
	case api.FamilyInet6:
		return "[" + a.IP.String() + "]", nil
	default:
		return "", api.NewError(api.ErrCodeUnsupportedAddressFamily, "no transport uri for address family").
			WithContext("family", a.Family.String())
	}
}

// HostURI returns rdma://host with no port.
func HostURI(a api.EntityAddr) (string, error) {
	h, err := hostPart(a)
	if err != nil {
		return "", err
	}
	return Scheme + h, nil
}

// URI returns rdma://host:port; a zero port is left out.
func URI(a api.EntityAddr) (string, error) {
	h, err := hostPart(a)
	if err != nil {
		return "", err
	}
	if a.Port == 0 {
		return Scheme + h, nil
	}
	return Scheme + h + ":" + strconv.Itoa(int(a.Port)), nil
}

// ParseURI splits an rdma URI into host and port. The port is zero when
// the URI carries none.
func ParseURI(uri string) (netip.AddrPort, error) {
	rest, ok := strings.CutPrefix(uri, Scheme)
	if !ok {
		return netip.AddrPort{}, api.NewError(api.ErrCodeInvalidArgument, "not an rdma uri").
			WithContext("uri", uri)
	}
	if ap, err := netip.ParseAddrPort(rest); err == nil {
		return ap, nil
	}
	host := strings.TrimSuffix(strings.TrimPrefix(rest, "["), "]")
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, api.NewError(api.ErrCodeInvalidArgument, "bad rdma uri host").
			WithContext("uri", uri).WithCause(err)
	}
	return netip.AddrPortFrom(ip, 0), nil
}

// ShiftPort adds shift to port, failing outside the port range.
func ShiftPort(port uint16, shift int) (uint16, error) {
	p := int(port) + shift
	if p < 0 || p > 65535 {
		return 0, api.NewError(api.ErrCodeInvalidArgument, "shifted port out of range").
			WithContext("port", port).WithContext("shift", shift)
	}
	return uint16(p), nil
}

// UnshiftPort reverses ShiftPort.
func UnshiftPort(port uint16, shift int) (uint16, error) {
	return ShiftPort(port, -shift)
}

// ParseAddr parses host:port into an EntityAddr with the given nonce.
func ParseAddr(s string, nonce uint32) (api.EntityAddr, error) {
	ap, err := netip.ParseAddrPort(strings.TrimSpace(s))
	if err != nil {
		return api.EntityAddr{}, api.NewError(api.ErrCodeInvalidArgument, "bad address").
			WithContext("addr", s).WithCause(err)
	}
	return api.AddrFromAddrPort(ap, nonce), nil
}

// BindAddr applies the rdma-local fallback: a blank host is replaced by
// rdmaLocal, keeping the port. It reports whether the substitution ran.
// A blank host with an empty rdmaLocal is returned unchanged.
func BindAddr(a api.EntityAddr, rdmaLocal string) (api.EntityAddr, bool, error) {
	if !a.IsBlankIP() || rdmaLocal == "" {
		return a, false, nil
	}
	ip, err := netip.ParseAddr(strings.TrimSpace(rdmaLocal))
	if err != nil {
		return a, false, api.NewError(api.ErrCodeInvalidArgument, "cannot parse rdma local address").
			WithContext("rdma_local", rdmaLocal).WithCause(err)
	}
	local := api.AddrFromAddrPort(netip.AddrPortFrom(ip, a.Port), a.Nonce)
	return local, true, nil
}
