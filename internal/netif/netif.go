// v2
// internal/netif/netif.go
// Package netif resolves the (interface name, IPv4) pair recorded in the
// producer lock row.
package netif

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoIPv4 reports a host whose candidate interface carries no IPv4 address.
var ErrNoIPv4 = errors.New("netif: ipv6 not supported for producer lock info")

// Iface is one enumerated interface with a single address.
type Iface struct {
	Name string
	IP   net.IP
}

// Resolve picks the interface to advertise. With a configured name it must be
// an IPv4-carrying interface of that name; otherwise the interface whose IPv4
// equals the host's default local IP wins.
func Resolve(ifname string) (string, string, error) {
	ifaces, err := enumerate()
	if err != nil {
		return "", "", err
	}
	defaultIP, err := defaultLocalIP()
	if err != nil && ifname == "" {
		return "", "", err
	}
	return Pick(ifaces, ifname, defaultIP)
}

// Pick applies the selection rule to an already-enumerated interface list.
func Pick(ifaces []Iface, ifname string, defaultIP net.IP) (string, string, error) {
	if ifname != "" {
		for _, it := range ifaces {
			if it.Name == ifname && it.IP.To4() != nil {
				return it.Name, it.IP.String(), nil
			}
		}
		return "", "", fmt.Errorf("netif: no interface named %s with an ipv4 address", ifname)
	}
	if defaultIP == nil || defaultIP.To4() == nil {
		return "", "", ErrNoIPv4
	}
	for _, it := range ifaces {
		if it.IP.Equal(defaultIP) {
			return it.Name, it.IP.String(), nil
		}
	}
	return "", "", fmt.Errorf("netif: no interface matching ip %s", defaultIP)
}

func enumerate() ([]Iface, error) {
	nis, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []Iface
	for _, ni := range nis {
		addrs, err := ni.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch a := addr.(type) {
			case *net.IPNet:
				ip = a.IP
			case *net.IPAddr:
				ip = a.IP
			}
			if ip == nil {
				continue
			}
			out = append(out, Iface{Name: ni.Name, IP: ip})
		}
	}
	return out, nil
}

// defaultLocalIP learns the host's default outbound address without sending
// any traffic: the UDP socket is connected, never written to.
func defaultLocalIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:53")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	la, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, errors.New("netif: unexpected local address type")
	}
	return la.IP, nil
}
