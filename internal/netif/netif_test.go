// v1
// internal/netif/netif_test.go
package netif

import (
	"errors"
	"net"
	"testing"
)

var testIfaces = []Iface{
	{Name: "lo", IP: net.ParseIP("127.0.0.1")},
	{Name: "eth0", IP: net.ParseIP("10.0.0.5")},
	{Name: "eth0", IP: net.ParseIP("fe80::1")},
	{Name: "wlan0", IP: net.ParseIP("192.168.1.7")},
}

func TestPickNamedInterface(t *testing.T) {
	t.Parallel()
	name, ip, err := Pick(testIfaces, "eth0", nil)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if name != "eth0" || ip != "10.0.0.5" {
		t.Fatalf("expected eth0/10.0.0.5, got %s/%s", name, ip)
	}
}

func TestPickNamedInterfaceMissing(t *testing.T) {
	t.Parallel()
	if _, _, err := Pick(testIfaces, "eth9", nil); err == nil {
		t.Fatal("expected error for unknown interface")
	}
}

func TestPickNamedInterfaceIPv6Only(t *testing.T) {
	t.Parallel()
	v6Only := []Iface{{Name: "eth0", IP: net.ParseIP("fe80::1")}}
	if _, _, err := Pick(v6Only, "eth0", nil); err == nil {
		t.Fatal("expected error for ipv6-only interface")
	}
}

func TestPickDefaultIP(t *testing.T) {
	t.Parallel()
	name, ip, err := Pick(testIfaces, "", net.ParseIP("192.168.1.7"))
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if name != "wlan0" || ip != "192.168.1.7" {
		t.Fatalf("expected wlan0/192.168.1.7, got %s/%s", name, ip)
	}
}

func TestPickRejectsIPv6Default(t *testing.T) {
	t.Parallel()
	_, _, err := Pick(testIfaces, "", net.ParseIP("fe80::1"))
	if !errors.Is(err, ErrNoIPv4) {
		t.Fatalf("expected ErrNoIPv4, got %v", err)
	}
}

func TestPickDefaultIPUnmatched(t *testing.T) {
	t.Parallel()
	if _, _, err := Pick(testIfaces, "", net.ParseIP("10.9.9.9")); err == nil {
		t.Fatal("expected error when no interface matches the default ip")
	}
}
