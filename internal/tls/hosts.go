package tls

import (
	"net"
	"os"
	"slices"
)

// Hosts is the reachable identity a certificate is issued for.
type Hosts struct {
	DNSNames []string
	IPs      []net.IP
}

// DetectHosts returns loopback names and addresses, the machine hostname and
// the primary LAN address when one is found.
func DetectHosts() Hosts {
	h := Hosts{
		DNSNames: []string{"localhost"},
		IPs:      []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	if name, err := os.Hostname(); err == nil && name != "" && name != "localhost" {
		h.DNSNames = append(h.DNSNames, name)
	}
	if ip := LANAddress(); ip != nil {
		h.IPs = append(h.IPs, ip)
	}
	return h
}

// CommonName is the hostname when known, else localhost.
func (h Hosts) CommonName() string {
	if len(h.DNSNames) > 1 {
		return h.DNSNames[1]
	}
	return "localhost"
}

func (h Hosts) IPStrings() []string {
	out := make([]string, 0, len(h.IPs))
	for _, ip := range h.IPs {
		out = append(out, ip.String())
	}
	return out
}

// Addresses returns every name and address a client may use, loopback first.
func (h Hosts) Addresses() []string {
	out := make([]string, 0, len(h.DNSNames)+len(h.IPs))
	for _, n := range h.DNSNames {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	for _, ip := range h.IPs {
		if ip.IsLoopback() {
			continue
		}
		if s := ip.String(); !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// LANAddress returns the first private, non-loopback IPv4 address of an
// interface that is up, or nil.
func LANAddress() net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipn.IP.To4(); ip4 != nil && ip4.IsPrivate() {
				return ip4
			}
		}
	}
	return nil
}
