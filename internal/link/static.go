package link

import (
	"context"
	"net"
)

// Static observes an interface managed elsewhere (wired Ethernet, or Wi-Fi
// configured by the OS). It never changes the association itself.
type Static struct {
	iface string
}

// NewStatic creates a Static associator for iface.
func NewStatic(iface string) *Static {
	return &Static{iface: iface}
}

// Activate is a no-op.
func (s *Static) Activate(ctx context.Context) error {
	return nil
}

// Associate only reports whether the interface has come up on its own.
func (s *Static) Associate(ctx context.Context, ssid, password string) error {
	if !s.IsConnected() {
		return ErrNotAssociated
	}
	return nil
}

// IsConnected reports whether the interface is up and has an address.
func (s *Static) IsConnected() bool {
	ifi, err := net.InterfaceByName(s.iface)
	if err != nil || ifi.Flags&net.FlagUp == 0 {
		return false
	}
	addrs, err := ifi.Addrs()
	return err == nil && len(addrs) > 0
}

// InterfaceIP returns the first IPv4 address of the named interface, or ""
// if it has none.
func InterfaceIP(name string) string {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return ""
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return ""
}
