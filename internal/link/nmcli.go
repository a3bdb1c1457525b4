package link

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// statusTimeout bounds the nmcli call behind IsConnected.
const statusTimeout = 2 * time.Second

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NMCLI associates through NetworkManager's command line client.
type NMCLI struct {
	iface string
	run   CommandRunner
}

// NewNMCLI creates an associator for the given wireless interface.
func NewNMCLI(iface string, run CommandRunner) *NMCLI {
	if run == nil {
		run = ExecRunner
	}
	return &NMCLI{iface: iface, run: run}
}

// Activate turns the Wi-Fi radio on.
func (n *NMCLI) Activate(ctx context.Context) error {
	if out, err := n.run(ctx, "nmcli", "radio", "wifi", "on"); err != nil {
		return fmt.Errorf("nmcli radio wifi on: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Associate makes one connection attempt to ssid.
func (n *NMCLI) Associate(ctx context.Context, ssid, password string) error {
	args := []string{"device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	args = append(args, "ifname", n.iface)

	if out, err := n.run(ctx, "nmcli", args...); err != nil {
		return fmt.Errorf("nmcli connect %q: %w (%s)", ssid, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// IsConnected reports whether NetworkManager lists the interface as connected.
func (n *NMCLI) IsConnected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	out, err := n.run(ctx, "nmcli", "-t", "-f", "DEVICE,STATE", "device")
	if err != nil {
		return false
	}
	return deviceConnected(out, n.iface)
}

// deviceConnected parses terse nmcli output ("wlan0:connected" per line).
func deviceConnected(out []byte, iface string) bool {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		dev, state, ok := strings.Cut(sc.Text(), ":")
		if ok && dev == iface {
			return state == "connected"
		}
	}
	return false
}
