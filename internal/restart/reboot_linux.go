//go:build linux

package restart

import "golang.org/x/sys/unix"

func rebootSystem() error {
	unix.Sync()
	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}
