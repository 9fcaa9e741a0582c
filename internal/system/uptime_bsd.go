//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package system

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

func uptime() (time.Duration, error) {
	tv, err := unix.SysctlTimeval("kern.boottime")
	if err != nil {
		return 0, fmt.Errorf("failed to read kern.boottime: %w", err)
	}
	boot := time.Unix(tv.Unix())
	return time.Since(boot), nil
}
