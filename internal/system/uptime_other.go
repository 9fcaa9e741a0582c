//go:build !linux && !windows && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package system

import "time"

func uptime() (time.Duration, error) {
	return 0, ErrUnsupportedPlatform
}
