//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package log

func isTerminalFd(fd uintptr) bool {
	return false
}
