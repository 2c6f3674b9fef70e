package worker

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// usingUDP/usingIPv6/maybeDisableIPv6/maybeDisableUdp are grounded on the
// teacher's disable.go: once a transport proves unreachable at the OS
// level, stop offering it rather than retrying it on every subsequent
// exchange.

func (t *Transport) usingUDP() (yes bool) {
	t.mu.RLock()
	yes = t.useUDP
	t.mu.RUnlock()
	return
}

func (t *Transport) usingIPv6() (yes bool) {
	t.mu.RLock()
	yes = t.useIPv6
	t.mu.RUnlock()
	return
}

func (t *Transport) maybeDisableIPv6(err error) (disabled bool) {
	if err == nil {
		return false
	}
	errstr := err.Error()
	if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) ||
		strings.Contains(errstr, "network is unreachable") || strings.Contains(errstr, "no route to host") {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.useIPv6 {
			disabled = true
			t.useIPv6 = false
			t.Log.Warn().Err(err).Msg("disabling ipv6 transport")
		}
	}
	return
}

func (t *Transport) maybeDisableUDP(err error) (disabled bool) {
	var ne net.Error
	if errors.As(err, &ne) && !ne.Timeout() {
		errstr := err.Error()
		if errors.Is(err, syscall.ENOSYS) || errors.Is(err, syscall.EPROTONOSUPPORT) || strings.Contains(errstr, "network not implemented") {
			t.mu.Lock()
			defer t.mu.Unlock()
			disabled = t.useUDP
			if disabled {
				t.useUDP = false
				t.Log.Warn().Err(err).Msg("disabling udp transport")
			}
		}
	}
	return
}
