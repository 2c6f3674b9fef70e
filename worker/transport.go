// Package worker implements the task engine from spec.md §4.5: per-task
// datagram/stream I/O, retransmission, timeout, leader/follower
// deduplication, and memory pool recycling. It is grounded on the
// teacher's query.go (exchangeWithNetwork/dialDNSConn) and service.go
// (the usable/addrPort/deadline helpers), generalized from methods on a
// single *Service into a standalone Transport any caller can share.
package worker

import (
	"context"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"
)

// Transport owns the dialer and per-OS-error transport toggles used to
// exchange wire messages with upstream nameservers.
type Transport struct {
	proxy.ContextDialer
	Port    uint16
	Timeout time.Duration
	Log     zerolog.Logger

	mu      sync.RWMutex
	useIPv4 bool
	useIPv6 bool
	useUDP  bool
}

func NewTransport(dialer proxy.ContextDialer, port uint16, timeout time.Duration, log zerolog.Logger) *Transport {
	return &Transport{
		ContextDialer: dialer,
		Port:          port,
		Timeout:       timeout,
		Log:           log,
		useIPv4:       true,
		useIPv6:       true,
		useUDP:        true,
	}
}

func (t *Transport) usable(network string, addr netip.Addr) bool {
	ok := strings.HasPrefix(network, "tcp") || t.usingUDP()
	return ok && (addr.Is4() || t.usingIPv6())
}

func (t *Transport) deadline(ctx context.Context) time.Time {
	var deadline time.Time
	if ctx != nil {
		if d, ok := ctx.Deadline(); ok {
			deadline = d
		}
	}
	if t.Timeout > 0 {
		limit := time.Now().Add(t.Timeout)
		if deadline.IsZero() || limit.Before(deadline) {
			deadline = limit
		}
	}
	return deadline
}

// ExchangeOne sends m to addr over network ("udp" or "tcp") and returns
// the response, updating the transport's reachability toggles on OS-level
// transport errors.
func (t *Transport) ExchangeOne(ctx context.Context, network string, m *dns.Msg, addr netip.Addr) (*dns.Msg, time.Duration, error) {
	if !t.usable(network, addr) {
		return nil, 0, errTransportDisabled
	}
	dnsConn, err := t.dial(ctx, network, addr)
	if err != nil {
		if strings.HasPrefix(network, "udp") {
			t.maybeDisableUDP(err)
		}
		if addr.Is6() {
			t.maybeDisableIPv6(err)
		}
		return nil, 0, err
	}
	defer dnsConn.Close()

	if deadline := t.deadline(ctx); !deadline.IsZero() {
		_ = dnsConn.SetDeadline(deadline)
	}

	start := time.Now()
	if err := dnsConn.WriteMsg(m); err != nil {
		return nil, time.Since(start), err
	}
	resp, err := dnsConn.ReadMsg()
	return resp, time.Since(start), err
}

func (t *Transport) dial(ctx context.Context, network string, addr netip.Addr) (*dns.Conn, error) {
	addrPort := netip.AddrPortFrom(addr, t.Port)
	rawConn, err := t.DialContext(ctx, network, addrPort.String())
	if err != nil {
		return nil, err
	}
	dnsConn := &dns.Conn{Conn: rawConn}
	if strings.HasPrefix(network, "udp") {
		dnsConn.UDPSize = dns.DefaultMsgSize
	}
	return dnsConn, nil
}

var errTransportDisabled = &disabledError{}

type disabledError struct{}

func (*disabledError) Error() string { return "worker: transport disabled for this address family" }
