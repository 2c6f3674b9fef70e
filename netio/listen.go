// Package netio implements the network/endpoints component from
// spec.md §4.6: listening UDP/TCP sockets the resolver accepts client
// queries on. Grounded on the teacher's service.go dial pattern for the
// outbound side; the listening side has no teacher analogue (the
// teacher is a client-only library), so it is grounded on
// original_source/daemon/network.c's bind/listen/backlog shape and
// written in the idiomatic Go net package style net/http's server uses.
package netio

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// TCPBacklog is the listen(2) backlog spec.md §4.6 specifies.
const TCPBacklog = 16

// DatagramSize, multiplied by the Manager's batch and by 2, gives the
// minimum socket buffer size spec.md §4.6 calls for: batch x 65535 x 2.
const DatagramSize = 65535

// Endpoint is one bound address: its UDP packet connection and/or TCP
// listener, per spec.md §4.6 "allocate one endpoint with UDP/TCP
// handles per requested flag".
type Endpoint struct {
	Addr string
	Port uint16
	UDP  net.PacketConn
	TCP  net.Listener
}

// Flags selects which handles Listen allocates for an address.
type Flags struct {
	UDP bool
	TCP bool
}

// Manager owns the set of bound endpoints, bucketed by address:port key
// (spec.md §4.6 "address bucket").
type Manager struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
	batch     int
}

// NewManager returns an empty Manager. batch sizes the negotiated
// socket buffers (spec.md §4.6 "batch x 65535 x 2"); 1 is a reasonable
// default for a resolver that isn't doing recvmmsg-style batched reads.
func NewManager(batch int) *Manager {
	if batch < 1 {
		batch = 1
	}
	return &Manager{endpoints: make(map[string]*Endpoint), batch: batch}
}

func key(addr string, port uint16) string { return fmt.Sprintf("%s#%d", addr, port) }

// Listen binds addr:port per flags, setting SO_REUSEADDR (and, for IPv6
// addresses, IPV6_ONLY) via a net.ListenConfig.Control hook, and starts
// the TCP listener's backlog at TCPBacklog.
func (m *Manager) Listen(ctx context.Context, addr string, port uint16, flags Flags) (*Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(addr, port)
	if ep, ok := m.endpoints[k]; ok {
		return ep, nil
	}

	lc := net.ListenConfig{Control: m.control}
	ep := &Endpoint{Addr: addr, Port: port}
	hostPort := net.JoinHostPort(addr, fmt.Sprint(port))

	if flags.UDP {
		pc, err := lc.ListenPacket(ctx, "udp", hostPort)
		if err != nil {
			return nil, err
		}
		m.setBuffers(pc)
		ep.UDP = pc
	}
	if flags.TCP {
		ln, err := lc.Listen(ctx, "tcp", hostPort)
		if err != nil {
			if ep.UDP != nil {
				ep.UDP.Close()
			}
			return nil, err
		}
		// net.ListenConfig listens with the OS default backlog; calling
		// listen(2) again on the bound socket resets it to TCPBacklog.
		if tl, ok := ln.(*net.TCPListener); ok {
			if rc, rerr := tl.SyscallConn(); rerr == nil {
				_ = rc.Control(func(fd uintptr) { _ = unix.Listen(int(fd), TCPBacklog) })
			}
		}
		ep.TCP = ln
	}

	m.endpoints[k] = ep
	return ep, nil
}

// control implements SO_REUSEADDR unconditionally and IPV6_ONLY for
// "tcp6"/"udp6" networks, per spec.md §4.6.
func (m *Manager) control(network, address string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); e != nil {
			ctrlErr = e
			return
		}
		if strings.HasSuffix(network, "6") {
			if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); e != nil {
				ctrlErr = e
			}
		}
	})
	if err != nil {
		return err
	}
	return ctrlErr
}

func (m *Manager) setBuffers(pc net.PacketConn) {
	size := m.batch * DatagramSize * 2
	type buffered interface {
		SetReadBuffer(int) error
		SetWriteBuffer(int) error
	}
	if b, ok := pc.(buffered); ok {
		_ = b.SetReadBuffer(size)
		_ = b.SetWriteBuffer(size)
	}
}

// Close unbinds the endpoint at addr:port, removing it from the bucket.
func (m *Manager) Close(addr string, port uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(addr, port)
	ep, ok := m.endpoints[k]
	if !ok {
		return nil
	}
	delete(m.endpoints, k)
	return ep.close()
}

func (e *Endpoint) close() error {
	var err error
	if e.UDP != nil {
		if cerr := e.UDP.Close(); cerr != nil {
			err = cerr
		}
	}
	if e.TCP != nil {
		if cerr := e.TCP.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}

// Deinit closes every endpoint and empties the bucket map.
func (m *Manager) Deinit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	for k, ep := range m.endpoints {
		if cerr := ep.close(); cerr != nil {
			err = cerr
		}
		delete(m.endpoints, k)
	}
	return err
}
