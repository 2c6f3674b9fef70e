package roothints

import (
	"context"
	"net/netip"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

type rootRtt struct {
	addr netip.Addr
	rtt  time.Duration
}

func timeRoot(ctx context.Context, dialer proxy.ContextDialer, port uint16, wg *sync.WaitGroup, rt *rootRtt) {
	defer wg.Done()
	const numProbes = 3
	network := "tcp4"
	if rt.addr.Is6() {
		network = "tcp6"
	}
	rt.rtt = time.Hour
	var rtt time.Duration
	for i := 0; i < numProbes; i++ {
		now := time.Now()
		conn, err := dialer.DialContext(ctx, network, netip.AddrPortFrom(rt.addr, port).String())
		if err != nil {
			return
		}
		rtt += time.Since(now)
		_ = conn.Close()
	}
	rt.rtt = rtt / numProbes
}

// Order sorts addrs by measured TCP connect latency through dialer and
// drops any that exceed cutoff, returning the reordered list plus whether
// any IPv4/IPv6 address survived. An empty result (everything timed out)
// leaves the caller's existing list untouched by returning it unchanged.
func Order(ctx context.Context, dialer proxy.ContextDialer, port uint16, addrs []netip.Addr, cutoff time.Duration) (ordered []netip.Addr, useIPv4, useIPv6 bool) {
	if _, ok := ctx.Deadline(); !ok {
		newctx, cancel := context.WithTimeout(ctx, cutoff*2)
		defer cancel()
		ctx = newctx
	}
	var l []*rootRtt
	var wg sync.WaitGroup
	for _, addr := range addrs {
		rt := &rootRtt{addr: addr}
		l = append(l, rt)
		wg.Add(1)
		go timeRoot(ctx, dialer, port, &wg, rt)
	}
	wg.Wait()
	sort.Slice(l, func(i, j int) bool { return l[i].rtt < l[j].rtt })
	for _, rt := range l {
		if rt.rtt <= cutoff {
			useIPv4 = useIPv4 || rt.addr.Is4()
			useIPv6 = useIPv6 || rt.addr.Is6()
			ordered = append(ordered, rt.addr)
		}
	}
	if len(ordered) == 0 {
		ordered = addrs
	}
	return
}
