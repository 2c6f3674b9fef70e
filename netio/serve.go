package netio

import (
	"context"
	"net"

	"github.com/google/uuid"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"
)

// Handler answers one client query. It is called once per received
// message; the response it returns is written back to the same
// endpoint/peer the query arrived on.
type Handler func(ctx context.Context, m *dns.Msg, peer net.Addr) *dns.Msg

// Stats are incremented by Serve for traffic accepted on listening
// sockets (the "dropped" counter from spec.md §4.5's worker statistics
// belongs here conceptually too, since malformed packets are dropped at
// the listening socket, not inside the worker's subrequest path).
type Stats struct {
	Dropped func()
}

// Serve runs the accept loops for ep until ctx is cancelled, dispatching
// every well-formed query to handler. Each UDP datagram is handled in
// its own goroutine; each TCP connection is served in its own goroutine,
// answering the queries on that connection one at a time, using dns.Conn
// for the two-byte length-prefixed framing spec.md §4.6 calls for.
func Serve(ctx context.Context, ep *Endpoint, handler Handler, stats Stats, log zerolog.Logger) {
	if ep.UDP != nil {
		go serveUDP(ctx, ep.UDP, handler, stats, log)
	}
	if ep.TCP != nil {
		go serveTCP(ctx, ep.TCP, handler, stats, log)
	}
}

func serveUDP(ctx context.Context, pc net.PacketConn, handler Handler, stats Stats, log zerolog.Logger) {
	buf := make([]byte, DatagramSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, peer, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("udp read failed")
			continue
		}
		m := new(dns.Msg)
		if err := m.Unpack(buf[:n]); err != nil || m.Response {
			if stats.Dropped != nil {
				stats.Dropped()
			}
			continue
		}
		go func(m *dns.Msg, peer net.Addr) {
			reqCtx := withRequestLogger(ctx, log)
			resp := handler(reqCtx, m, peer)
			if resp == nil {
				return
			}
			out, err := resp.Pack()
			if err != nil {
				return
			}
			_, _ = pc.WriteTo(out, peer)
		}(m, peer)
	}
}

func serveTCP(ctx context.Context, ln net.Listener, handler Handler, stats Stats, log zerolog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("tcp accept failed")
			continue
		}
		go serveTCPConn(ctx, conn, handler, stats, log)
	}
}

func serveTCPConn(ctx context.Context, conn net.Conn, handler Handler, stats Stats, log zerolog.Logger) {
	defer conn.Close()
	dc := &dns.Conn{Conn: conn}
	for {
		m, err := dc.ReadMsg()
		if err != nil {
			return
		}
		if m.Response {
			if stats.Dropped != nil {
				stats.Dropped()
			}
			continue
		}
		reqCtx := withRequestLogger(ctx, log)
		resp := handler(reqCtx, m, conn.RemoteAddr())
		if resp == nil {
			continue
		}
		if err := dc.WriteMsg(resp); err != nil {
			return
		}
	}
}

// withRequestLogger tags ctx with a child logger carrying a fresh request
// id, so every log line the handler emits for this one client query can be
// correlated without threading an id parameter through every call.
func withRequestLogger(ctx context.Context, log zerolog.Logger) context.Context {
	reqLog := log.With().Str("req_id", uuid.New().String()).Logger()
	return reqLog.WithContext(ctx)
}
