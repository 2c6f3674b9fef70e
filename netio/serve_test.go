package netio

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"
)

func echoHandler(ctx context.Context, m *dns.Msg, peer net.Addr) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(m)
	rr, _ := dns.NewRR(m.Question[0].Name + " 300 IN A 192.0.2.1")
	resp.Answer = append(resp.Answer, rr)
	return resp
}

func TestServeUDPAnswersQuery(t *testing.T) {
	mgr := NewManager(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ep, err := mgr.Listen(ctx, "127.0.0.1", 0, Flags{UDP: true})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer mgr.Deinit()

	Serve(ctx, ep, echoHandler, Stats{}, zerolog.Nop())

	conn, err := net.Dial("udp", ep.UDP.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	out, err := m.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, err := conn.Write(out); err != nil {
		t.Fatalf("Write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, DatagramSize)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	resp := new(dns.Msg)
	if err := resp.Unpack(buf[:n]); err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if len(resp.Answer) != 1 {
		t.Fatalf("len(resp.Answer) = %d, want 1", len(resp.Answer))
	}
}

func TestServeTCPAnswersQuery(t *testing.T) {
	mgr := NewManager(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ep, err := mgr.Listen(ctx, "127.0.0.1", 0, Flags{TCP: true})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer mgr.Deinit()

	Serve(ctx, ep, echoHandler, Stats{}, zerolog.Nop())

	conn, err := net.Dial("tcp", ep.TCP.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	dc := &dns.Conn{Conn: conn}
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	if err := dc.WriteMsg(m); err != nil {
		t.Fatalf("WriteMsg: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := dc.ReadMsg()
	if err != nil {
		t.Fatalf("ReadMsg: %v", err)
	}
	if len(resp.Answer) != 1 {
		t.Fatalf("len(resp.Answer) = %d, want 1", len(resp.Answer))
	}
}

func TestServeDropsMalformedUDPPacket(t *testing.T) {
	mgr := NewManager(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ep, err := mgr.Listen(ctx, "127.0.0.1", 0, Flags{UDP: true})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer mgr.Deinit()

	dropped := make(chan struct{}, 1)
	Serve(ctx, ep, echoHandler, Stats{Dropped: func() { dropped <- struct{}{} }}, zerolog.Nop())

	conn, err := net.Dial("udp", ep.UDP.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte{0xff, 0xff, 0xff}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Dropped to be called for a malformed packet")
	}
}
