package wire

import (
	"testing"

	"github.com/miekg/dns"
)

func TestSetEDNSFloorsAtMinPayload(t *testing.T) {
	m := new(dns.Msg)
	SetEDNS(m, 512)
	opt := m.IsEdns0()
	if opt == nil {
		t.Fatalf("expected an OPT record")
	}
	if opt.UDPSize() != MinEDNSPayload {
		t.Fatalf("UDPSize() = %d, want %d (floored)", opt.UDPSize(), MinEDNSPayload)
	}
}

func TestSetEDNSHonorsLargerConfiguredPayload(t *testing.T) {
	m := new(dns.Msg)
	SetEDNS(m, 8192)
	if got := m.IsEdns0().UDPSize(); got != 8192 {
		t.Fatalf("UDPSize() = %d, want 8192", got)
	}
}

func TestAnswerEDNSSizeDefaultsTo512(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	if got := AnswerEDNSSize(req); got != 512 {
		t.Fatalf("AnswerEDNSSize() = %d, want 512", got)
	}
}

func TestAnswerEDNSSizeHonorsAdvertised(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.SetEdns0(4096, false)
	if got := AnswerEDNSSize(req); got != 4096 {
		t.Fatalf("AnswerEDNSSize() = %d, want 4096", got)
	}
}

func TestCopyTSIGPreservesInboundTSIG(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	req.SetTsig("key.", dns.HmacSHA256, 300, 0)

	resp := new(dns.Msg)
	resp.SetReply(req)
	CopyTSIG(req, resp)

	if resp.IsTsig() == nil {
		t.Fatalf("expected TSIG RR to be copied onto the response")
	}
}
