package wire

import (
	"net"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

// MinEDNSPayload is the floor spec.md §6 sets for the outgoing buffer
// advertised on sub-queries, regardless of configuration.
const MinEDNSPayload = 4096

// SetEDNS attaches a UDP payload OPT record sized to max(payload,
// MinEDNSPayload), per spec.md §6's outgoing buffer rule.
func SetEDNS(m *dns.Msg, payload uint16) {
	if payload < MinEDNSPayload {
		payload = MinEDNSPayload
	}
	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	opt.SetUDPSize(payload)
	m.Extra = append(m.Extra, opt)
}

// AnswerEDNSSize computes the UDP payload size to advertise on a reply
// to req, per spec.md §6's answer-size rule: max(advertised, 512).
func AnswerEDNSSize(req *dns.Msg) uint16 {
	if opt := req.IsEdns0(); opt != nil {
		if size := opt.UDPSize(); size > 512 {
			return size
		}
	}
	return 512
}

// CopyTSIG copies the TSIG RR (if any) from req onto resp's additional
// section, per spec.md §6: TSIG on the inbound query is preserved on the
// outbound answer, never propagated to sub-queries.
func CopyTSIG(req, resp *dns.Msg) {
	if rr := req.IsTsig(); rr != nil {
		resp.Extra = append(resp.Extra, rr)
	}
}

// HasRRType reports whether any rr in rrs has the given type.
func HasRRType(rrs []dns.RR, t uint16) bool {
	for _, rr := range rrs {
		if rr.Header().Rrtype == t {
			return true
		}
	}
	return false
}

// ExtractDelegationNS returns the lowercased NS target names from m's
// authority section whose owner matches zone.
func ExtractDelegationNS(m *dns.Msg, zone string) []string {
	var out []string
	for _, rr := range m.Ns {
		if ns, ok := rr.(*dns.NS); ok && strings.EqualFold(ns.Hdr.Name, zone) {
			out = append(out, strings.ToLower(ns.Ns))
		}
	}
	return out
}

// DelegationRecords returns the raw NS RRs from m's authority section
// owned by zone, for bubbling a referral up as an answer when nothing
// further can be resolved.
func DelegationRecords(m *dns.Msg, zone string) []dns.RR {
	if m == nil {
		return nil
	}
	var out []dns.RR
	for _, rr := range m.Ns {
		if ns, ok := rr.(*dns.NS); ok && strings.EqualFold(ns.Hdr.Name, zone) {
			out = append(out, rr)
		}
	}
	return out
}

// GlueAddresses extracts A/AAAA addresses from m's additional section.
func GlueAddresses(m *dns.Msg) []netip.Addr {
	var addrs []netip.Addr
	for _, rr := range m.Extra {
		switch a := rr.(type) {
		case *dns.A:
			if addr := IPToAddr(a.A); addr.IsValid() {
				addrs = append(addrs, addr)
			}
		case *dns.AAAA:
			if addr := IPToAddr(a.AAAA); addr.IsValid() {
				addrs = append(addrs, addr)
			}
		}
	}
	return DedupAddrs(addrs)
}

// CNAMEChainRecords returns the CNAME RRs in rrs owned by owner.
func CNAMEChainRecords(rrs []dns.RR, owner string) []dns.RR {
	var out []dns.RR
	for _, rr := range rrs {
		if c, ok := rr.(*dns.CNAME); ok && strings.EqualFold(c.Hdr.Name, owner) {
			out = append(out, rr)
		}
	}
	return out
}

// DNAMERecords returns the DNAME (and any synthesized CNAME) RRs in rrs
// relevant to qname.
func DNAMERecords(rrs []dns.RR, qname string) []dns.RR {
	var out []dns.RR
	q := strings.ToLower(qname)
	for _, rr := range rrs {
		if d, ok := rr.(*dns.DNAME); ok && strings.HasSuffix(q, strings.ToLower(d.Hdr.Name)) {
			out = append(out, rr)
		}
		if c, ok := rr.(*dns.CNAME); ok && strings.EqualFold(c.Hdr.Name, qname) {
			out = append(out, rr)
		}
	}
	return out
}

// DedupAddrs removes duplicate addresses, preserving first-seen order.
func DedupAddrs(addrs []netip.Addr) []netip.Addr {
	seen := make(map[netip.Addr]struct{}, len(addrs))
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

// PrependRecords splices records gathered from resp's answer (via
// gather) onto the front of msg's answer, and carries forward resp's
// authority/additional sections, so a CNAME/DNAME chase response can be
// stitched onto the chase target's response.
func PrependRecords(msg, resp *dns.Msg, qname string, gather func([]dns.RR, string) []dns.RR) {
	records := gather(resp.Answer, qname)
	if len(msg.Question) > 0 {
		msg.Question[0].Name = qname
	}
	if len(records) > 0 {
		msg.Answer = append(append([]dns.RR(nil), records...), msg.Answer...)
	}
	if len(resp.Ns) > 0 {
		msg.Ns = append([]dns.RR(nil), resp.Ns...)
	}
	if len(resp.Extra) > 0 {
		msg.Extra = append(append([]dns.RR(nil), resp.Extra...), msg.Extra...)
	}
}

// IPToAddr converts a net.IP to a netip.Addr, returning the zero value
// if ip is nil or malformed.
func IPToAddr(ip net.IP) (addr netip.Addr) {
	if ip == nil {
		return
	}
	if v4 := ip.To4(); v4 != nil {
		return netip.AddrFrom4([4]byte(v4))
	}
	if v6 := ip.To16(); v6 != nil {
		return netip.AddrFrom16([16]byte(v6))
	}
	return
}

// CNAMETarget returns the lowercased FQDN target of the CNAME owned by
// owner in resp's answer, if any.
func CNAMETarget(resp *dns.Msg, owner string) (string, bool) {
	lo := strings.ToLower(owner)
	for _, rr := range resp.Answer {
		if c, ok := rr.(*dns.CNAME); ok && strings.EqualFold(c.Hdr.Name, lo) {
			return dns.Fqdn(strings.ToLower(c.Target)), true
		}
	}
	return "", false
}

// DNAMESynthesize finds a DNAME covering qname in resp's answer and
// synthesizes the RFC 6672 target name.
func DNAMESynthesize(resp *dns.Msg, qname string) (string, bool) {
	q := strings.ToLower(qname)
	for _, rr := range resp.Answer {
		d, ok := rr.(*dns.DNAME)
		if !ok {
			continue
		}
		owner := strings.ToLower(d.Hdr.Name)
		if !strings.HasSuffix(q, owner) {
			continue
		}
		prefix := strings.TrimSuffix(strings.TrimSuffix(q, owner), ".")
		tgt := dns.Fqdn(strings.Trim(prefix, ".") + "." + strings.ToLower(d.Target))
		return tgt, true
	}
	return "", false
}

// FormatProto renders a "udp4"/"tcp6"-style label for logging.
func FormatProto(network string, addr netip.Addr) string {
	suffix := "6"
	if addr.Is4() {
		suffix = "4"
	}
	return network + suffix
}
