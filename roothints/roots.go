// Package roothints carries the trust-anchor-free seed of root server
// addresses the iterator starts traversal from, plus a latency-based
// ordering helper. It plays the role of the teacher's roothints.gen.go
// (generated from IANA's named.root); the table below is the well-known,
// stable root hints list, checked in as is, and cmd/genhints can
// regenerate this file from named.root.
package roothints

import "net/netip"

// Seed4 and Seed6 are IANA's published root server addresses.
var (
	Seed4 = []netip.Addr{
		netip.MustParseAddr("198.41.0.4"),     // a.root-servers.net
		netip.MustParseAddr("170.247.170.2"),  // b.root-servers.net
		netip.MustParseAddr("192.33.4.12"),    // c.root-servers.net
		netip.MustParseAddr("199.7.91.13"),    // d.root-servers.net
		netip.MustParseAddr("192.203.230.10"), // e.root-servers.net
		netip.MustParseAddr("192.5.5.241"),    // f.root-servers.net
		netip.MustParseAddr("192.112.36.4"),   // g.root-servers.net
		netip.MustParseAddr("198.97.190.53"),  // h.root-servers.net
		netip.MustParseAddr("192.36.148.17"),  // i.root-servers.net
		netip.MustParseAddr("192.58.128.30"),  // j.root-servers.net
		netip.MustParseAddr("193.0.14.129"),   // k.root-servers.net
		netip.MustParseAddr("199.7.83.42"),    // l.root-servers.net
		netip.MustParseAddr("202.12.27.33"),   // m.root-servers.net
	}

	Seed6 = []netip.Addr{
		netip.MustParseAddr("2001:503:ba3e::2:30"), // a.root-servers.net
		netip.MustParseAddr("2801:1b8:10::b"),      // b.root-servers.net
		netip.MustParseAddr("2001:500:2::c"),       // c.root-servers.net
		netip.MustParseAddr("2001:500:2d::d"),      // d.root-servers.net
		netip.MustParseAddr("2001:500:a8::e"),      // e.root-servers.net
		netip.MustParseAddr("2001:500:2f::f"),      // f.root-servers.net
		netip.MustParseAddr("2001:500:12::d0d"),    // g.root-servers.net
		netip.MustParseAddr("2001:500:1::53"),      // h.root-servers.net
		netip.MustParseAddr("2001:7fe::53"),        // i.root-servers.net
		netip.MustParseAddr("2001:503:c27::2:30"),  // j.root-servers.net
		netip.MustParseAddr("2001:7fd::1"),         // k.root-servers.net
		netip.MustParseAddr("2001:500:9f::42"),     // l.root-servers.net
		netip.MustParseAddr("2001:dc3::35"),        // m.root-servers.net
	}
)

// Seed returns a fresh slice combining Seed4 and Seed6, honoring the
// useIPv4/useIPv6 flags.
func Seed(useIPv4, useIPv6 bool) []netip.Addr {
	var out []netip.Addr
	if useIPv4 {
		out = append(out, Seed4...)
	}
	if useIPv6 {
		out = append(out, Seed6...)
	}
	return out
}
