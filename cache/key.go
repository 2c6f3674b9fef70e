package cache

import (
	"strings"

	"github.com/miekg/dns"
)

// Tag enumerates the cache entry kinds sharing the key space (spec §3/§4.1).
type Tag byte

const (
	TagRR      Tag = 0x01 // resource-record set
	TagPacket  Tag = 0x02 // whole-packet cache (referrals, SOA, NXDOMAIN)
	TagSig     Tag = 0x03 // detached RRSIG set
	TagUserMin Tag = 0x80 // user-extended tags start here
)

// EncodeKey builds the tag(1) || label-reverse(name) || rrtype(2) key
// described in spec §4.1. rrtype is stored big-endian so lexicographic
// byte comparison matches numeric comparison, which the label-reversed
// prefix relies on for zone-local range scans.
func EncodeKey(tag Tag, name string, rrtype uint16) []byte {
	rev := EncodeReversedName(name)
	key := make([]byte, 0, 1+len(rev)+2)
	key = append(key, byte(tag))
	key = append(key, rev...)
	key = append(key, byte(rrtype>>8), byte(rrtype))
	return key
}

// EncodeReversedName writes name as root-first, length-prefixed labels so
// that keys sharing a zone share a byte prefix (spec §4.1 "zone locality").
// It is the inverse of DecodeReversedName (spec §8 round-trip law).
func EncodeReversedName(name string) []byte {
	labels := dns.SplitDomainName(dns.Fqdn(name))
	out := make([]byte, 0, len(name)+1)
	for i := len(labels) - 1; i >= 0; i-- {
		lbl := strings.ToLower(labels[i])
		out = append(out, byte(len(lbl)))
		out = append(out, lbl...)
	}
	out = append(out, 0x00)
	return out
}

// DecodeReversedName parses the encoding produced by EncodeReversedName
// back into a lowercase FQDN (e.g. "example.com.").
func DecodeReversedName(b []byte) (string, error) {
	var labels []string
	for len(b) > 0 {
		n := int(b[0])
		b = b[1:]
		if n == 0 {
			break
		}
		if n > len(b) {
			return "", errShortLabel
		}
		labels = append(labels, string(b[:n]))
		b = b[n:]
	}
	// labels are root-first; reverse to leaf-first for the dotted form.
	out := make([]string, len(labels))
	for i, l := range labels {
		out[len(labels)-1-i] = l
	}
	if len(out) == 0 {
		return ".", nil
	}
	return strings.Join(out, ".") + ".", nil
}

var errShortLabel = &labelError{"truncated label in reversed-name key"}

type labelError struct{ s string }

func (e *labelError) Error() string { return e.s }
