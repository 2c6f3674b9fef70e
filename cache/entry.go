package cache

import (
	"time"

	"github.com/miekg/dns"
)

// Flag bits carried in Header.Flags.
const (
	FlagNone byte = 0
)

// Header is the value header stored alongside every cache entry (spec §3
// "Cache entry").
type Header struct {
	CreatedAt time.Time // absolute creation timestamp, second resolution
	MaxTTL    time.Duration
	Count     uint16
	Rank      Rank
	Flags     byte
}

// RRSet is the tuple (owner, class, type, ttl, rdata) from spec §3.
// RRSets returned by Peek/Materialize are immutable; callers must copy
// before mutating.
type RRSet struct {
	Owner string
	Class uint16
	Type  uint16
	TTL   time.Duration
	RRs   []dns.RR
}

// Entry pairs a Header with the RRSet it describes, as handed back by Peek.
type Entry struct {
	Header Header
	Set    RRSet
}

// packRRs serializes rrs as the Answer section of a throwaway message,
// reusing miekg/dns's wire codec instead of hand-rolling RR packing.
func packRRs(rrs []dns.RR) ([]byte, error) {
	msg := new(dns.Msg)
	msg.Answer = rrs
	msg.Compress = false
	return msg.Pack()
}

func unpackRRs(b []byte) ([]dns.RR, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(b); err != nil {
		return nil, err
	}
	return msg.Answer, nil
}

// maxRRTTL computes header.ttl = max(rdata_ttl[i]) per spec §4.1 insert
// contract.
func maxRRTTL(rrs []dns.RR) time.Duration {
	var max uint32
	for _, rr := range rrs {
		if rr == nil {
			continue
		}
		if ttl := rr.Header().Ttl; ttl > max {
			max = ttl
		}
	}
	return time.Duration(max) * time.Second
}
