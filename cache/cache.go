package cache

import (
	"encoding/binary"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
)

// cacheVersion is stored under versionKey; a mismatch invalidates the
// whole store rather than risk decoding stale entries under a changed
// wire format (spec §6 "on-disk format is not guaranteed stable across
// versions").
const cacheVersion byte = 2

var versionKey = []byte{0x00}

// Stats are the cache's prometheus counters, grounded on
// cuemby-warren/pkg/metrics/metrics.go's NewCounterVec pattern.
type Stats struct {
	Hit      prometheus.Counter
	Miss     prometheus.Counter
	Insert   prometheus.Counter
	Delete   prometheus.Counter
	TxnRead  prometheus.Counter
	TxnWrite prometheus.Counter
}

func newStats(reg prometheus.Registerer) *Stats {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resolved",
		Subsystem: "cache",
		Name:      "ops_total",
		Help:      "Cache operations by kind.",
	}, []string{"op"})
	if reg != nil {
		reg.MustRegister(ops)
	}
	return &Stats{
		Hit:      ops.WithLabelValues("hit"),
		Miss:     ops.WithLabelValues("miss"),
		Insert:   ops.WithLabelValues("insert"),
		Delete:   ops.WithLabelValues("delete"),
		TxnRead:  ops.WithLabelValues("txn_read"),
		TxnWrite: ops.WithLabelValues("txn_write"),
	}
}

// Cache is the zone-aware RRSet store described in spec §4.1. It is safe
// for concurrent use; the underlying Backend supplies the actual
// transaction isolation.
type Cache struct {
	backend Backend
	stats   *Stats
}

// Open wraps backend in a Cache, checking (and stamping) the version tag.
// A version mismatch clears the backend before use, per spec §6.
func Open(backend Backend, reg prometheus.Registerer) (*Cache, error) {
	c := &Cache{backend: backend, stats: newStats(reg)}
	if err := c.checkVersion(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) checkVersion() error {
	tx, err := c.backend.Begin(true)
	if err != nil {
		return err
	}
	v, ok, err := tx.Get(versionKey)
	if err != nil {
		tx.Rollback()
		return err
	}
	if ok && len(v) == 1 && v[0] == cacheVersion {
		return tx.Commit()
	}
	var toDelete [][]byte
	if err := tx.ForEach(func(k, _ []byte) error {
		toDelete = append(toDelete, append([]byte(nil), k...))
		return nil
	}); err != nil {
		tx.Rollback()
		return err
	}
	for _, k := range toDelete {
		if err := tx.Delete(k); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Put(versionKey, []byte{cacheVersion}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (c *Cache) Close() error { return c.backend.Close() }

// Begin starts a transaction directly against the backend and counts it
// in the txn_read/txn_write stats. Peek, Insert, Remove and Clear each
// begin and finish their own transaction, so a Txn returned here is not
// shared with them.
func (c *Cache) Begin(writable bool) (Txn, error) {
	if writable {
		c.stats.TxnWrite.Inc()
	} else {
		c.stats.TxnRead.Inc()
	}
	return c.backend.Begin(writable)
}

// LookupResult is the tri-state Peek outcome from spec §4.1: a cache
// lookup is a MISS, a STALE hit (expired but the entry, including its
// Rank, is still reported so callers can decide whether to serve it
// anyway), or a live HIT.
type LookupResult int

const (
	Miss LookupResult = iota
	Stale
	Hit
)

// Peek looks up the RRSet for (name, rrtype) under tag. now is passed in
// explicitly so callers control the clock (spec §8 testable property on
// deterministic TTL arithmetic).
func (c *Cache) Peek(tag Tag, name string, rrtype uint16, now time.Time) (LookupResult, *Entry, error) {
	tx, err := c.Begin(false)
	if err != nil {
		return Miss, nil, err
	}
	res, entry, err := c.peekTx(tx, tag, name, rrtype, now)
	tx.Commit()
	if err != nil {
		return Miss, nil, err
	}
	if res == Hit {
		c.stats.Hit.Inc()
	} else {
		c.stats.Miss.Inc()
	}
	return res, entry, nil
}

func (c *Cache) peekTx(tx Txn, tag Tag, name string, rrtype uint16, now time.Time) (LookupResult, *Entry, error) {
	key := EncodeKey(tag, name, rrtype)
	raw, ok, err := tx.Get(key)
	if err != nil || !ok {
		return Miss, nil, err
	}
	entry, err := decodeEntry(raw)
	if err != nil {
		return Miss, nil, err
	}
	if now.After(entry.Header.CreatedAt.Add(entry.Header.MaxTTL)) {
		return Stale, entry, nil
	}
	return Hit, entry, nil
}

// NegativeTTL is the TTL stamped on an empty-rrs insert (NXDOMAIN or
// NODATA), since the insert contract's header.ttl = max(rdata_ttl[i])
// degenerates to 0 with no records to draw a TTL from. Grounded on the
// teacher's cache.DefaultNXTTL.
const NegativeTTL = time.Hour

// Insert stores rrs under (name, rrtype) with the given rank, unless a
// live entry of strictly higher rank is already present (spec §4.1 "Rank
// policy on insert": a lower-ranked answer may never clobber a
// higher-ranked one while it is still live). An empty rrs is a valid
// negative-caching entry (spec §4.1 "empty result sets are cacheable"),
// stamped with NegativeTTL rather than the vacuous max-of-nothing 0 the
// insert contract would otherwise produce.
func (c *Cache) Insert(tag Tag, name string, rrtype, class uint16, rrs []dns.RR, rank Rank, now time.Time) error {
	tx, err := c.Begin(true)
	if err != nil {
		return err
	}
	if err := c.insertTx(tx, tag, name, rrtype, class, rrs, rank, now); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.stats.Insert.Inc()
	return nil
}

func (c *Cache) insertTx(tx Txn, tag Tag, name string, rrtype, class uint16, rrs []dns.RR, rank Rank, now time.Time) error {
	key := EncodeKey(tag, name, rrtype)
	res, existing, err := c.peekTx(tx, tag, name, rrtype, now)
	if err != nil {
		return err
	}
	if res == Hit && rank.Less(existing.Header.Rank) {
		return nil
	}

	packed, err := packRRs(rrs)
	if err != nil {
		return err
	}
	ttl := maxRRTTL(rrs)
	if len(rrs) == 0 {
		ttl = NegativeTTL
	}
	header := Header{
		CreatedAt: now,
		MaxTTL:    ttl,
		Count:     uint16(len(rrs)),
		Rank:      rank,
	}
	raw := encodeEntry(header, name, class, rrtype, packed)
	return tx.Put(key, raw)
}

// Remove deletes the (name, rrtype) entry under tag, if present.
func (c *Cache) Remove(tag Tag, name string, rrtype uint16) error {
	tx, err := c.Begin(true)
	if err != nil {
		return err
	}
	if err := tx.Delete(EncodeKey(tag, name, rrtype)); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.stats.Delete.Inc()
	return nil
}

// Clear empties the entire backend, preserving the version stamp.
func (c *Cache) Clear() error {
	tx, err := c.Begin(true)
	if err != nil {
		return err
	}
	var toDelete [][]byte
	if err := tx.ForEach(func(k, _ []byte) error {
		if len(k) == 1 && k[0] == versionKey[0] {
			return nil
		}
		toDelete = append(toDelete, append([]byte(nil), k...))
		return nil
	}); err != nil {
		tx.Rollback()
		return err
	}
	for _, k := range toDelete {
		if err := tx.Delete(k); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// entry wire layout: createdAt(8, unix seconds) || maxTTL(4, seconds) ||
// count(2) || rank(1) || flags(1) || class(2) || rrtype(2) ||
// ownerLen(2) || owner || packed RRs. Fixed-width integer fields keep
// decodeEntry allocation-free aside from the owner string and RR slice.
func encodeEntry(h Header, owner string, class, rrtype uint16, packed []byte) []byte {
	buf := make([]byte, 8+4+2+1+1+2+2+2+len(owner)+len(packed))
	binary.BigEndian.PutUint64(buf[0:8], uint64(h.CreatedAt.Unix()))
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.MaxTTL/time.Second))
	binary.BigEndian.PutUint16(buf[12:14], h.Count)
	buf[14] = byte(h.Rank)
	buf[15] = h.Flags
	binary.BigEndian.PutUint16(buf[16:18], class)
	binary.BigEndian.PutUint16(buf[18:20], rrtype)
	binary.BigEndian.PutUint16(buf[20:22], uint16(len(owner)))
	n := copy(buf[22:], owner)
	copy(buf[22+n:], packed)
	return buf
}

func decodeEntry(raw []byte) (*Entry, error) {
	if len(raw) < 22 {
		return nil, errShortLabel
	}
	createdAt := time.Unix(int64(binary.BigEndian.Uint64(raw[0:8])), 0)
	maxTTL := time.Duration(binary.BigEndian.Uint32(raw[8:12])) * time.Second
	count := binary.BigEndian.Uint16(raw[12:14])
	rank := Rank(raw[14])
	flags := raw[15]
	class := binary.BigEndian.Uint16(raw[16:18])
	rrtype := binary.BigEndian.Uint16(raw[18:20])
	ownerLen := int(binary.BigEndian.Uint16(raw[20:22]))
	if len(raw) < 22+ownerLen {
		return nil, errShortLabel
	}
	owner := string(raw[22 : 22+ownerLen])
	packed := raw[22+ownerLen:]
	rrs, err := unpackRRs(packed)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Header: Header{
			CreatedAt: createdAt,
			MaxTTL:    maxTTL,
			Count:     count,
			Rank:      rank,
			Flags:     flags,
		},
		Set: RRSet{
			Owner: owner,
			Class: class,
			Type:  rrtype,
			TTL:   maxTTL,
			RRs:   rrs,
		},
	}, nil
}
