// Package validatelayer implements the validator layer from spec.md
// §4.3/§4.7: a no-op-unless-covered capability layer. Actual DNSSEC
// cryptography is out of scope (spec.md §1, §9); this layer only
// consults the trust-anchor store to decide whether a cut is covered,
// recording the covering anchor in Cut.SecureFrom (or clearing it), and
// maps that verdict to a cache rank via RankFor. The RFC 5011 state
// names it coordinates with are documented in
// original_source/lib/dnssec/ta.h; none of that file's crypto is ported.
package validatelayer

import (
	"github.com/resolved-dns/resolved/cache"
	"github.com/resolved-dns/resolved/layer"
	"github.com/resolved-dns/resolved/trustanchor"
)

// Layer is the validator pipeline stage.
type Layer struct {
	layer.Base
	Anchors *trustanchor.Store
}

func New(anchors *trustanchor.Store) *Layer {
	return &Layer{Anchors: anchors}
}

// Consume sets the current query's Cut.SecureFrom to the covering
// anchor's owner name when an anchor chains to it, or clears it when
// none does. It does not touch any rank itself. Either way it returns
// NOOP: this layer never halts or redirects iteration on its own.
func (l *Layer) Consume(req *layer.Request) layer.State {
	q := req.Plan.Current()
	if q == nil || l.Anchors == nil {
		return layer.NOOP
	}
	if owner, ok := l.Anchors.Covers(q.Name); ok {
		q.Cut.SecureFrom = owner
	} else {
		q.Cut.SecureFrom = ""
	}
	return layer.NOOP
}

// RankFor reports the rank a query's answer should be inserted at given
// this layer's coverage verdict, for cachelayer (or any other consumer)
// to use instead of guessing from Authoritative alone.
func RankFor(covered bool, authoritative bool) cache.Rank {
	switch {
	case covered:
		return cache.RankNonauthSecure
	case authoritative:
		return cache.RankAuth
	default:
		return cache.RankInsecure
	}
}
