package cache

// Rank is the monotone-significance byte from spec §3: it bounds whether
// a new datum may replace a cached one. Higher always means "at least as
// trustworthy" for the purpose of insert suppression (spec §4.1 "Rank
// policy on insert").
type Rank byte

const (
	RankBad           Rank = 0
	RankInsecure      Rank = 1
	RankNonauth       Rank = 8
	RankAuth          Rank = 16
	RankAuthInsecure  Rank = 24 // attempted validation, still beats plain AUTH
	RankNonauthSecure Rank = 32 // validated data beats unvalidated authority
	RankSecure        Rank = 64
)

// Less reports whether r is strictly less significant than other, per the
// ordering axioms in spec §8 (#10): SECURE > AUTH > NONAUTH > INSECURE >
// BAD; AUTH_INSECURE > AUTH; NONAUTH_SECURE > AUTH.
func (r Rank) Less(other Rank) bool { return r < other }
