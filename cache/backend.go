package cache

// Backend is the pluggable transactional KV the cache is built on (spec
// §1: "the on-disk key-value backend" is an external collaborator behind
// this narrow interface; only the interface is specified). Begin mirrors
// bbolt's DB.Begin(writable bool) (*Tx, error) shape directly, since
// BoltBackend wraps bbolt almost without translation.
type Backend interface {
	Begin(writable bool) (Txn, error)
	Close() error
}

// Txn is one transaction against a Backend. Writers serialize; readers
// may overlap only between suspension points per spec §5 — the backend
// itself does not enforce that, callers must not hold a write Txn across
// one.
type Txn interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key, val []byte) error
	Delete(key []byte) error
	// ForEach visits every key/value pair in unspecified order. Mutating
	// the transaction from within fn is not supported.
	ForEach(fn func(key, val []byte) error) error
	Commit() error
	Rollback() error
}
