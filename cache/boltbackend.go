package cache

import (
	bolt "go.etcd.io/bbolt"
)

var cacheBucket = []byte("kres_cache")

// BoltBackend is the on-disk Backend, grounded on
// cuemby-warren/pkg/storage/boltdb.go's bolt.Open + single-bucket pattern.
// It gives the cache real ACID transactions instead of the in-process
// staged map MemBackend uses.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBoltBackend opens (creating if absent) a bbolt file at path and
// ensures the cache bucket exists.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Close() error { return b.db.Close() }

func (b *BoltBackend) Begin(writable bool) (Txn, error) {
	tx, err := b.db.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltTxn{tx: tx, bucket: tx.Bucket(cacheBucket)}, nil
}

type boltTxn struct {
	tx     *bolt.Tx
	bucket *bolt.Bucket
}

func (t *boltTxn) Get(key []byte) ([]byte, bool, error) {
	v := t.bucket.Get(key)
	if v == nil {
		return nil, false, nil
	}
	// bbolt only guarantees v's validity for the life of the transaction.
	return append([]byte(nil), v...), true, nil
}

func (t *boltTxn) Put(key, val []byte) error    { return t.bucket.Put(key, val) }
func (t *boltTxn) Delete(key []byte) error      { return t.bucket.Delete(key) }
func (t *boltTxn) Commit() error                { return t.tx.Commit() }
func (t *boltTxn) Rollback() error              { return t.tx.Rollback() }
func (t *boltTxn) ForEach(fn func(k, v []byte) error) error {
	return t.bucket.ForEach(fn)
}
