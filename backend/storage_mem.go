package backend

import (
	"bytes"
	"errors"
	"maps"
	"slices"
	"sync"
)

var (
	errStorageClosed = errors.New("storage closed")
	errTxNotWritable = errors.New("tx not writable")
)

type bucketPath struct {
	name, sub string
}

// memStorage keeps buckets in process memory. Published buckets are never
// mutated: a write tx copies a bucket the first time it touches it and
// publishes a new bucket map on commit. Read txs keep whatever map was
// current when they began.
type memStorage struct {
	writeMu sync.Mutex // held for the lifetime of the write tx

	mu      sync.RWMutex
	buckets map[bucketPath]*memBucket
	closed  bool
}

func newMemStorage() storage {
	return &memStorage{buckets: make(map[bucketPath]*memBucket)}
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	if writable {
		s.writeMu.Lock()
	}
	s.mu.RLock()
	published, closed := s.buckets, s.closed
	s.mu.RUnlock()
	if closed {
		if writable {
			s.writeMu.Unlock()
		}
		return nil, errStorageClosed
	}
	tx := &memTx{st: s, writable: writable, published: published}
	if writable {
		tx.touched = make(map[bucketPath]*memBucket)
	}
	return tx, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	return nil
}

type memTx struct {
	st        *memStorage
	writable  bool
	done      bool
	published map[bucketPath]*memBucket
	touched   map[bucketPath]*memBucket // private copies, write tx only
}

func (tx *memTx) lookup(p bucketPath) *memBucket {
	if tx.done {
		panic("tx is closed")
	}
	if b := tx.touched[p]; b != nil {
		return b
	}
	b := tx.published[p]
	if b != nil && tx.writable {
		b = &memBucket{items: slices.Clone(b.items)}
		tx.touched[p] = b
	}
	return b
}

func (tx *memTx) Bucket(name, sub string) storageBucket {
	b := tx.lookup(bucketPath{name, sub})
	if b == nil {
		return nil
	}
	return memBucketHandle{tx: tx, b: b}
}

func (tx *memTx) CreateBucket(name, sub string) (storageBucket, error) {
	if !tx.writable {
		return nil, errTxNotWritable
	}
	if sub != "" && tx.lookup(bucketPath{name, ""}) == nil {
		tx.touched[bucketPath{name, ""}] = &memBucket{}
	}
	p := bucketPath{name, sub}
	b := tx.lookup(p)
	if b == nil {
		b = &memBucket{}
		tx.touched[p] = b
	}
	return memBucketHandle{tx: tx, b: b}, nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return nil
	}
	if !tx.writable {
		return errTxNotWritable
	}
	defer tx.finish()

	s := tx.st
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStorageClosed
	}
	next := maps.Clone(s.buckets)
	maps.Copy(next, tx.touched)
	s.buckets = next
	return nil
}

func (tx *memTx) Rollback() error {
	if !tx.done {
		tx.finish()
	}
	return nil
}

func (tx *memTx) finish() {
	tx.done = true
	tx.touched = nil
	if tx.writable {
		tx.st.writeMu.Unlock()
	}
}

// memBucket holds items sorted by key. Values are copied on Put; key and
// value slices are never modified afterwards, so copies of the items slice
// may share them.
type memBucket struct {
	items []memKV
}

type memKV struct {
	key, value []byte
}

func (b *memBucket) search(key []byte) (int, bool) {
	return slices.BinarySearchFunc(b.items, key, func(kv memKV, k []byte) int {
		return bytes.Compare(kv.key, k)
	})
}

type memBucketHandle struct {
	tx *memTx
	b  *memBucket
}

func (h memBucketHandle) Get(key []byte) []byte {
	if i, ok := h.b.search(key); ok {
		return h.b.items[i].value
	}
	return nil
}

func (h memBucketHandle) Put(key, value []byte) error {
	if !h.tx.writable {
		return errTxNotWritable
	}
	kv := memKV{key: bytes.Clone(key), value: bytes.Clone(value)}
	if i, ok := h.b.search(key); ok {
		h.b.items[i] = kv
	} else {
		h.b.items = slices.Insert(h.b.items, i, kv)
	}
	return nil
}

func (h memBucketHandle) Delete(key []byte) error {
	if !h.tx.writable {
		return errTxNotWritable
	}
	if i, ok := h.b.search(key); ok {
		h.b.items = slices.Delete(h.b.items, i, i+1)
	}
	return nil
}

func (h memBucketHandle) Cursor() storageCursor {
	return &memCursor{b: h.b}
}

func (h memBucketHandle) KeyCount() int { return len(h.b.items) }

type memCursor struct {
	b   *memBucket
	pos int
}

func (c *memCursor) at(i int) ([]byte, []byte) {
	c.pos = i
	if i >= len(c.b.items) {
		return nil, nil
	}
	kv := c.b.items[i]
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) { return c.at(0) }

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	i, _ := c.b.search(seek)
	return c.at(i)
}

func (c *memCursor) Next() ([]byte, []byte) { return c.at(c.pos + 1) }
