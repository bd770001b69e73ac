// Package backend persists colcache values in a key-value store, either a
// Bolt file or process memory.
//
// Layout: one root bucket per model name, a nested bucket per field name,
// key = 8-byte big-endian record ID, value = uvarint flags, uvarint value
// kind, then the msgpack payload (zstd-compressed above a size threshold).
// The "_meta" bucket holds the schema fingerprint.
package backend

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"github.com/andreyvit/colcache"
)

const (
	DefaultCompressThreshold = 512

	metaBucket     = "_meta"
	fingerprintKey = "fingerprint"
)

type Options struct {
	Logger  *slog.Logger
	Verbose bool

	// CompressThreshold is the payload size above which values are stored
	// zstd-compressed. Zero means DefaultCompressThreshold; negative disables
	// compression.
	CompressThreshold int

	// StrictSchema makes Open fail with ErrSchemaMismatch when the stored
	// schema fingerprint differs; otherwise the drift is logged and the
	// fingerprint replaced.
	StrictSchema bool

	// IsTesting trades durability for speed (Bolt only).
	IsTesting bool
}

// Backend implements colcache.Backend. It is safe for concurrent use.
type Backend struct {
	st     storage
	schema *colcache.Schema
	codec  *codec
	logger *slog.Logger
	closed atomic.Bool

	verbose bool
}

var _ colcache.Backend = (*Backend)(nil)

// Open opens (creating if needed) a Bolt database file.
func Open(path string, schema *colcache.Schema, opt Options) (*Backend, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("colcache/backend: %w", err)
	}
	b, err := newBackend(newBoltStorage(bdb), schema, opt)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return b, nil
}

// OpenMemory returns a backend that keeps everything in memory.
func OpenMemory(schema *colcache.Schema, opt Options) (*Backend, error) {
	return newBackend(newMemStorage(), schema, opt)
}

func newBackend(st storage, schema *colcache.Schema, opt Options) (*Backend, error) {
	if schema == nil {
		panic("backend: nil schema")
	}
	if schema.ModelNamed(metaBucket) != nil {
		return nil, fmt.Errorf("colcache/backend: model name %q is reserved", metaBucket)
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	switch {
	case opt.CompressThreshold == 0:
		opt.CompressThreshold = DefaultCompressThreshold
	case opt.CompressThreshold < 0:
		opt.CompressThreshold = 0
	}
	c, err := newCodec(opt.CompressThreshold)
	if err != nil {
		return nil, err
	}
	b := &Backend{
		st:      st,
		schema:  schema,
		codec:   c,
		logger:  opt.Logger,
		verbose: opt.Verbose,
	}
	if err := b.prepare(opt.StrictSchema); err != nil {
		c.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) prepare(strict bool) error {
	return b.update(func(tx storageTx) error {
		mb, err := tx.CreateBucket(metaBucket, "")
		if err != nil {
			return err
		}
		actual := b.schema.Fingerprint()
		if raw := mb.Get([]byte(fingerprintKey)); raw != nil {
			stored := binary.BigEndian.Uint64(raw)
			if stored != actual {
				if strict {
					return &SchemaMismatchError{Stored: stored, Actual: actual}
				}
				b.logger.Warn("colcache/backend: schema changed since last open", "stored", fmt.Sprintf("%016x", stored), "actual", fmt.Sprintf("%016x", actual))
			}
		}
		for _, model := range b.schema.Models() {
			for _, fld := range model.Fields() {
				if !fld.IsStored() {
					continue
				}
				if _, err := tx.CreateBucket(model.Name(), fld.Name()); err != nil {
					return fmt.Errorf("%v: %w", fld, err)
				}
			}
		}
		return mb.Put([]byte(fingerprintKey), binary.BigEndian.AppendUint64(nil, actual))
	})
}

func (b *Backend) Schema() *colcache.Schema {
	return b.schema
}

func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.codec.Close()
	return b.st.Close()
}

// Fetch implements colcache.Backend.
func (b *Backend) Fetch(ctx context.Context, model *colcache.Model, fld *colcache.Field, ids []colcache.RecordID) (map[colcache.RecordID]any, error) {
	if fld.Model() != model || model.Schema() != b.schema {
		return nil, fmt.Errorf("colcache/backend: %v is not a field of %v in this schema", fld, model)
	}
	result := make(map[colcache.RecordID]any, len(ids))
	err := b.view(func(tx storageTx) error {
		bkt := tx.Bucket(model.Name(), fld.Name())
		if bkt == nil {
			return nil
		}
		var key [8]byte
		for i, id := range ids {
			if i%256 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			binary.BigEndian.PutUint64(key[:], uint64(id))
			raw := bkt.Get(key[:])
			if raw == nil {
				continue
			}
			v, err := b.codec.decodeInto(raw, fld.Kind(), fld.Type())
			if err != nil {
				return fmt.Errorf("%v#%d: %w", fld, id, err)
			}
			result[id] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Persist implements colcache.Backend. All changes are written in a single
// write transaction.
func (b *Backend) Persist(ctx context.Context, changes []colcache.Change) error {
	if len(changes) == 0 {
		return nil
	}
	start := time.Now()
	err := b.update(func(tx storageTx) error {
		for _, chg := range changes {
			if err := ctx.Err(); err != nil {
				return err
			}
			if chg.Op() != colcache.OpPut {
				continue
			}
			fld := chg.Field()
			if fld.Model().Schema() != b.schema {
				return fmt.Errorf("%v: field belongs to another schema", fld)
			}
			bkt, err := tx.CreateBucket(fld.Model().Name(), fld.Name())
			if err != nil {
				return err
			}
			data, err := b.codec.encode(fld.Kind(), chg.Value())
			if err != nil {
				return fmt.Errorf("%v#%d: %w", fld, chg.Record(), err)
			}
			// Bolt keeps references to key and value until commit.
			key := binary.BigEndian.AppendUint64(nil, uint64(chg.Record()))
			if err := bkt.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if b.verbose {
		b.logger.Info("colcache/backend: persisted", "changes", len(changes), "elapsed", time.Since(start))
	}
	return nil
}

// IDs returns the IDs of the records that have a stored value for fld, in
// ascending order.
func (b *Backend) IDs(ctx context.Context, fld *colcache.Field) ([]colcache.RecordID, error) {
	return b.IDsFrom(ctx, fld, 0, 0)
}

// IDsFrom is the paged form of IDs: it returns at most limit IDs (all when
// limit <= 0), starting at from. Pass the last returned ID + 1 to continue.
func (b *Backend) IDsFrom(ctx context.Context, fld *colcache.Field, from colcache.RecordID, limit int) ([]colcache.RecordID, error) {
	var ids []colcache.RecordID
	err := b.view(func(tx storageTx) error {
		bkt := tx.Bucket(fld.Model().Name(), fld.Name())
		if bkt == nil {
			return nil
		}
		c := bkt.Cursor()
		start := binary.BigEndian.AppendUint64(nil, uint64(from))
		for k, _ := c.Seek(start); k != nil; k, _ = c.Next() {
			if limit > 0 && len(ids) >= limit {
				break
			}
			if len(k) != 8 {
				return dataErrf(k, 0, nil, "%v: invalid key", fld)
			}
			ids = append(ids, colcache.RecordID(binary.BigEndian.Uint64(k)))
		}
		return ctx.Err()
	})
	return ids, err
}

// Delete removes the stored values of a record for every field of model.
func (b *Backend) Delete(ctx context.Context, model *colcache.Model, id colcache.RecordID) error {
	return b.update(func(tx storageTx) error {
		key := binary.BigEndian.AppendUint64(nil, uint64(id))
		for _, fld := range model.Fields() {
			if bkt := tx.Bucket(model.Name(), fld.Name()); bkt != nil {
				if err := bkt.Delete(key); err != nil {
					return err
				}
			}
		}
		return ctx.Err()
	})
}

// Stats returns the number of stored keys per model, summed over its fields.
func (b *Backend) Stats() (map[string]int, error) {
	result := make(map[string]int)
	err := b.view(func(tx storageTx) error {
		for _, model := range b.schema.Models() {
			var n int
			for _, fld := range model.Fields() {
				if bkt := tx.Bucket(model.Name(), fld.Name()); bkt != nil {
					n += bkt.KeyCount()
				}
			}
			result[model.Name()] = n
		}
		return nil
	})
	return result, err
}

// StoredFingerprint returns the schema fingerprint recorded in the database.
func (b *Backend) StoredFingerprint() (uint64, error) {
	var fp uint64
	err := b.view(func(tx storageTx) error {
		if mb := tx.Bucket(metaBucket, ""); mb != nil {
			if raw := mb.Get([]byte(fingerprintKey)); len(raw) == 8 {
				fp = binary.BigEndian.Uint64(raw)
			}
		}
		return nil
	})
	return fp, err
}

func (b *Backend) view(f func(tx storageTx) error) error {
	if b.closed.Load() {
		return ErrClosed
	}
	tx, err := b.st.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

func (b *Backend) update(f func(tx storageTx) error) error {
	if b.closed.Load() {
		return ErrClosed
	}
	tx, err := b.st.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}
