package backend

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/colcache"
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3
	vfCompressionBit0

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfZstd          = vfCompressionBit0
	vfSupportedMask = (vfVer1 | vfZstd)
	vfDefault       = vfVer1

	minValueSize       = 3
	maxValueHeaderSize = binary.MaxVarintLen64 * 2
)

func (vf valueFlags) ver() valueFlags {
	return vf & vfVerMask
}

func (vf valueFlags) compressed() bool {
	return vf&vfZstd != 0
}

// value is one stored cell: header (flags, kind), then the msgpack payload,
// zstd-compressed when vfZstd is set.
type value struct {
	Flags valueFlags
	Kind  colcache.ValueKind
	Data  []byte
}

// codec encodes cell values. The zstd encoder and decoder are safe for
// concurrent EncodeAll/DecodeAll calls.
type codec struct {
	compressThreshold int
	zenc              *zstd.Encoder
	zdec              *zstd.Decoder
}

func newCodec(compressThreshold int) (*codec, error) {
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	zdec, err := zstd.NewReader(nil)
	if err != nil {
		zenc.Close()
		return nil, err
	}
	return &codec{compressThreshold, zenc, zdec}, nil
}

func (c *codec) Close() {
	c.zenc.Close()
	c.zdec.Close()
}

func (c *codec) encode(kind colcache.ValueKind, v any) ([]byte, error) {
	var bb bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}

	flags := vfDefault
	payload := bb.Bytes()
	if c.compressThreshold > 0 && len(payload) > c.compressThreshold {
		payload = c.zenc.EncodeAll(payload, nil)
		flags |= vfZstd
	}

	buf := make([]byte, 0, maxValueHeaderSize+len(payload))
	buf = binary.AppendUvarint(buf, uint64(flags))
	buf = binary.AppendUvarint(buf, uint64(kind))
	return append(buf, payload...), nil
}

func (vle *value) decode(data []byte) error {
	orig := data
	if len(data) < minValueSize {
		return dataErrf(orig, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}

	v, n := binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: bad flags")
	}
	if (v & ^uint64(vfSupportedMask)) != 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: unsupported flags %x", v)
	}
	vle.Flags, data = valueFlags(v), data[n:]
	if vle.Flags.ver() != vfVer1 {
		return dataErrf(orig, 0, nil, "invalid value: unsupported format version %d", vle.Flags.ver())
	}

	v, n = binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: bad kind")
	}
	vle.Kind, data = colcache.ValueKind(v), data[n:]
	vle.Data = data
	return nil
}

// decodeInto decodes a stored cell into a new value of typ.
func (c *codec) decodeInto(raw []byte, kind colcache.ValueKind, typ reflect.Type) (any, error) {
	var vle value
	if err := vle.decode(raw); err != nil {
		return nil, err
	}
	if vle.Kind != kind {
		return nil, dataErrf(raw, 0, ErrKindMismatch, "stored %v, field is %v", vle.Kind, kind)
	}
	payload := vle.Data
	if vle.Flags.compressed() {
		var err error
		payload, err = c.zdec.DecodeAll(payload, nil)
		if err != nil {
			return nil, dataErrf(raw, 0, err, "failed to decompress value")
		}
	}

	ptr := reflect.New(typ)
	var r bytes.Reader
	r.Reset(payload)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	err := dec.DecodeValue(ptr)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, dataErrf(payload, 0, err, "failed to decode msgpack into %v", typ)
	}
	return ptr.Elem().Interface(), nil
}
