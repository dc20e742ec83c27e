package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	kvErr "github.com/sajjad-MoBe/kvlog/internal/errors"
)

// Limits bounds the lengths a well-formed record may declare
type Limits struct {
	MaxKeySize   uint32
	MaxValueSize uint32
}

// ReplayResult describes what Replay found in the log
type ReplayResult struct {
	Records     int   // Number of well-formed records applied
	ValidOffset int64 // End offset of the last well-formed record
	TornBytes   int64 // Bytes of the incomplete trailing record, if any
}

// errTorn marks a record cut short by EOF
var errTorn = errors.New("torn record")

// Replay decodes records from r in order and hands each one to handler.
// A trailing record cut short by EOF is skipped and reported through
// TornBytes. A record that declares invalid fields is reported as
// ErrorTypeCorrupt together with its offset, as is a record whose lengths
// run past EOF while complete records can still be decoded behind it.
func Replay(r io.Reader, limits Limits, handler func(*Record) error) (ReplayResult, error) {
	var res ReplayResult
	dec := &decoder{r: bufio.NewReaderSize(r, 64*1024), limits: limits}

	for {
		dec.n = 0
		rec, err := dec.next()
		switch {
		case err == nil:
		case err == io.EOF:
			return res, nil
		case err == errTorn:
			if tail := dec.consumed(); hidesRecords(tail, limits) {
				return res, kvErr.Newf(kvErr.ErrorTypeCorrupt, nil,
					"bad record at offset %d: declared length runs past intact records to end of log", res.ValidOffset)
			}
			res.TornBytes = dec.n
			return res, nil
		case kvErr.IsCorrupt(err):
			return res, kvErr.Newf(kvErr.ErrorTypeCorrupt, err, "bad record at offset %d", res.ValidOffset)
		default:
			return res, kvErr.New(kvErr.ErrorTypeIO, "failed to read log", err)
		}

		if err := handler(rec); err != nil {
			return res, err
		}
		res.Records++
		res.ValidOffset += dec.n
	}
}

type decoder struct {
	r      *bufio.Reader
	limits Limits
	n      int64 // bytes consumed by the current record
	hdr    [recordOverhead]byte
	pieces [][]byte // bytes read for the current record, in file order
}

// next returns io.EOF at a clean record boundary, errTorn when EOF lands
// inside a record, a corrupt KVError for invalid fields, or a read error.
func (d *decoder) next() (*Record, error) {
	d.pieces = d.pieces[:0]
	tag, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}
	d.n++
	d.hdr[0] = tag
	d.pieces = append(d.pieces, d.hdr[:tagSize])

	op := Operation(tag)
	if !op.valid() {
		return nil, kvErr.Newf(kvErr.ErrorTypeCorrupt, nil, "unknown operation tag %d", tag)
	}

	keyLen, err := d.readLength(d.hdr[tagSize : tagSize+lengthSize])
	if err != nil {
		return nil, err
	}
	if keyLen == 0 {
		return nil, kvErr.New(kvErr.ErrorTypeCorrupt, "empty key", nil)
	}
	if keyLen > d.limits.MaxKeySize {
		return nil, kvErr.Newf(kvErr.ErrorTypeCorrupt, nil, "key length %d exceeds limit %d", keyLen, d.limits.MaxKeySize)
	}

	key, err := d.readBytes(keyLen)
	if err != nil {
		return nil, err
	}

	valueLen, err := d.readLength(d.hdr[tagSize+lengthSize:])
	if err != nil {
		return nil, err
	}
	if op == OpDelete {
		if valueLen != 0 {
			return nil, kvErr.Newf(kvErr.ErrorTypeCorrupt, nil, "delete record declares value length %d", valueLen)
		}
		return &Record{Op: op, Key: key}, nil
	}
	if valueLen > d.limits.MaxValueSize {
		return nil, kvErr.Newf(kvErr.ErrorTypeCorrupt, nil, "value length %d exceeds limit %d", valueLen, d.limits.MaxValueSize)
	}

	value, err := d.readBytes(valueLen)
	if err != nil {
		return nil, err
	}

	return &Record{Op: op, Key: key, Value: value}, nil
}

func (d *decoder) readLength(buf []byte) (uint32, error) {
	n, err := io.ReadFull(d.r, buf)
	d.n += int64(n)
	d.pieces = append(d.pieces, buf[:n])
	if err != nil {
		return 0, tornOr(err)
	}
	return binary.BigEndian.Uint32(buf), nil
}

func (d *decoder) readBytes(size uint32) ([]byte, error) {
	buf := make([]byte, size)
	n, err := io.ReadFull(d.r, buf)
	d.n += int64(n)
	d.pieces = append(d.pieces, buf[:n])
	if err != nil {
		return nil, tornOr(err)
	}
	return buf, nil
}

// consumed returns the raw bytes read for the current record
func (d *decoder) consumed() []byte {
	return bytes.Join(d.pieces, nil)
}

// hidesRecords reports whether some suffix of tail, starting past the
// smallest possible record, decodes as one or more records ending exactly
// at the end of tail. A crash only ever leaves a prefix of a single record,
// so such a tail means an interior length field was damaged.
func hidesRecords(tail []byte, limits Limits) bool {
	for start := recordOverhead + 1; start < len(tail); start++ {
		if decodesExactly(tail[start:], limits) {
			return true
		}
	}
	return false
}

// decodesExactly reports whether b is a non-empty run of well-formed records
func decodesExactly(b []byte, limits Limits) bool {
	if len(b) == 0 {
		return false
	}
	for len(b) > 0 {
		size, ok := encodedSize(b, limits)
		if !ok || size > int64(len(b)) {
			return false
		}
		b = b[size:]
	}
	return true
}

// encodedSize returns the size the record at the head of b declares, or
// false if its header is incomplete or invalid
func encodedSize(b []byte, limits Limits) (int64, bool) {
	if len(b) < tagSize+lengthSize || !Operation(b[0]).valid() {
		return 0, false
	}
	keyLen := binary.BigEndian.Uint32(b[tagSize:])
	if keyLen == 0 || keyLen > limits.MaxKeySize {
		return 0, false
	}
	off := int64(tagSize+lengthSize) + int64(keyLen)
	if int64(len(b)) < off+lengthSize {
		return 0, false
	}
	valueLen := binary.BigEndian.Uint32(b[off:])
	if Operation(b[0]) == OpDelete && valueLen != 0 {
		return 0, false
	}
	if valueLen > limits.MaxValueSize {
		return 0, false
	}
	return off + lengthSize + int64(valueLen), true
}

// tornOr maps a short read inside a record to errTorn
func tornOr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errTorn
	}
	return err
}
