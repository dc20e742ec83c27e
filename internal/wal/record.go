package wal

import (
	"encoding/binary"
	"fmt"
)

// Operation is the one-byte tag at the head of every record
type Operation byte

const (
	OpPut    Operation = 0
	OpDelete Operation = 1
)

func (op Operation) String() string {
	switch op {
	case OpPut:
		return "PUT"
	case OpDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("Operation(%d)", byte(op))
	}
}

func (op Operation) valid() bool {
	return op == OpPut || op == OpDelete
}

// Record represents a single log entry.
//
// Encoded layout, all lengths big-endian uint32:
//
//	tag(1) | key_len(4) | key | value_len(4) | value
//
// Delete records carry value_len = 0 and no value bytes.
type Record struct {
	Op    Operation
	Key   []byte
	Value []byte
}

const (
	tagSize    = 1
	lengthSize = 4

	// size of a record with empty key and value
	recordOverhead = tagSize + 2*lengthSize
)

// Size returns the encoded length of the record
func (r *Record) Size() int {
	n := recordOverhead + len(r.Key)
	if r.Op == OpPut {
		n += len(r.Value)
	}
	return n
}

// AppendEncoded appends the encoded record to buf and returns the result
func (r *Record) AppendEncoded(buf []byte) []byte {
	buf = append(buf, byte(r.Op))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.Key)))
	buf = append(buf, r.Key...)
	if r.Op == OpDelete {
		return binary.BigEndian.AppendUint32(buf, 0)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.Value)))
	return append(buf, r.Value...)
}

// Encode returns the encoded record
func (r *Record) Encode() []byte {
	return r.AppendEncoded(make([]byte, 0, r.Size()))
}
