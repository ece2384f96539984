// Package bcs writes and reads the canonical binary layout used for opaque
// persisted objects: ULEB128 lengths and variant tags, little-endian
// fixed-width integers, length-prefixed byte strings.
package bcs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

var ErrTruncated = errors.New("bcs: unexpected end of input")

// Writer accumulates canonical bytes. The zero value is ready to use.
type Writer struct {
	buf []byte
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Uleb128(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

func (w *Writer) U64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// Fixed appends b without a length prefix.
func (w *Writer) Fixed(b []byte) {
	w.buf = append(w.buf, b...)
}

// ByteString appends a length-prefixed byte string.
func (w *Writer) ByteString(b []byte) {
	w.Uleb128(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *Writer) String(s string) {
	w.ByteString([]byte(s))
}

// BigInt appends a non-negative integer as a length-prefixed big-endian
// magnitude.
func (w *Writer) BigInt(n *big.Int) error {
	if n.Sign() < 0 {
		return errors.New("bcs: negative integer")
	}
	w.ByteString(n.Bytes())
	return nil
}

// Reader consumes canonical bytes. Errors are sticky: after the first
// failure every read returns a zero value and Err reports the failure.
type Reader struct {
	buf []byte
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Err() error { return r.err }

// Done reports an error if reading failed or input remains.
func (r *Reader) Done() error {
	if r.err != nil {
		return r.err
	}
	if len(r.buf) != 0 {
		return fmt.Errorf("bcs: %d trailing bytes", len(r.buf))
	}
	return nil
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) Uleb128() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.fail(ErrTruncated)
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *Reader) U64() uint64 {
	b := r.Fixed(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Fixed reads exactly n bytes.
func (r *Reader) Fixed(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf) < n {
		r.fail(ErrTruncated)
		return nil
	}
	out := append([]byte(nil), r.buf[:n]...)
	r.buf = r.buf[n:]
	return out
}

func (r *Reader) ByteString() []byte {
	n := r.Uleb128()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.buf)) {
		r.fail(ErrTruncated)
		return nil
	}
	return r.Fixed(int(n))
}

func (r *Reader) String() string {
	return string(r.ByteString())
}
