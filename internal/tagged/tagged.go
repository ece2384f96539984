// Package tagged implements the JSON encoding used for everything the session
// module persists. Values that plain JSON cannot represent losslessly carry a
// "__type" discriminator:
//
//	{"__type":"bigint","value":"123"}
//	{"__type":"Uint8Array","value":[1,2,3]}
//	{"__type":"KeylessAccount","data":[...canonical bytes...]}
//
// The layout matches what the browser dashboard historically wrote to local
// storage, so values written by either side decode on the other.
package tagged

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
)

const (
	typeBigInt = "bigint"
	typeBytes  = "Uint8Array"
)

// ErrTypeMismatch is returned when a tagged value carries an unexpected __type.
var ErrTypeMismatch = errors.New("tagged: type mismatch")

type envelope struct {
	Type  string          `json:"__type"`
	Value json.RawMessage `json:"value,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func decodeEnvelope(data []byte, want string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("tagged: decoding %s: %w", want, err)
	}
	if env.Type != want {
		return env, fmt.Errorf("%w: want %q, got %q", ErrTypeMismatch, want, env.Type)
	}
	return env, nil
}

// BigInt is an arbitrary-precision integer. The zero value is 0.
type BigInt struct {
	n *big.Int
}

// NewBigInt copies n.
func NewBigInt(n *big.Int) BigInt {
	if n == nil {
		return BigInt{}
	}
	return BigInt{n: new(big.Int).Set(n)}
}

// Uint64 wraps u.
func Uint64(u uint64) BigInt {
	return BigInt{n: new(big.Int).SetUint64(u)}
}

// Int returns a copy of the value.
func (b BigInt) Int() *big.Int {
	if b.n == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.n)
}

// Uint64 returns the value and whether it fits in a uint64.
func (b BigInt) Uint64() (uint64, bool) {
	if b.n == nil {
		return 0, true
	}
	return b.n.Uint64(), b.n.IsUint64()
}

func (b BigInt) String() string {
	return b.Int().String()
}

// Equal compares numeric values.
func (b BigInt) Equal(o BigInt) bool {
	return b.Int().Cmp(o.Int()) == 0
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	value, err := json.Marshal(b.String())
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: typeBigInt, Value: value})
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	env, err := decodeEnvelope(data, typeBigInt)
	if err != nil {
		return err
	}
	var s string
	if err := json.Unmarshal(env.Value, &s); err != nil {
		return fmt.Errorf("tagged: bigint value must be a decimal string: %w", err)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("tagged: invalid bigint %q", s)
	}
	b.n = n
	return nil
}

// Bytes is a byte string encoded as an array of numbers rather than base64.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{Type: typeBytes, Value: byteArray(b)})
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	env, err := decodeEnvelope(data, typeBytes)
	if err != nil {
		return err
	}
	out, err := parseByteArray(env.Value)
	if err != nil {
		return err
	}
	*b = out
	return nil
}

// Codec is implemented by types stored as opaque canonical byte blobs.
type Codec interface {
	TypeName() string
	MarshalCanonical() ([]byte, error)
	UnmarshalCanonical([]byte) error
}

// MarshalOpaque encodes v as {"__type": v.TypeName(), "data": [...]}.
func MarshalOpaque(v Codec) ([]byte, error) {
	raw, err := v.MarshalCanonical()
	if err != nil {
		return nil, fmt.Errorf("tagged: encoding %s: %w", v.TypeName(), err)
	}
	return json.Marshal(envelope{Type: v.TypeName(), Data: byteArray(raw)})
}

// UnmarshalOpaque decodes data into v, which must be a pointer to a zero value.
func UnmarshalOpaque(data []byte, v Codec) error {
	env, err := decodeEnvelope(data, v.TypeName())
	if err != nil {
		return err
	}
	raw, err := parseByteArray(env.Data)
	if err != nil {
		return err
	}
	if err := v.UnmarshalCanonical(raw); err != nil {
		return fmt.Errorf("tagged: decoding %s: %w", v.TypeName(), err)
	}
	return nil
}

// byteArray renders b as a JSON array of integers. A nil slice renders as [].
func byteArray(b []byte) json.RawMessage {
	var buf bytes.Buffer
	buf.Grow(len(b)*4 + 2)
	buf.WriteByte('[')
	for i, c := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Itoa(int(c)))
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

func parseByteArray(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New("tagged: missing byte array")
	}
	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, fmt.Errorf("tagged: byte array: %w", err)
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("tagged: byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	return out, nil
}
